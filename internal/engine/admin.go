package engine

import (
	"context"
	"database/sql"
	"fmt"

	"signline/internal/domain"
	"signline/internal/lifecycle"
	"signline/internal/logging"
	"signline/internal/repo"
)

// Cancel forces the envelope to avoided. Cancelling again changes nothing.
func (e Engine) Cancel(ctx context.Context, id string) (domain.Envelope, error) {
	res, err := e.mutate(ctx, id, func(env domain.Envelope) (lifecycle.Result, error) {
		return lifecycle.Cancel(env, e.now()), nil
	}, e.withdrawNotifications)
	if err != nil {
		return domain.Envelope{}, err
	}
	if res.Changed {
		e.logger(ctx).Info("envelope cancelled", logging.FieldEnvelopeID, id)
	}
	return res.Envelope, nil
}

// withdrawNotifications cancels queued messages for a cancelled envelope in the
// transaction that cancels it.
func (e Engine) withdrawNotifications(ctx context.Context, tx *sql.Tx, res lifecycle.Result) error {
	n, err := e.Repo.CancelPendingNotifications(ctx, tx, res.Envelope.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger(ctx).Debug("queued notifications withdrawn", logging.FieldEnvelopeID, res.Envelope.ID, "count", n)
	}
	return nil
}

type ResendResult struct {
	Envelope domain.Envelope `json:"-"`
	Notified []string        `json:"notified"`
}

// Resend notifies every signer that has not completed, ignoring routing order.
func (e Engine) Resend(ctx context.Context, id string) (ResendResult, error) {
	res, err := e.mutate(ctx, id, func(env domain.Envelope) (lifecycle.Result, error) {
		return lifecycle.Resend(env, e.now())
	}, nil)
	if err != nil {
		return ResendResult{}, err
	}
	out := ResendResult{Envelope: res.Envelope, Notified: []string{}}
	for _, eff := range res.Notifications() {
		out.Notified = append(out.Notified, eff.SignerEmail)
	}
	e.logger(ctx).Info("envelope resent", logging.FieldEnvelopeID, id, "notified", len(out.Notified))
	return out, nil
}

type ArtifactLinks struct {
	Name        string `json:"name"`
	OriginalURL string `json:"original_url"`
	TemplateURL string `json:"template_url"`
	SignedURL   string `json:"signed_url,omitempty"`
}

type Details struct {
	Envelope      domain.Envelope           `json:"envelope"`
	PDFURL        string                    `json:"pdf_url"`
	SignedPDFURL  string                    `json:"signed_pdf_url,omitempty"`
	Documents     []ArtifactLinks           `json:"documents"`
	Events        []domain.Event            `json:"events"`
	Notifications []domain.NotificationTask `json:"notifications"`
}

// Details returns the envelope with public artifact URLs and its history.
func (e Engine) Details(ctx context.Context, id string) (Details, error) {
	env, err := e.loadEnvelope(ctx, nil, id)
	if err != nil {
		return Details{}, err
	}
	evts, err := e.Repo.ListEnvelopeEvents(ctx, id)
	if err != nil {
		return Details{}, err
	}
	tasks, err := e.Repo.ListNotifications(ctx, id)
	if err != nil {
		return Details{}, err
	}
	d := Details{
		Envelope:      env,
		PDFURL:        e.URL(env.PDF),
		SignedPDFURL:  e.URL(env.SignedPDF),
		Events:        evts,
		Notifications: tasks,
	}
	for _, f := range env.Files {
		links := ArtifactLinks{Name: f.Filename, OriginalURL: e.URL(f.StoredName), TemplateURL: e.URL(f.TemplatePDF)}
		if f.SignedTemplatePDF != nil {
			links.SignedURL = e.URL(*f.SignedTemplatePDF)
		}
		d.Documents = append(d.Documents, links)
	}
	return d, nil
}

func (e Engine) List(ctx context.Context, f repo.EnvelopeFilters) ([]domain.Envelope, error) {
	return e.Repo.ListEnvelopes(ctx, f)
}

// IssueToken mints a fresh capability link for a signer of an envelope.
func (e Engine) IssueToken(ctx context.Context, envelopeID, email string) (string, error) {
	env, err := e.loadEnvelope(ctx, nil, envelopeID)
	if err != nil {
		return "", err
	}
	idx := env.SignerByEmail(email)
	if idx < 0 {
		return "", domain.NotFoundError{Kind: "signer", ID: email}
	}
	tok, err := e.issuer().Issue(domain.RecipientClaims{EnvelopeID: env.ID, Email: env.Signers[idx].Email, SignerIndex: idx})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}
