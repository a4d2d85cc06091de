package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"signline/internal/assembly"
	"signline/internal/domain"
	"signline/internal/lifecycle"
	"signline/internal/logging"
	"signline/internal/repo"
)

type DocumentView struct {
	Name      string `json:"name"`
	FileID    string `json:"file_id,omitempty"`
	Mimetype  string `json:"mimetype"`
	URL       string `json:"url"`
	SignedURL string `json:"signed_url,omitempty"`
}

// SigningView is what a recipient sees when opening their link.
type SigningView struct {
	Envelope     domain.Envelope   `json:"-"`
	EnvelopeID   string            `json:"envelope_id"`
	Status       domain.Status     `json:"document_status"`
	SignerIndex  int               `json:"signer_index"`
	Signer       domain.Signer     `json:"signer"`
	Documents    []DocumentView    `json:"documents"`
	PDFURL       string            `json:"pdf_url"`
	SignedPDFURL string            `json:"signed_pdf_url,omitempty"`
	Signature    *domain.Signature `json:"signature,omitempty"`
}

func (e Engine) documentViews(env domain.Envelope) []DocumentView {
	out := make([]DocumentView, 0, len(env.Files))
	for _, f := range env.Files {
		v := DocumentView{Name: f.Filename, FileID: f.FileID, Mimetype: f.Mimetype, URL: e.URL(f.TemplatePDF)}
		if f.SignedTemplatePDF != nil {
			v.SignedURL = e.URL(*f.SignedTemplatePDF)
		}
		out = append(out, v)
	}
	return out
}

// FetchByToken resolves the recipient and applies the first-open transition.
// Cancelled envelopes are returned as they are.
func (e Engine) FetchByToken(ctx context.Context, claims domain.RecipientClaims) (SigningView, error) {
	var idx int
	res, err := e.mutate(ctx, claims.EnvelopeID, func(env domain.Envelope) (lifecycle.Result, error) {
		var err error
		if idx, err = resolveSigner(env, claims); err != nil {
			return lifecycle.Result{}, err
		}
		return lifecycle.Open(env, idx, e.now())
	}, nil)
	if err != nil {
		return SigningView{}, err
	}
	env := res.Envelope
	view := SigningView{
		Envelope:     env,
		EnvelopeID:   env.ID,
		Status:       env.DocumentStatus,
		SignerIndex:  idx,
		Signer:       env.Signers[idx],
		Documents:    e.documentViews(env),
		PDFURL:       e.URL(env.PDF),
		SignedPDFURL: e.URL(env.SignedPDF),
	}
	sig, err := e.Repo.GetSignature(ctx, env.Signers[idx].Email)
	switch {
	case err == nil:
		view.Signature = &sig
	case !errors.Is(err, repo.ErrNotFound):
		return SigningView{}, err
	}
	return view, nil
}

// ExecuteInput carries the recipient's signed documents, one per envelope
// document in order, plus capture metadata.
type ExecuteInput struct {
	Documents []string
	Signature string
	Location  json.RawMessage
	IPAddress string
}

type ExecuteResult struct {
	Envelope     domain.Envelope `json:"-"`
	EnvelopeID   string          `json:"envelope_id"`
	Status       domain.Status   `json:"document_status"`
	SignerStatus domain.Status   `json:"signer_status"`
	SignedPDFURL string          `json:"signed_pdf_url"`
	SignedURLs   []string        `json:"signed_urls"`
}

// Execute stores the signed artifacts and completes the signer. Artifacts are
// durable before the transition commits and are removed if it does not.
func (e Engine) Execute(ctx context.Context, claims domain.RecipientClaims, in ExecuteInput) (ExecuteResult, error) {
	docs, err := decodeSigned(in.Documents)
	if err != nil {
		return ExecuteResult{}, err
	}
	var location string
	if len(in.Location) > 0 && string(in.Location) != "null" {
		if !json.Valid(in.Location) {
			return ExecuteResult{}, domain.ValidationError{Field: "location", Reason: "must be valid JSON"}
		}
		location = string(in.Location)
	}

	env, err := e.loadEnvelope(ctx, nil, claims.EnvelopeID)
	if err != nil {
		return ExecuteResult{}, err
	}
	idx, err := resolveSigner(env, claims)
	if err != nil {
		return ExecuteResult{}, err
	}
	if err := lifecycle.CanExecute(env, idx); err != nil {
		return ExecuteResult{}, err
	}
	if len(docs) != len(env.Files) {
		return ExecuteResult{}, domain.ValidationError{
			Field:  "documents",
			Reason: fmt.Sprintf("expected %d signed documents, got %d", len(env.Files), len(docs)),
		}
	}

	merged, err := e.Assembler.Composite(docs, env.ID)
	if err != nil {
		return ExecuteResult{}, err
	}
	arts := make([]artifact, 0, len(docs)+1)
	for i, d := range docs {
		arts = append(arts, e.newArtifact(domain.PrefixSigned, fmt.Sprintf("signed-template-%d", i+1), d))
	}
	arts = append(arts, e.newArtifact(domain.PrefixSigned, "merged-signed", merged))
	keys, err := e.putArtifacts(ctx, arts)
	if err != nil {
		return ExecuteResult{}, err
	}
	mergedKey := keys[len(keys)-1]
	capture := lifecycle.Capture{
		SignedTemplates: keys[:len(keys)-1],
		SignedPDF:       mergedKey,
		SignedURL:       e.URL(mergedKey),
		LocationJSON:    location,
		IPAddress:       strings.TrimSpace(in.IPAddress),
	}
	email := env.Signers[idx].Email

	res, err := e.mutate(ctx, env.ID, func(cur domain.Envelope) (lifecycle.Result, error) {
		if _, err := resolveSigner(cur, claims); err != nil {
			return lifecycle.Result{}, err
		}
		return lifecycle.Execute(cur, idx, capture, e.now())
	}, func(ctx context.Context, tx *sql.Tx, _ lifecycle.Result) error {
		if strings.TrimSpace(in.Signature) == "" {
			return nil
		}
		return e.Repo.UpsertSignature(ctx, tx, domain.Signature{Email: email, Signature: in.Signature, UpdatedAt: e.stamp()})
	})
	if err != nil {
		e.discard(ctx, keys)
		return ExecuteResult{}, err
	}

	out := ExecuteResult{
		Envelope:     res.Envelope,
		EnvelopeID:   res.Envelope.ID,
		Status:       res.Envelope.DocumentStatus,
		SignerStatus: res.Envelope.Signers[idx].Status,
		SignedPDFURL: capture.SignedURL,
	}
	for _, k := range capture.SignedTemplates {
		out.SignedURLs = append(out.SignedURLs, e.URL(k))
	}
	e.logger(ctx).Info("signer executed",
		logging.FieldEnvelopeID, env.ID,
		logging.FieldSignerEmail, email,
		"document_status", string(out.Status))
	return out, nil
}

// decodeSigned rejects the whole batch when any document is not a PDF and
// reports every offending index.
func decodeSigned(in []string) ([][]byte, error) {
	if len(in) == 0 {
		return nil, domain.ValidationError{Field: "documents", Reason: "at least one signed document is required"}
	}
	out := make([][]byte, len(in))
	var invalid []int
	for i, raw := range in {
		data, err := assembly.DecodeBase64(raw)
		if err != nil || !assembly.IsPDF(data) {
			invalid = append(invalid, i)
			continue
		}
		out[i] = data
	}
	if len(invalid) > 0 {
		return nil, domain.ValidationError{
			Field:   "documents",
			Reason:  "every signed document must be a base64 PDF",
			Details: map[string]any{"invalid_indexes": invalid},
		}
	}
	return out, nil
}

// CancelByToken lets a recipient decline, which cancels the whole envelope.
func (e Engine) CancelByToken(ctx context.Context, claims domain.RecipientClaims) (domain.Envelope, error) {
	res, err := e.mutate(ctx, claims.EnvelopeID, func(env domain.Envelope) (lifecycle.Result, error) {
		if _, err := resolveSigner(env, claims); err != nil {
			return lifecycle.Result{}, err
		}
		return lifecycle.Cancel(env, e.now()), nil
	}, e.withdrawNotifications)
	if err != nil {
		return domain.Envelope{}, err
	}
	if res.Changed {
		e.logger(ctx).Info("envelope declined", logging.FieldEnvelopeID, claims.EnvelopeID, logging.FieldSignerEmail, claims.Email)
	}
	return res.Envelope, nil
}
