package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"signline/internal/assembly"
	"signline/internal/db"
	"signline/internal/domain"
	"signline/internal/lifecycle"
	"signline/internal/logging"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// DocumentInput is one page source: base64 PDF bytes or an HTML template.
type DocumentInput struct {
	Name    string
	Content string
	HTML    string
	FileID  string
}

type SignerInput struct {
	Name         string
	Email        string
	Action       string
	RoutingOrder int
	Tabs         json.RawMessage
}

type AssembleInput struct {
	Documents      []DocumentInput
	Signers        []SignerInput
	IsRoutingOrder bool
}

type EmailedSigner struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	TokenURL string `json:"token_url"`
}

type AssembleResult struct {
	EnvelopeID     string          `json:"envelope_id"`
	EmailedSigners []EmailedSigner `json:"emailed_signers"`
	Envelope       domain.Envelope `json:"-"`
}

type source struct {
	name   string
	fileID string
	pdf    []byte
	html   string
}

func (s source) isHTML() bool { return s.html != "" }

// Assemble validates the input, produces and stores every pre-signature
// artifact, persists the envelope and runs the first routing batch.
func (e Engine) Assemble(ctx context.Context, in AssembleInput) (AssembleResult, error) {
	sources, err := normalizeDocuments(in.Documents)
	if err != nil {
		return AssembleResult{}, err
	}
	signers, err := normalizeSigners(in.Signers)
	if err != nil {
		return AssembleResult{}, err
	}

	now := e.now()
	stamp := e.stamp()
	env := domain.Envelope{
		ID:             uuid.NewString(),
		DocumentStatus: domain.StatusPending,
		IsRoutingOrder: in.IsRoutingOrder,
		Signers:        signers,
		Version:        1,
		CreatedAt:      stamp,
		UpdatedAt:      stamp,
	}
	log := e.logger(ctx).With(logging.FieldEnvelopeID, env.ID)

	slots, arts, err := e.buildArtifacts(ctx, env.ID, sources)
	if err != nil {
		return AssembleResult{}, err
	}
	keys, err := e.putArtifacts(ctx, arts)
	if err != nil {
		return AssembleResult{}, err
	}
	env.Files = slots
	env.PDF = keys[len(keys)-1]

	iss := e.issuer()
	for i := range env.Signers {
		tok, err := iss.Issue(domain.RecipientClaims{EnvelopeID: env.ID, Email: env.Signers[i].Email, SignerIndex: i})
		if err != nil {
			e.discard(ctx, keys)
			return AssembleResult{}, fmt.Errorf("issue token: %w", err)
		}
		env.Signers[i].TokenURL = e.SigningLink(tok)
	}

	res, err := lifecycle.Dispatch(env, now)
	if err != nil {
		e.discard(ctx, keys)
		return AssembleResult{}, err
	}
	err = db.RetryOnBusy(ctx, busyAttempts, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stored := res.Envelope
		stored.Version = 1
		if err := e.Repo.InsertEnvelope(ctx, tx, stored); err != nil {
			return err
		}
		if err := e.applyEffects(ctx, tx, res); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		e.discard(ctx, keys)
		return AssembleResult{}, err
	}
	e.wake()

	out := AssembleResult{EnvelopeID: env.ID, Envelope: res.Envelope}
	out.Envelope.Version = 1
	for _, eff := range res.Notifications() {
		s := res.Envelope.Signers[eff.SignerIndex]
		out.EmailedSigners = append(out.EmailedSigners, EmailedSigner{Email: s.Email, Name: s.Name, TokenURL: s.TokenURL})
	}
	log.Info("envelope assembled", "documents", len(env.Files), "signers", len(env.Signers), "notified", len(out.EmailedSigners))
	return out, nil
}

// buildArtifacts renders and merges everything before a single byte is stored.
// The merged document is always the last artifact.
func (e Engine) buildArtifacts(ctx context.Context, envelopeID string, sources []source) ([]domain.DocumentSlot, []artifact, error) {
	asm := e.Assembler
	var (
		slots     []domain.DocumentSlot
		arts      []artifact
		pages     [][]byte
		templates []string
	)
	allHTML := true
	for i, src := range sources {
		pdf := src.pdf
		role := fmt.Sprintf("original-%d", i+1)
		var original artifact
		if src.isHTML() {
			rendered, err := asm.RenderHTML(ctx, src.html)
			if err != nil {
				return nil, nil, err
			}
			pdf = rendered
			templates = append(templates, src.html)
			original = e.newTypedArtifact(domain.PrefixOriginals, role, "html", "text/html", []byte(src.html))
		} else {
			allHTML = false
			original = e.newArtifact(domain.PrefixOriginals, role, pdf)
		}
		template := e.newArtifact(domain.PrefixUnsigned, fmt.Sprintf("pdf-%d", i+1), asm.StampHeader(pdf, envelopeID))
		arts = append(arts, original, template)
		pages = append(pages, pdf)
		slots = append(slots, domain.DocumentSlot{
			Filename:    src.name,
			StoredName:  original.key,
			TemplatePDF: template.key,
			Mimetype:    original.contentType,
			FileID:      src.fileID,
		})
	}

	var merged []byte
	var err error
	if allHTML && len(templates) > 1 {
		var combined []byte
		combined, err = asm.RenderTemplates(ctx, templates)
		if err == nil {
			merged = asm.StampHeader(combined, envelopeID)
		}
	} else {
		merged, err = asm.Composite(pages, envelopeID)
	}
	if err != nil {
		return nil, nil, err
	}
	arts = append(arts, e.newArtifact(domain.PrefixUnsigned, "merged", merged))
	return slots, arts, nil
}

func normalizeDocuments(in []DocumentInput) ([]source, error) {
	if len(in) == 0 {
		return nil, domain.ValidationError{Field: "documents", Reason: "at least one document is required"}
	}
	out := make([]source, 0, len(in))
	for i, d := range in {
		name := cleanText(d.Name)
		if name == "" {
			name = fmt.Sprintf("Document-%d", i+1)
		}
		src := source{name: name, fileID: strings.TrimSpace(d.FileID)}
		switch {
		case strings.TrimSpace(d.HTML) != "":
			src.html = d.HTML
		case strings.TrimSpace(d.Content) != "":
			data, err := assembly.DecodeBase64(d.Content)
			if err != nil {
				return nil, domain.ValidationError{Field: fmt.Sprintf("documents[%d].content", i), Reason: "content is not valid base64"}
			}
			if !assembly.IsPDF(data) {
				return nil, domain.ValidationError{Field: fmt.Sprintf("documents[%d].content", i), Reason: "content is not a PDF"}
			}
			src.pdf = data
		default:
			return nil, domain.ValidationError{Field: fmt.Sprintf("documents[%d]", i), Reason: "content or html is required"}
		}
		out = append(out, src)
	}
	return out, nil
}

func normalizeSigners(in []SignerInput) ([]domain.Signer, error) {
	if len(in) == 0 {
		return nil, domain.ValidationError{Field: "signers", Reason: "at least one signer is required"}
	}
	seen := make(map[string]int, len(in))
	out := make([]domain.Signer, 0, len(in))
	for i, s := range in {
		field := fmt.Sprintf("signers[%d]", i)
		email := strings.ToLower(strings.TrimSpace(s.Email))
		if !emailPattern.MatchString(email) {
			return nil, domain.ValidationError{Field: field + ".email", Reason: fmt.Sprintf("%q is not a valid email", s.Email)}
		}
		if prev, ok := seen[email]; ok {
			return nil, domain.ValidationError{Field: field + ".email", Reason: fmt.Sprintf("%s already used by signers[%d]", email, prev)}
		}
		seen[email] = i
		action, ok := domain.ParseAction(s.Action)
		if !ok {
			return nil, domain.ValidationError{Field: field + ".is_action", Reason: fmt.Sprintf("unknown action %q", s.Action)}
		}
		if s.RoutingOrder < 0 {
			return nil, domain.ValidationError{Field: field + ".routing_order", Reason: "must not be negative"}
		}
		var tabs string
		if len(s.Tabs) > 0 && string(s.Tabs) != "null" {
			if !json.Valid(s.Tabs) {
				return nil, domain.ValidationError{Field: field + ".tabs", Reason: "must be valid JSON"}
			}
			tabs = string(s.Tabs)
		}
		out = append(out, domain.Signer{
			Email:        email,
			Name:         cleanText(s.Name),
			Action:       action,
			RoutingOrder: s.RoutingOrder,
			Status:       domain.StatusPending,
			TabsJSON:     tabs,
		})
	}
	return out, nil
}

// cleanText trims and NFC-normalizes user supplied display text.
func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
