package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"signline/internal/assembly"
	"signline/internal/config"
	"signline/internal/db"
	"signline/internal/domain"
	"signline/internal/events"
	"signline/internal/lifecycle"
	"signline/internal/logging"
	"signline/internal/repo"
	"signline/internal/storage"
	"signline/internal/token"
)

const busyAttempts = 5

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Config    *config.Config
	Store     storage.Store
	Assembler *assembly.Assembler
	Tokens    token.Issuer
	Namer     *storage.Namer
	Logger    *slog.Logger
	Now       func() time.Time
	// Wake nudges the delivery worker after a commit that queued work.
	Wake func()
}

func New(conn *sql.DB, cfg *config.Config, store storage.Store, asm *assembly.Assembler, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		DB:        conn,
		Repo:      repo.Repo{DB: conn},
		Config:    cfg,
		Store:     store,
		Assembler: asm,
		Tokens: token.Issuer{
			Secret: cfg.Signing.TokenSecret,
			TTL:    cfg.Signing.TokenTTL.Std(),
		},
		Namer:  &storage.Namer{},
		Logger: logger.With(logging.FieldComponent, "engine"),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, e.Logger)
}

func (e Engine) issuer() token.Issuer {
	iss := e.Tokens
	if iss.Now == nil {
		iss.Now = e.now
	}
	return iss
}

func (e Engine) namer() *storage.Namer {
	if e.Namer != nil {
		return e.Namer
	}
	return &storage.Namer{Now: e.now}
}

func (e Engine) maxRetries() int {
	if e.Config == nil || e.Config.Engine.MaxRetries <= 0 {
		return 5
	}
	return e.Config.Engine.MaxRetries
}

func (e Engine) wake() {
	if e.Wake != nil {
		e.Wake()
	}
}

// VerifyToken checks a capability token against the configured secret.
func (e Engine) VerifyToken(raw string) (domain.RecipientClaims, error) {
	return e.issuer().Verify(raw)
}

// SigningLink is the recipient-facing URL carrying a capability token.
func (e Engine) SigningLink(tok string) string {
	base := "http://localhost:5173"
	if e.Config != nil && e.Config.Signing.WebURL != "" {
		base = e.Config.Signing.WebURL
	}
	return strings.TrimRight(base, "/") + "/documents?token=" + tok
}

// URL maps a stored artifact key to its public URL. Empty keys stay empty.
func (e Engine) URL(key string) string {
	if key == "" || e.Store == nil {
		return ""
	}
	return e.Store.URL(key)
}

func (e Engine) loadEnvelope(ctx context.Context, tx *sql.Tx, id string) (domain.Envelope, error) {
	env, err := e.Repo.GetEnvelope(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Envelope{}, domain.NotFoundError{Kind: "envelope", ID: id}
	}
	return env, err
}

// transition computes a lifecycle result from a freshly loaded snapshot.
type transition func(env domain.Envelope) (lifecycle.Result, error)

// sideWrite runs inside the transaction after the envelope row is saved.
type sideWrite func(ctx context.Context, tx *sql.Tx, res lifecycle.Result) error

// mutate serializes a read, a pure transition and a conditional write of one
// envelope. Events and notification tasks commit with the new snapshot. A
// version conflict reruns the whole step with a fresh snapshot.
func (e Engine) mutate(ctx context.Context, id string, fn transition, extra sideWrite) (lifecycle.Result, error) {
	retries := e.maxRetries()
	for attempt := 0; ; attempt++ {
		var res lifecycle.Result
		err := db.RetryOnBusy(ctx, busyAttempts, func() error {
			var err error
			res, err = e.mutateOnce(ctx, id, fn, extra)
			return err
		})
		if errors.Is(err, repo.ErrVersionConflict) && attempt < retries {
			e.logger(ctx).Debug("envelope version conflict; retrying", logging.FieldEnvelopeID, id, "attempt", attempt+1)
			continue
		}
		if errors.Is(err, repo.ErrVersionConflict) {
			return lifecycle.Result{}, domain.ConflictError{Reason: "envelope is being modified concurrently; retry"}
		}
		if err != nil {
			return lifecycle.Result{}, err
		}
		if len(res.Effects) > 0 {
			e.wake()
		}
		return res, nil
	}
}

func (e Engine) mutateOnce(ctx context.Context, id string, fn transition, extra sideWrite) (lifecycle.Result, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.Result{}, err
	}
	defer tx.Rollback()

	env, err := e.loadEnvelope(ctx, tx, id)
	if err != nil {
		return lifecycle.Result{}, err
	}
	res, err := fn(env)
	if err != nil {
		return lifecycle.Result{}, err
	}
	if !res.Changed && len(res.Effects) == 0 {
		return res, nil
	}
	version, err := e.Repo.SaveEnvelope(ctx, tx, res.Envelope)
	if err != nil {
		return lifecycle.Result{}, err
	}
	res.Envelope.Version = version
	if err := e.applyEffects(ctx, tx, res); err != nil {
		return lifecycle.Result{}, err
	}
	if extra != nil {
		if err := extra(ctx, tx, res); err != nil {
			return lifecycle.Result{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return lifecycle.Result{}, err
	}
	return res, nil
}

// applyEffects queues notifications and appends events for a committed result.
func (e Engine) applyEffects(ctx context.Context, tx *sql.Tx, res lifecycle.Result) error {
	env := res.Envelope
	writer := events.Writer{Now: e.now}
	for _, eff := range res.Effects {
		switch eff.Kind {
		case lifecycle.EffectNotify:
			s := env.Signers[eff.SignerIndex]
			if _, err := e.Repo.EnqueueNotification(ctx, tx, domain.NotificationTask{
				EnvelopeID:   env.ID,
				SignerIndex:  eff.SignerIndex,
				Email:        s.Email,
				Name:         s.Name,
				Kind:         eff.Message,
				Link:         s.TokenURL,
				DocumentName: env.DocumentName(),
				CreatedAt:    e.stamp(),
			}); err != nil {
				return err
			}
		case lifecycle.EffectEmit:
			if _, err := writer.Append(ctx, tx, eff.Event, env.ID, eff.SignerEmail, e.eventPayload(env)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown effect kind %d", eff.Kind)
		}
	}
	return nil
}

func (e Engine) eventPayload(env domain.Envelope) events.Payload {
	signers := make([]map[string]any, 0, len(env.Signers))
	for _, s := range env.Signers {
		signers = append(signers, map[string]any{
			"email":         s.Email,
			"name":          s.Name,
			"is_action":     s.Action,
			"routing_order": s.RoutingOrder,
			"status":        s.Status,
		})
	}
	payload := events.Payload{
		"envelope_id":     env.ID,
		"document_status": env.DocumentStatus,
		"document_name":   env.DocumentName(),
		"signers":         signers,
	}
	if env.PDF != "" {
		payload["pdf_url"] = e.URL(env.PDF)
	}
	if env.SignedPDF != "" {
		payload["signed_pdf_url"] = e.URL(env.SignedPDF)
	}
	return payload
}

// putArtifacts stores artifacts in order and returns the written keys. On
// failure the keys written so far are removed.
func (e Engine) putArtifacts(ctx context.Context, arts []artifact) ([]string, error) {
	keys := make([]string, 0, len(arts))
	for _, a := range arts {
		if err := e.Store.Put(ctx, a.key, a.data, a.contentType); err != nil {
			e.discard(ctx, keys)
			return nil, domain.AssemblyError{Op: "store", Err: err}
		}
		keys = append(keys, a.key)
	}
	return keys, nil
}

// discard deletes artifacts that will never be referenced. Failures are logged.
func (e Engine) discard(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := e.Store.Delete(ctx, k); err != nil {
			e.logger(ctx).Warn("artifact cleanup failed", "key", k, logging.FieldError, err)
		}
	}
}

type artifact struct {
	key         string
	data        []byte
	contentType string
}

func (e Engine) newArtifact(prefix domain.ArtifactPrefix, role string, data []byte) artifact {
	return e.newTypedArtifact(prefix, role, "pdf", "application/pdf", data)
}

// newTypedArtifact names an artifact from the engine clock so an injected Now
// reaches stored keys.
func (e Engine) newTypedArtifact(prefix domain.ArtifactPrefix, role, ext, contentType string, data []byte) artifact {
	return artifact{
		key:         storage.Key(prefix, e.namer().NameAt(e.now(), role, ext)),
		data:        data,
		contentType: contentType,
	}
}

// resolveSigner checks verified token claims against the stored envelope.
func resolveSigner(env domain.Envelope, claims domain.RecipientClaims) (int, error) {
	idx := claims.SignerIndex
	if idx < 0 || idx >= len(env.Signers) || env.Signers[idx].Email != strings.ToLower(strings.TrimSpace(claims.Email)) {
		return -1, domain.NotFoundError{Kind: "signer", ID: claims.Email}
	}
	return idx, nil
}
