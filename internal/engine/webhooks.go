package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	"signline/internal/db"
	"signline/internal/domain"
)

// WebhookRegistration returns the signing secret once, at creation.
type WebhookRegistration struct {
	Subscription domain.WebhookSubscription `json:"subscription"`
	Secret       string                     `json:"secret"`
}

// RegisterWebhook subscribes url to events. Only events recorded after
// registration are delivered.
func (e Engine) RegisterWebhook(ctx context.Context, rawURL string, evts []string) (WebhookRegistration, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return WebhookRegistration{}, domain.ValidationError{Field: "url", Reason: "must be an absolute http or https URL"}
	}
	known := make([]string, 0, len(domain.EventTypes))
	for _, t := range domain.EventTypes {
		known = append(known, string(t))
	}
	filter := []string{}
	for _, evt := range evts {
		evt = strings.TrimSpace(evt)
		if evt == "" {
			continue
		}
		if !slices.Contains(known, evt) {
			return WebhookRegistration{}, domain.ValidationError{Field: "events", Reason: fmt.Sprintf("unknown event %q", evt)}
		}
		if !slices.Contains(filter, evt) {
			filter = append(filter, evt)
		}
	}
	secret, err := newSecret()
	if err != nil {
		return WebhookRegistration{}, err
	}
	sub := domain.WebhookSubscription{
		ID:        uuid.NewString(),
		URL:       u.String(),
		Events:    filter,
		Secret:    secret,
		Active:    true,
		CreatedAt: e.stamp(),
	}
	err = db.RetryOnBusy(ctx, busyAttempts, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if sub.AfterEventID, err = e.Repo.LatestEventID(ctx, tx); err != nil {
			return err
		}
		if err := e.Repo.InsertWebhook(ctx, tx, sub); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return WebhookRegistration{}, err
	}
	return WebhookRegistration{Subscription: sub, Secret: secret}, nil
}

func (e Engine) ListWebhooks(ctx context.Context) ([]domain.WebhookSubscription, error) {
	return e.Repo.ListWebhooks(ctx, false)
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
