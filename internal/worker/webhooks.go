package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"signline/internal/domain"
	"signline/internal/logging"
)

// Event is the JSON body posted to webhook subscribers.
type Event struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	EnvelopeID  string          `json:"envelope_id"`
	SignerEmail string          `json:"signer_email,omitempty"`
	TS          string          `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
}

// Sign returns the X-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an X-Signature header against body.
func Verify(secret string, body []byte, header string) bool {
	sig := strings.TrimSpace(header)
	if sig == "" || secret == "" {
		return false
	}
	sig = strings.TrimPrefix(sig, "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (w *Worker) drainWebhooks(ctx context.Context, st *Stats) error {
	evts, err := w.repo.UndispatchedEvents(ctx, w.opts.Batch)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	if len(evts) == 0 {
		return nil
	}
	subs, err := w.repo.ListWebhooks(ctx, true)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	for _, evt := range evts {
		for _, sub := range subs {
			if evt.ID <= sub.AfterEventID || !sub.Accepts(evt.Type) {
				continue
			}
			claimed, err := w.repo.ClaimDelivery(ctx, sub.ID, evt.ID, w.now())
			if err != nil {
				return fmt.Errorf("claim delivery: %w", err)
			}
			if !claimed {
				continue
			}
			status, msg := domain.DeliveryCompleted, ""
			if err := w.post(ctx, sub, evt); err != nil {
				status, msg = domain.DeliveryFailed, err.Error()
				st.WebhooksFailed++
				w.logger.Warn("webhook delivery failed",
					logging.FieldSubscriptionID, sub.ID,
					logging.FieldEventType, evt.Type,
					logging.FieldEnvelopeID, evt.EnvelopeID,
					logging.FieldError, domain.NotificationError{Target: sub.URL, Err: err})
			} else {
				st.WebhooksOK++
			}
			if err := w.repo.FinishDelivery(ctx, sub.ID, evt.ID, status, msg); err != nil {
				return fmt.Errorf("record delivery: %w", err)
			}
		}
		if err := w.repo.MarkEventDispatched(ctx, evt.ID, w.now()); err != nil {
			return fmt.Errorf("mark event %d: %w", evt.ID, err)
		}
		st.EventsDispatched++
	}
	return nil
}

func (w *Worker) post(ctx context.Context, sub domain.WebhookSubscription, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	body, err := json.Marshal(Event{
		ID:          evt.ID,
		Type:        evt.Type,
		EnvelopeID:  evt.EnvelopeID,
		SignerEmail: evt.SignerEmail,
		TS:          evt.TS,
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "signline-webhooks")
	req.Header.Set("X-Event-Id", strconv.FormatInt(evt.ID, 10))
	req.Header.Set("X-Event-Type", evt.Type)
	req.Header.Set("X-Signature", Sign(sub.Secret, body))
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	return nil
}
