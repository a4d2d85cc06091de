package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"signline/internal/domain"
)

const subscriptionColumns = `id,url,events_json,secret,active,after_event_id,created_at`

func (r Repo) InsertWebhook(ctx context.Context, tx *sql.Tx, sub domain.WebhookSubscription) error {
	events := sub.Events
	if events == nil {
		events = []string{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal webhook events: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO webhook_subscriptions(`+subscriptionColumns+`) VALUES (?,?,?,?,?,?,?)`,
		sub.ID, sub.URL, string(data), sub.Secret, boolInt(sub.Active), sub.AfterEventID, sub.CreatedAt)
	return err
}

// ListWebhooks returns subscriptions in registration order.
func (r Repo) ListWebhooks(ctx context.Context, activeOnly bool) ([]domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WebhookSubscription
	for rows.Next() {
		var sub domain.WebhookSubscription
		var eventsJSON string
		var active int
		if err := rows.Scan(&sub.ID, &sub.URL, &eventsJSON, &sub.Secret, &active, &sub.AfterEventID, &sub.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(eventsJSON), &sub.Events); err != nil {
			return nil, fmt.Errorf("webhook %s events: %w", sub.ID, err)
		}
		sub.Active = active != 0
		res = append(res, sub)
	}
	return res, rows.Err()
}

func (r Repo) SetWebhookActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE webhook_subscriptions SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimDelivery reserves the single attempt for a subscription and event. It
// reports false when the pair was already claimed.
func (r Repo) ClaimDelivery(ctx context.Context, subscriptionID string, eventID int64, at string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_deliveries(subscription_id,event_id,status,attempted_at) VALUES (?,?,?,?) ON CONFLICT DO NOTHING`,
		subscriptionID, eventID, domain.DeliveryPending, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) FinishDelivery(ctx context.Context, subscriptionID string, eventID int64, status, errMsg string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE webhook_deliveries SET status=?,error=? WHERE subscription_id=? AND event_id=?`,
		status, nullable(errMsg), subscriptionID, eventID)
	return err
}

func (r Repo) ListDeliveries(ctx context.Context, subscriptionID string) ([]domain.WebhookDelivery, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT subscription_id,event_id,status,COALESCE(error,''),attempted_at FROM webhook_deliveries WHERE subscription_id=? ORDER BY event_id`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WebhookDelivery
	for rows.Next() {
		var d domain.WebhookDelivery
		if err := rows.Scan(&d.SubscriptionID, &d.EventID, &d.Status, &d.Error, &d.AttemptedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
