package repo

import (
	"context"
	"database/sql"

	"signline/internal/domain"
)

const eventColumns = `id,ts,type,envelope_id,COALESCE(signer_email,''),payload_json,dispatched_at`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var dispatched sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EnvelopeID, &e.SignerEmail, &e.Payload, &dispatched); err != nil {
			return nil, err
		}
		e.DispatchedAt = stringPtr(dispatched)
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListEnvelopeEvents returns the events of one envelope in emission order.
func (r Repo) ListEnvelopeEvents(ctx context.Context, envelopeID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE envelope_id=? ORDER BY id`, envelopeID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// UndispatchedEvents returns events no webhook pass has finished yet, oldest first.
func (r Repo) UndispatchedEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE dispatched_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) MarkEventDispatched(ctx context.Context, id int64, at string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE events SET dispatched_at=? WHERE id=? AND dispatched_at IS NULL`, at, id)
	return err
}

func (r Repo) LatestEventID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var id sql.NullInt64
	if err := r.q(tx).QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}
