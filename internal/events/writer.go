package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signline/internal/domain"
)

// Writer appends envelope events to the outbox table inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType domain.EventType, envelopeID, signerEmail string, payload Payload) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,envelope_id,signer_email,payload_json) VALUES (?,?,?,?,?)`,
		ts, string(evtType), envelopeID, nullable(signerEmail), string(data))
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", evtType, err)
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
