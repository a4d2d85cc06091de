package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"signline/internal/domain"
)

const envelopeColumns = `id,document_status,is_routing_order,pdf,signed_pdf,version,created_at,updated_at,completed_at`

// InsertEnvelope writes a new envelope with its document slots and signers.
func (r Repo) InsertEnvelope(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	q := r.q(tx)
	if env.Version == 0 {
		env.Version = 1
	}
	_, err := q.ExecContext(ctx, `INSERT INTO envelopes(`+envelopeColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		env.ID, env.DocumentStatus, boolInt(env.IsRoutingOrder), env.PDF, env.SignedPDF, env.Version,
		env.CreatedAt, env.UpdatedAt, nullableStringPtr(env.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	for i, f := range env.Files {
		if _, err := q.ExecContext(ctx, `INSERT INTO document_slots(envelope_id,idx,filename,stored_name,template_pdf,signed_template_pdf,mimetype,file_id) VALUES (?,?,?,?,?,?,?,?)`,
			env.ID, i, f.Filename, f.StoredName, f.TemplatePDF, nullableStringPtr(f.SignedTemplatePDF), f.Mimetype, f.FileID); err != nil {
			return fmt.Errorf("insert document %d: %w", i, err)
		}
	}
	for i, s := range env.Signers {
		if _, err := q.ExecContext(ctx, `INSERT INTO signers(envelope_id,idx,email,name,action,routing_order,status,sent_at,delivered_at,completed_at,location_json,tabs_json,ip_address,token_url,signed_url) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			env.ID, i, s.Email, s.Name, s.Action, s.RoutingOrder, s.Status,
			nullableStringPtr(s.SentAt), nullableStringPtr(s.DeliveredAt), nullableStringPtr(s.CompletedAt),
			s.LocationJSON, s.TabsJSON, s.IPAddress, s.TokenURL, s.SignedURL); err != nil {
			return fmt.Errorf("insert signer %d: %w", i, err)
		}
	}
	return nil
}

// GetEnvelope loads an envelope snapshot. tx may be nil.
func (r Repo) GetEnvelope(ctx context.Context, tx *sql.Tx, id string) (domain.Envelope, error) {
	q := r.q(tx)
	env, err := scanEnvelope(q.QueryRowContext(ctx, `SELECT `+envelopeColumns+` FROM envelopes WHERE id=?`, id))
	if err != nil {
		return domain.Envelope{}, err
	}
	if env.Files, err = r.listSlots(ctx, q, id); err != nil {
		return domain.Envelope{}, err
	}
	if env.Signers, err = r.listSigners(ctx, q, id); err != nil {
		return domain.Envelope{}, err
	}
	return env, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (domain.Envelope, error) {
	var env domain.Envelope
	var routing int
	var completed sql.NullString
	err := row.Scan(&env.ID, &env.DocumentStatus, &routing, &env.PDF, &env.SignedPDF, &env.Version,
		&env.CreatedAt, &env.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return env, ErrNotFound
	}
	if err != nil {
		return env, err
	}
	env.IsRoutingOrder = routing != 0
	env.CompletedAt = stringPtr(completed)
	return env, nil
}

func (r Repo) listSlots(ctx context.Context, q Querier, envelopeID string) ([]domain.DocumentSlot, error) {
	rows, err := q.QueryContext(ctx, `SELECT filename,stored_name,template_pdf,signed_template_pdf,mimetype,file_id FROM document_slots WHERE envelope_id=? ORDER BY idx`, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentSlot
	for rows.Next() {
		var f domain.DocumentSlot
		var signed sql.NullString
		if err := rows.Scan(&f.Filename, &f.StoredName, &f.TemplatePDF, &signed, &f.Mimetype, &f.FileID); err != nil {
			return nil, err
		}
		f.SignedTemplatePDF = stringPtr(signed)
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) listSigners(ctx context.Context, q Querier, envelopeID string) ([]domain.Signer, error) {
	rows, err := q.QueryContext(ctx, `SELECT email,name,action,routing_order,status,sent_at,delivered_at,completed_at,location_json,tabs_json,ip_address,token_url,signed_url FROM signers WHERE envelope_id=? ORDER BY idx`, envelopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Signer
	for rows.Next() {
		var s domain.Signer
		var sent, delivered, completed sql.NullString
		if err := rows.Scan(&s.Email, &s.Name, &s.Action, &s.RoutingOrder, &s.Status, &sent, &delivered, &completed,
			&s.LocationJSON, &s.TabsJSON, &s.IPAddress, &s.TokenURL, &s.SignedURL); err != nil {
			return nil, err
		}
		s.SentAt = stringPtr(sent)
		s.DeliveredAt = stringPtr(delivered)
		s.CompletedAt = stringPtr(completed)
		res = append(res, s)
	}
	return res, rows.Err()
}

// SaveEnvelope persists a transition result if the stored version still equals
// env.Version and bumps it. Signer and slot rows are matched by index; the set
// of signers and documents never changes after creation.
func (r Repo) SaveEnvelope(ctx context.Context, tx *sql.Tx, env domain.Envelope) (int64, error) {
	q := r.q(tx)
	res, err := q.ExecContext(ctx, `UPDATE envelopes SET document_status=?,pdf=?,signed_pdf=?,updated_at=?,completed_at=?,version=version+1 WHERE id=? AND version=?`,
		env.DocumentStatus, env.PDF, env.SignedPDF, env.UpdatedAt, nullableStringPtr(env.CompletedAt), env.ID, env.Version)
	if err != nil {
		return 0, fmt.Errorf("update envelope: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM envelopes WHERE id=?`, env.ID).Scan(&exists); err != nil {
			return 0, err
		}
		if exists == 0 {
			return 0, ErrNotFound
		}
		return 0, ErrVersionConflict
	}
	for i, f := range env.Files {
		if _, err := q.ExecContext(ctx, `UPDATE document_slots SET template_pdf=?,signed_template_pdf=? WHERE envelope_id=? AND idx=?`,
			f.TemplatePDF, nullableStringPtr(f.SignedTemplatePDF), env.ID, i); err != nil {
			return 0, fmt.Errorf("update document %d: %w", i, err)
		}
	}
	for i, s := range env.Signers {
		if _, err := q.ExecContext(ctx, `UPDATE signers SET status=?,sent_at=?,delivered_at=?,completed_at=?,location_json=?,ip_address=?,token_url=?,signed_url=? WHERE envelope_id=? AND idx=?`,
			s.Status, nullableStringPtr(s.SentAt), nullableStringPtr(s.DeliveredAt), nullableStringPtr(s.CompletedAt),
			s.LocationJSON, s.IPAddress, s.TokenURL, s.SignedURL, env.ID, i); err != nil {
			return 0, fmt.Errorf("update signer %d: %w", i, err)
		}
	}
	return env.Version + 1, nil
}

type EnvelopeFilters struct {
	Status string
	Email  string
	Limit  int
}

// ListEnvelopes returns envelope headers (without documents or signers), newest first.
func (r Repo) ListEnvelopes(ctx context.Context, f EnvelopeFilters) ([]domain.Envelope, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "document_status=?")
		args = append(args, f.Status)
	}
	if f.Email != "" {
		clauses = append(clauses, "id IN (SELECT envelope_id FROM signers WHERE email=?)")
		args = append(args, strings.ToLower(strings.TrimSpace(f.Email)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM envelopes WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`, envelopeColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, env)
	}
	return res, rows.Err()
}

// CountSigners returns the number of signers per envelope id.
func (r Repo) CountSigners(ctx context.Context, ids []string) (map[string]int, error) {
	res := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT envelope_id, COUNT(*) FROM signers WHERE envelope_id IN (`+placeholders+`) GROUP BY envelope_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		res[id] = n
	}
	return res, rows.Err()
}
