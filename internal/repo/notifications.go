package repo

import (
	"context"
	"database/sql"
	"fmt"

	"signline/internal/domain"
)

const notificationColumns = `id,envelope_id,signer_index,email,name,kind,link,document_name,status,COALESCE(error,''),created_at,sent_at`

// EnqueueNotification records a message intent in the same transaction as the
// transition that produced it.
func (r Repo) EnqueueNotification(ctx context.Context, tx *sql.Tx, t domain.NotificationTask) (int64, error) {
	status := t.Status
	if status == "" {
		status = domain.TaskPending
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO notifications(envelope_id,signer_index,email,name,kind,link,document_name,status,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.EnvelopeID, t.SignerIndex, t.Email, t.Name, t.Kind, t.Link, t.DocumentName, status, t.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("enqueue notification: %w", err)
	}
	return res.LastInsertId()
}

// ClaimNotifications moves up to limit pending tasks to sending and returns them.
// A claimed task is never handed out again.
func (r Repo) ClaimNotifications(ctx context.Context, limit int) ([]domain.NotificationTask, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	rows, err := tx.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE status=? ORDER BY id LIMIT ?`, domain.TaskPending, limit)
	if err != nil {
		return nil, err
	}
	tasks, err := scanNotifications(rows)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if _, err := tx.ExecContext(ctx, `UPDATE notifications SET status=? WHERE id=?`, domain.TaskSending, tasks[i].ID); err != nil {
			return nil, err
		}
		tasks[i].Status = domain.TaskSending
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// FinishNotification records the outcome of the single delivery attempt.
func (r Repo) FinishNotification(ctx context.Context, id int64, status, errMsg, at string) error {
	var sentAt any
	if status == domain.TaskSent {
		sentAt = at
	}
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status=?,error=?,sent_at=? WHERE id=?`, status, nullable(errMsg), sentAt, id)
	return err
}

// CancelPendingNotifications withdraws the envelope's queued tasks so the
// worker never claims them. Tasks already claimed are left to finish.
func (r Repo) CancelPendingNotifications(ctx context.Context, tx *sql.Tx, envelopeID string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE notifications SET status=?,error=? WHERE envelope_id=? AND status=?`,
		domain.TaskCancelled, "envelope cancelled", envelopeID, domain.TaskPending)
	if err != nil {
		return 0, fmt.Errorf("cancel notifications: %w", err)
	}
	return res.RowsAffected()
}

// AbandonSending fails tasks left in sending by a worker that stopped mid-attempt.
func (r Repo) AbandonSending(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status=?,error=? WHERE status=?`,
		domain.TaskFailed, "worker stopped during delivery", domain.TaskSending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListNotifications(ctx context.Context, envelopeID string) ([]domain.NotificationTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE envelope_id=? ORDER BY id`, envelopeID)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

func scanNotifications(rows *sql.Rows) ([]domain.NotificationTask, error) {
	defer rows.Close()
	var res []domain.NotificationTask
	for rows.Next() {
		var t domain.NotificationTask
		var sent sql.NullString
		if err := rows.Scan(&t.ID, &t.EnvelopeID, &t.SignerIndex, &t.Email, &t.Name, &t.Kind, &t.Link, &t.DocumentName,
			&t.Status, &t.Error, &t.CreatedAt, &sent); err != nil {
			return nil, err
		}
		t.SentAt = stringPtr(sent)
		res = append(res, t)
	}
	return res, rows.Err()
}
