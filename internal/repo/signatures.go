package repo

import (
	"context"
	"database/sql"
	"strings"

	"signline/internal/domain"
)

// UpsertSignature stores the latest signature for an email. Last write wins.
func (r Repo) UpsertSignature(ctx context.Context, tx *sql.Tx, sig domain.Signature) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO signatures(email,signature,updated_at) VALUES (?,?,?)
ON CONFLICT(email) DO UPDATE SET signature=excluded.signature, updated_at=excluded.updated_at`,
		strings.ToLower(strings.TrimSpace(sig.Email)), sig.Signature, sig.UpdatedAt)
	return err
}

func (r Repo) GetSignature(ctx context.Context, email string) (domain.Signature, error) {
	var sig domain.Signature
	err := r.DB.QueryRowContext(ctx, `SELECT email,signature,updated_at FROM signatures WHERE email=?`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&sig.Email, &sig.Signature, &sig.UpdatedAt)
	if err == sql.ErrNoRows {
		return sig, ErrNotFound
	}
	return sig, err
}
