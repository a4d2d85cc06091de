package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signline/internal/db"
	"signline/internal/migrate"
	"signline/internal/storage"
)

var at = time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)

func newWorkspace(t *testing.T) (*sql.DB, storage.Local) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	store, err := storage.NewLocal(filepath.Join(dir, "objects"), "")
	require.NoError(t, err)
	return conn, store
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(body)
	}
	return out
}

func TestRunWritesSnapshotAndArchive(t *testing.T) {
	ctx := context.Background()
	conn, store := newWorkspace(t)
	_, err := conn.ExecContext(ctx, `INSERT INTO events(ts,type,envelope_id,payload_json) VALUES (?,?,?,?)`, "2024-03-05T09:30:00Z", "envelope.sent", "env-1", "{}")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "originals/a.pdf", []byte("%PDF-a"), "application/pdf"))
	require.NoError(t, store.Put(ctx, "signed/a.pdf", []byte("%PDF-signed"), "application/pdf"))

	out := t.TempDir()
	res, err := Run(ctx, conn, store, Options{Dir: out, Now: func() time.Time { return at }})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "signline-2024-03-05.db"), res.Database)
	assert.False(t, res.DatabaseExisted)
	assert.Equal(t, filepath.Join(out, "signline-artifacts-1709631000000.zip"), res.Archive)
	assert.Equal(t, 2, res.Objects)

	assert.Equal(t, map[string]string{
		"originals/a.pdf": "%PDF-a",
		"signed/a.pdf":    "%PDF-signed",
	}, readArchive(t, res.Archive))

	snap, err := sql.Open("sqlite", res.Database)
	require.NoError(t, err)
	defer snap.Close()
	var n int
	require.NoError(t, snap.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRunKeepsTodaysSnapshot(t *testing.T) {
	ctx := context.Background()
	conn, store := newWorkspace(t)
	out := t.TempDir()
	existing := filepath.Join(out, DatabaseName(at))
	require.NoError(t, os.WriteFile(existing, []byte("earlier"), 0o644))

	res, err := Run(ctx, conn, store, Options{Dir: out, Now: func() time.Time { return at }})
	require.NoError(t, err)
	assert.True(t, res.DatabaseExisted)
	assert.Empty(t, res.Archive)
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "earlier", string(data))
}

func TestKeysOnEmptyStore(t *testing.T) {
	_, store := newWorkspace(t)
	_, err := Keys(context.Background(), store)
	assert.ErrorIs(t, err, ErrEmptyStore)
}

func TestRunSkipArtifacts(t *testing.T) {
	ctx := context.Background()
	conn, store := newWorkspace(t)
	require.NoError(t, store.Put(ctx, "originals/a.pdf", []byte("%PDF-a"), "application/pdf"))
	out := t.TempDir()
	res, err := Run(ctx, conn, store, Options{Dir: out, SkipArtifacts: true, Now: func() time.Time { return at }})
	require.NoError(t, err)
	assert.Empty(t, res.Archive)
	assert.FileExists(t, res.Database)
}
