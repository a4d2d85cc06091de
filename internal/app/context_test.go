package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signline/internal/config"
	"signline/internal/migrate"
	"signline/internal/notify"
	"signline/internal/repo"
	"signline/internal/storage"
)

func TestOpenWiresWorkspace(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	cfg := config.Default(ws)
	cfg.Signing.TokenSecret = "secret"

	a, err := Open(ctx, ws, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	v, err := migrate.Version(ctx, a.DB)
	require.NoError(t, err)
	assert.Greater(t, v, 0)
	assert.Equal(t, cfg.Storage.LocalDir, a.FilesDir)
	assert.NotNil(t, a.Engine.Wake)
	assert.NotNil(t, a.Worker)

	_, err = os.Stat(filepath.Join(ws, ".signline", "signline.db"))
	assert.NoError(t, err)

	envs, err := a.Engine.List(ctx, repo.EnvelopeFilters{})
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default(t.TempDir())

	store, dir, err := NewStore(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, storage.Local{}, store)
	assert.Equal(t, cfg.Storage.LocalDir, dir)

	cfg.Storage.Driver = "s3"
	cfg.Storage.S3.Bucket = "envelopes"
	cfg.Storage.S3.AccessKeyID = "id"
	cfg.Storage.S3.SecretAccessKey = "secret"
	store, dir, err = NewStore(ctx, cfg)
	require.NoError(t, err)
	assert.Empty(t, dir)
	assert.Equal(t, "http://127.0.0.1:8080/storage/pdf/a.pdf", store.URL("pdf/a.pdf"))

	cfg.Storage.Driver = "ftp"
	_, _, err = NewStore(ctx, cfg)
	assert.Error(t, err)
}

func TestNewMailer(t *testing.T) {
	cfg := config.Default(t.TempDir())
	m, err := NewMailer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, notify.LogMailer{}, m)

	cfg.Mail.Driver = "smtp"
	cfg.Mail.Host = "smtp.example.com"
	m, err = NewMailer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &notify.SMTPMailer{}, m)
}
