package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("/tmp/ws")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/ws/.signline/objects", cfg.Storage.LocalDir)
	assert.Equal(t, 2*time.Second, cfg.Worker.Interval.Std())
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
signing:
  web_url: https://sign.example.com
  token_ttl: 72h
storage:
  driver: s3
  s3:
    bucket: envelopes
mail:
  driver: smtp
  host: smtp.example.com
  from: Sign <sign@example.com>
`))
	require.NoError(t, err)
	assert.Equal(t, "https://sign.example.com", cfg.Signing.WebURL)
	assert.Equal(t, 72*time.Hour, cfg.Signing.TokenTTL.Std())
	assert.Equal(t, "envelopes", cfg.Storage.S3.Bucket)
	assert.Equal(t, "us-east-1", cfg.Storage.S3.Region, "unset keys keep defaults")
	assert.Equal(t, 587, cfg.Mail.Port)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"storage driver": "storage:\n  driver: ftp\n",
		"s3 bucket":      "storage:\n  driver: s3\n",
		"smtp host":      "mail:\n  driver: smtp\n",
		"base path":      "server:\n  base_path: v1\n",
		"duration":       "worker:\n  interval: soon\n",
		"log format":     "log:\n  format: xml\n",
		"web url":        "signing:\n  web_url: \"\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(filepath.Join(dir, ".signline", "objects")), cfg.Storage.LocalDir)

	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault(dir)), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "log", cfg.Mail.Driver)
}
