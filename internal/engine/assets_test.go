package engine_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signline/internal/domain"
	"signline/internal/engine"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), []byte("\x00\x00\x00\rIHDR")...)

func TestUploadAssetStoresImage(t *testing.T) {
	te := newTestEnv(t)
	res, err := te.Engine.UploadAsset(te.Ctx, engine.AssetInput{
		Filename: "Company Logo.PNG",
		Content:  base64.StdEncoding.EncodeToString(pngBytes),
	})
	require.NoError(t, err)
	assert.Equal(t, "assets/5-3-2024_1709631000000-company-logo.png", res.Key)
	assert.Equal(t, "https://files.example.com/"+res.Key, res.URL)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, len(pngBytes), res.Size)

	data, err := os.ReadFile(filepath.Join(te.StoreDir, filepath.FromSlash(res.Key)))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	again, err := te.Engine.UploadAsset(te.Ctx, engine.AssetInput{Content: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)})
	require.NoError(t, err)
	assert.Equal(t, "assets/5-3-2024_1709631000001-asset.png", again.Key)
}

func TestUploadAssetRejectsNonImages(t *testing.T) {
	te := newTestEnv(t)
	cases := map[string]string{
		"empty":      "",
		"bad base64": "%%%",
		"pdf":        pdf("p1"),
		"text":       base64.StdEncoding.EncodeToString([]byte("hello")),
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := te.Engine.UploadAsset(te.Ctx, engine.AssetInput{Filename: "x.png", Content: content})
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Equal(t, 0, countFiles(t, te.StoreDir))
}
