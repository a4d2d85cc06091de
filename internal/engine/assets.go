package engine

import (
	"context"
	"net/http"
	"path"
	"strings"

	"signline/internal/assembly"
	"signline/internal/domain"
)

const maxAssetBytes = 10 << 20

var assetExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/bmp":  "bmp",
}

// AssetInput is an image referenced from HTML templates, such as a logo.
type AssetInput struct {
	Filename string
	Content  string
}

type AssetResult struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// UploadAsset stores an image under the assets prefix and returns its public
// URL. The type is sniffed from the bytes; the filename only names the key.
func (e Engine) UploadAsset(ctx context.Context, in AssetInput) (AssetResult, error) {
	data, err := assembly.DecodeBase64(in.Content)
	if err != nil || len(data) == 0 {
		return AssetResult{}, domain.ValidationError{Field: "content", Reason: "content is not valid base64"}
	}
	if len(data) > maxAssetBytes {
		return AssetResult{}, domain.ValidationError{Field: "content", Reason: "asset exceeds 10 MiB"}
	}
	contentType := http.DetectContentType(data)
	ext, ok := assetExtensions[contentType]
	if !ok {
		return AssetResult{}, domain.ValidationError{Field: "content", Reason: "content is not a supported image", Details: map[string]any{"detected": contentType}}
	}

	a := e.newTypedArtifact(domain.PrefixAssets, assetRole(in.Filename), ext, contentType, data)
	if _, err := e.putArtifacts(ctx, []artifact{a}); err != nil {
		return AssetResult{}, err
	}
	e.logger(ctx).Info("asset uploaded", "key", a.key, "bytes", len(data))
	return AssetResult{Key: a.key, URL: e.URL(a.key), ContentType: contentType, Size: len(data)}, nil
}

// assetRole reduces a filename to a key-safe slug.
func assetRole(filename string) string {
	name := path.Base(strings.TrimSpace(filename))
	base := strings.TrimSuffix(name, path.Ext(name))
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	role := strings.Trim(b.String(), "-")
	if role == "" {
		return "asset"
	}
	return role
}
