package assembly

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// PageLayout is the paper setup handed to the renderer.
type PageLayout struct {
	Width  string
	Height string
	Margin string
}

var (
	// SingleTemplate renders one template edge to edge on A4.
	SingleTemplate = PageLayout{Width: "8.27", Height: "11.7", Margin: "0"}
	// MultiTemplate renders page-broken templates on A4 with 15mm margins.
	MultiTemplate = PageLayout{Width: "8.27", Height: "11.7", Margin: "15mm"}
)

// Renderer turns an HTML document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, html string, layout PageLayout) ([]byte, error)
}

const defaultRenderTimeout = 60 * time.Second

// Gotenberg renders through the Chromium HTML route of a Gotenberg service.
type Gotenberg struct {
	URL    string
	Client *http.Client
}

func NewGotenberg(url string, timeout time.Duration) Gotenberg {
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}
	return Gotenberg{URL: strings.TrimRight(url, "/"), Client: &http.Client{Timeout: timeout}}
}

func (g Gotenberg) Render(ctx context.Context, html string, layout PageLayout) ([]byte, error) {
	if strings.TrimSpace(g.URL) == "" {
		return nil, fmt.Errorf("renderer url not configured")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, err
	}
	fields := map[string]string{
		"paperWidth":      layout.Width,
		"paperHeight":     layout.Height,
		"marginTop":       layout.Margin,
		"marginBottom":    layout.Margin,
		"marginLeft":      layout.Margin,
		"marginRight":     layout.Margin,
		"printBackground": "true",
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL+"/forms/chromium/convert/html", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRenderTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("renderer status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return io.ReadAll(res.Body)
}
