package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signline/internal/assembly"
	"signline/internal/assembly/assemblytest"
	"signline/internal/config"
	"signline/internal/db"
	"signline/internal/engine"
	"signline/internal/logging"
	"signline/internal/migrate"
	"signline/internal/storage"
)

const testAPIKey = "admin-key"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(workspace)
	cfg.Signing.TokenSecret = "server-secret"
	cfg.Signing.WebURL = "https://sign.example.com"
	filesDir := filepath.Join(workspace, "objects")
	store, err := storage.NewLocal(filesDir, "http://files.test/storage")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	asm := assembly.New(&assemblytest.Toolkit{}, &assemblytest.Renderer{}, logging.NewNop())
	e := engine.New(conn, cfg, store, asm, logging.NewNop())
	e.Now = func() time.Time { return time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC) }

	handler, err := New(Config{Engine: e, BasePath: "/v1", APIKey: testAPIKey, FilesDir: filesDir, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	body := decode(t, data)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, string(data))
	code, _ := e["code"].(string)
	return code
}

func pdfBase64(pages ...string) string {
	return base64.StdEncoding.EncodeToString(assemblytest.Doc(pages...))
}

var adminHeaders = map[string]string{"X-Api-Key": testAPIKey}

func assembleOne(t *testing.T, srv *testServer) (string, string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/envelopes", map[string]any{
		"documents": []map[string]any{{"name": "Lease", "content": pdfBase64("p1")}},
		"signers":   []map[string]any{{"name": "Ann", "email": "Ann@Example.com", "is_action": "needs_to_sign"}},
	}, adminHeaders)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	body := decode(t, data)
	envID, _ := body["envelope_id"].(string)
	require.NotEmpty(t, envID)
	signers, _ := body["emailed_signers"].([]any)
	require.Len(t, signers, 1)
	link, _ := signers[0].(map[string]any)["token_url"].(string)
	require.True(t, strings.HasPrefix(link, "https://sign.example.com/documents?token="), link)
	return envID, strings.TrimPrefix(link, "https://sign.example.com/documents?token=")
}

func TestSigningFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	envID, tok := assembleOne(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/signing/envelope?token="+tok, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	view := decode(t, data)
	assert.Equal(t, envID, view["envelope_id"])
	assert.Equal(t, "delivered", view["document_status"])
	signer, _ := view["signer"].(map[string]any)
	assert.Equal(t, "ann@example.com", signer["email"])

	bearer := map[string]string{
		"Authorization":   "Bearer " + tok,
		"X-Forwarded-For": "::ffff:10.0.0.7, 172.16.0.1",
	}
	body := map[string]any{
		"documents": []string{pdfBase64("signed")},
		"signature": "data:image/png;base64,AAAA",
		"location":  map[string]any{"lat": 1.5, "lng": 2.5},
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/signing/complete", body, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	out := decode(t, data)
	assert.Equal(t, "completed", out["document_status"])
	assert.Equal(t, "completed", out["signer_status"])
	assert.Contains(t, out["signed_pdf_url"], "http://files.test/storage/signed/")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/signing/complete", body, bearer)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "conflict", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/envelopes/"+envID, nil, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	details := decode(t, data)
	env, _ := details["envelope"].(map[string]any)
	signers, _ := env["signers"].([]any)
	require.Len(t, signers, 1)
	assert.Equal(t, "10.0.0.7", signers[0].(map[string]any)["ip_address"])

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/signing/envelope?token="+tok, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	view = decode(t, data)
	sig, _ := view["signature"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,AAAA", sig["signature"])
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/webhooks", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/webhooks", nil, map[string]string{"X-Api-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/signing/envelope", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/signing/envelope?token=not-a-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_token", errorCode(t, data))

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/envelopes", map[string]any{
		"documents": []map[string]any{{"content": pdfBase64("p1")}},
		"signers":   []map[string]any{{"name": "Bad", "email": "not-an-email"}},
	}, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "bad_request", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/envelopes/missing", nil, adminHeaders)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))

	_, tok := assembleOne(t, srv)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/signing/complete?token="+tok, map[string]any{
		"documents": []string{"bm90IGEgcGRm"},
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	e := decode(t, data)["error"].(map[string]any)
	details, _ := e["details"].(map[string]any)
	assert.Equal(t, []any{float64(0)}, details["invalid_indexes"])
}

func TestCancelAndResend(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	envID, _ := assembleOne(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/envelopes/"+envID+"/resend", nil, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, []any{"ann@example.com"}, decode(t, data)["notified"])

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/envelopes/"+envID+"/cancel", nil, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	env := decode(t, data)["envelope"].(map[string]any)
	assert.Equal(t, "avoided", env["document_status"])

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/envelopes/"+envID+"/resend", nil, adminHeaders)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "conflict", errorCode(t, data))
}

func TestSignerCancel(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	envID, tok := assembleOne(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/signing/cancel", nil, map[string]string{"Authorization": "Bearer " + tok})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	out := decode(t, data)
	assert.Equal(t, envID, out["envelope_id"])
	assert.Equal(t, "avoided", out["document_status"])
}

func TestWebhookRegistration(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/webhooks", map[string]any{
		"url":    "https://hooks.example.com/sign",
		"events": []string{"envelope.completed"},
	}, adminHeaders)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	reg := decode(t, data)
	assert.Len(t, reg["secret"], 64)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/webhooks", map[string]any{
		"url": "ftp://hooks.example.com",
	}, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/webhooks", nil, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode)
	hooks, _ := decode(t, data)["webhooks"].([]any)
	require.Len(t, hooks, 1)
	hook := hooks[0].(map[string]any)
	assert.Equal(t, "https://hooks.example.com/sign", hook["url"])
	assert.NotContains(t, hook, "secret")
}

func TestAssetUploadAndArtifactBackup(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/backup/artifacts", nil, adminHeaders)
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	png := append([]byte("\x89PNG\r\n\x1a\n"), []byte("\x00\x00\x00\rIHDR")...)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assets", map[string]any{
		"filename": "logo.png",
		"content":  base64.StdEncoding.EncodeToString(png),
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assets", map[string]any{
		"filename": "logo.png",
		"content":  base64.StdEncoding.EncodeToString(png),
	}, adminHeaders)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	asset := decode(t, data)
	assert.Equal(t, "assets/5-3-2024_1709631000000-logo.png", asset["key"])
	assert.Equal(t, "http://files.test/storage/assets/5-3-2024_1709631000000-logo.png", asset["url"])
	assert.Equal(t, "image/png", asset["content_type"])

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assets", map[string]any{
		"content": base64.StdEncoding.EncodeToString([]byte("plain text")),
	}, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/storage/assets/5-3-2024_1709631000000-logo.png", nil, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, png, data)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/backup/artifacts", nil, adminHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "application/zip", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "signline-artifacts-")
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "assets/5-3-2024_1709631000000-logo.png", zr.File[0].Name)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::ffff:192.168.1.4]:5000"
	assert.Equal(t, "192.168.1.4", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
	assert.Equal(t, "", clientIP(nil))
}
