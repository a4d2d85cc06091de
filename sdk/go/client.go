// Package signlinesdk is a small client for the signline HTTP API.
package signlinesdk

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls the admin routes with APIKey and the signing routes with the
// recipient's capability token.
type Client struct {
	BaseURL    string
	BasePath   string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		APIKey:   apiKey,
		Timeout:  30 * time.Second,
	}
}

type Document struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	HTML    string `json:"html,omitempty"`
	FileID  string `json:"file_id,omitempty"`
}

type Signer struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	IsAction     string `json:"is_action,omitempty"`
	RoutingOrder int    `json:"routing_order,omitempty"`
	Tabs         any    `json:"tabs,omitempty"`
}

type AssembleRequest struct {
	Documents      []Document `json:"documents"`
	Signers        []Signer   `json:"signers"`
	IsRoutingOrder bool       `json:"is_routing_order,omitempty"`
}

type EmailedSigner struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	TokenURL string `json:"token_url"`
}

type AssembleResponse struct {
	EnvelopeID     string          `json:"envelope_id"`
	EmailedSigners []EmailedSigner `json:"emailed_signers"`
}

// SignerState is a signer as reported by the API.
type SignerState struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Action       string `json:"is_action"`
	RoutingOrder int    `json:"routing_order"`
	Status       string `json:"status"`
	SignedURL    string `json:"signed_url,omitempty"`
}

type Envelope struct {
	ID             string        `json:"id"`
	DocumentStatus string        `json:"document_status"`
	IsRoutingOrder bool          `json:"is_routing_order"`
	Signers        []SignerState `json:"signers"`
	Version        int64         `json:"version"`
	CreatedAt      string        `json:"created_at"`
	UpdatedAt      string        `json:"updated_at"`
	CompletedAt    *string       `json:"completed_at,omitempty"`
}

type EnvelopeDetails struct {
	Envelope     Envelope `json:"envelope"`
	PDFURL       string   `json:"pdf_url"`
	SignedPDFURL string   `json:"signed_pdf_url,omitempty"`
}

type ResendResponse struct {
	Envelope Envelope `json:"envelope"`
	Notified []string `json:"notified"`
}

type SigningView struct {
	EnvelopeID   string           `json:"envelope_id"`
	Status       string           `json:"document_status"`
	SignerIndex  int              `json:"signer_index"`
	Signer       SignerState      `json:"signer"`
	PDFURL       string           `json:"pdf_url"`
	SignedPDFURL string           `json:"signed_pdf_url,omitempty"`
	Signature    *StoredSignature `json:"signature,omitempty"`
}

type StoredSignature struct {
	Email     string `json:"email"`
	Signature string `json:"signature"`
	UpdatedAt string `json:"updated_at"`
}

type CompleteRequest struct {
	Documents []string `json:"documents"`
	Signature string   `json:"signature,omitempty"`
	Location  any      `json:"location,omitempty"`
}

type CompleteResponse struct {
	EnvelopeID   string   `json:"envelope_id"`
	Status       string   `json:"document_status"`
	SignerStatus string   `json:"signer_status"`
	SignedPDFURL string   `json:"signed_pdf_url"`
	SignedURLs   []string `json:"signed_urls"`
}

type Webhook struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at"`
}

type WebhookRegistration struct {
	Subscription Webhook `json:"subscription"`
	Secret       string  `json:"secret"`
}

// APIError wraps non-2xx responses.
type Asset struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Assemble creates an envelope and notifies the first routing wave.
func (c *Client) Assemble(ctx context.Context, req AssembleRequest) (AssembleResponse, error) {
	var resp AssembleResponse
	err := c.do(ctx, http.MethodPost, "envelopes", "", req, &resp)
	return resp, err
}

func (c *Client) Envelope(ctx context.Context, id string) (EnvelopeDetails, error) {
	var resp EnvelopeDetails
	err := c.do(ctx, http.MethodGet, "envelopes/"+url.PathEscape(id), "", nil, &resp)
	return resp, err
}

func (c *Client) Cancel(ctx context.Context, id string) (EnvelopeDetails, error) {
	var resp EnvelopeDetails
	err := c.do(ctx, http.MethodPost, "envelopes/"+url.PathEscape(id)+"/cancel", "", nil, &resp)
	return resp, err
}

// Resend notifies every signer that has not completed, regardless of routing order.
func (c *Client) Resend(ctx context.Context, id string) (ResendResponse, error) {
	var resp ResendResponse
	err := c.do(ctx, http.MethodPost, "envelopes/"+url.PathEscape(id)+"/resend", "", nil, &resp)
	return resp, err
}

// Open fetches the envelope as the token's recipient and marks it delivered.
func (c *Client) Open(ctx context.Context, token string) (SigningView, error) {
	var resp SigningView
	err := c.do(ctx, http.MethodGet, "signing/envelope", token, nil, &resp)
	return resp, err
}

func (c *Client) Complete(ctx context.Context, token string, req CompleteRequest) (CompleteResponse, error) {
	var resp CompleteResponse
	err := c.do(ctx, http.MethodPost, "signing/complete", token, req, &resp)
	return resp, err
}

// Decline cancels the envelope on behalf of the token's recipient.
func (c *Client) Decline(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "signing/cancel", token, nil, nil)
}

func (c *Client) RegisterWebhook(ctx context.Context, hookURL string, events ...string) (WebhookRegistration, error) {
	body := map[string]any{"url": hookURL}
	if len(events) > 0 {
		body["events"] = events
	}
	var resp WebhookRegistration
	err := c.do(ctx, http.MethodPost, "webhooks", "", body, &resp)
	return resp, err
}

func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var resp struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	err := c.do(ctx, http.MethodGet, "webhooks", "", nil, &resp)
	return resp.Webhooks, err
}

// UploadAsset stores an image, such as a logo, and returns its public URL.
func (c *Client) UploadAsset(ctx context.Context, filename string, data []byte) (Asset, error) {
	body := map[string]any{"filename": filename, "content": base64.StdEncoding.EncodeToString(data)}
	var resp Asset
	err := c.do(ctx, http.MethodPost, "assets", "", body, &resp)
	return resp, err
}

// VerifySignature checks a delivery's X-Signature header against the
// subscription secret.
func VerifySignature(secret string, body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimSpace(header)))
}

// TokenFromLink extracts the capability token from a signing link.
func TokenFromLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	tok := u.Query().Get("token")
	if tok == "" {
		return "", fmt.Errorf("link has no token")
	}
	return tok, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
