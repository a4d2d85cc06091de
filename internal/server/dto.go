package server

import (
	"encoding/json"

	"signline/internal/domain"
	"signline/internal/engine"
)

// Request payloads

type DocumentRequest struct {
	Name    string `json:"name,omitempty" doc:"Display name, defaults to Document-N"`
	Content string `json:"content,omitempty" doc:"Base64 PDF bytes, a data:application/pdf;base64, prefix is accepted"`
	HTML    string `json:"html,omitempty" doc:"HTML template rendered instead of content"`
	FileID  string `json:"file_id,omitempty"`
}

type SignerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	IsAction     string `json:"is_action,omitempty" doc:"needs_to_sign, need_to_view or receive_copy"`
	RoutingOrder int    `json:"routing_order,omitempty" minimum:"0"`
	Tabs         any    `json:"tabs,omitempty"`
}

type AssembleRequest struct {
	Documents      []DocumentRequest `json:"documents"`
	Signers        []SignerRequest   `json:"signers"`
	IsRoutingOrder bool              `json:"is_routing_order,omitempty"`
}

type ExecuteRequest struct {
	Documents []string `json:"documents" doc:"Signed PDFs as base64, one per envelope document in order"`
	Signature string   `json:"signature,omitempty"`
	Location  any      `json:"location,omitempty"`
}

type AssetRequest struct {
	Filename string `json:"filename,omitempty" doc:"Names the stored key, the extension follows the sniffed type"`
	Content  string `json:"content" doc:"Base64 image bytes, a data:image/png;base64, prefix is accepted"`
}

type RegisterWebhookRequest struct {
	URL    string   `json:"url" format:"uri"`
	Events []string `json:"events,omitempty" doc:"Event types to deliver, all when empty"`
}

// Response payloads

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type ResendResponse struct {
	Envelope domain.Envelope `json:"envelope"`
	Notified []string        `json:"notified"`
}

type SigningCancelResponse struct {
	EnvelopeID string        `json:"envelope_id"`
	Status     domain.Status `json:"document_status"`
}

type WebhookListResponse struct {
	Webhooks []domain.WebhookSubscription `json:"webhooks"`
}

func (r AssembleRequest) toInput() (engine.AssembleInput, error) {
	in := engine.AssembleInput{IsRoutingOrder: r.IsRoutingOrder}
	for _, d := range r.Documents {
		in.Documents = append(in.Documents, engine.DocumentInput{
			Name:    d.Name,
			Content: d.Content,
			HTML:    d.HTML,
			FileID:  d.FileID,
		})
	}
	for i, s := range r.Signers {
		tabs, err := rawJSON(s.Tabs)
		if err != nil {
			return engine.AssembleInput{}, domain.ValidationError{
				Field:   "signers.tabs",
				Reason:  "must be JSON",
				Details: map[string]any{"index": i},
			}
		}
		in.Signers = append(in.Signers, engine.SignerInput{
			Name:         s.Name,
			Email:        s.Email,
			Action:       s.IsAction,
			RoutingOrder: s.RoutingOrder,
			Tabs:         tabs,
		})
	}
	return in, nil
}

func (r ExecuteRequest) toInput(ip string) (engine.ExecuteInput, error) {
	loc, err := rawJSON(r.Location)
	if err != nil {
		return engine.ExecuteInput{}, domain.ValidationError{Field: "location", Reason: "must be JSON"}
	}
	return engine.ExecuteInput{
		Documents: r.Documents,
		Signature: r.Signature,
		Location:  loc,
		IPAddress: ip,
	}, nil
}

func rawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
