package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"signline/internal/domain"
	"signline/internal/engine"
)

func registerWebhooks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-webhook",
		Method:        http.MethodPost,
		Path:          "/webhooks",
		Summary:       "Subscribe a URL to envelope events",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body RegisterWebhookRequest `json:"body"`
	}) (*struct {
		Body engine.WebhookRegistration `json:"body"`
	}, error) {
		reg, err := e.RegisterWebhook(ctx, input.Body.URL, input.Body.Events)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.WebhookRegistration `json:"body"`
		}{Body: reg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-webhooks",
		Method:      http.MethodGet,
		Path:        "/webhooks",
		Summary:     "List webhook subscriptions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WebhookListResponse `json:"body"`
	}, error) {
		subs, err := e.ListWebhooks(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if subs == nil {
			subs = []domain.WebhookSubscription{}
		}
		return &struct {
			Body WebhookListResponse `json:"body"`
		}{Body: WebhookListResponse{Webhooks: subs}}, nil
	})
}
