package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"signline/internal/engine"
)

type envelopePath struct {
	ID string `path:"id"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerEnvelopes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "assemble-envelope",
		Method:        http.MethodPost,
		Path:          "/envelopes",
		Summary:       "Assemble an envelope and notify the first routing wave",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  maxUploadBytes,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body AssembleRequest `json:"body"`
	}) (*struct {
		Body engine.AssembleResult `json:"body"`
	}, error) {
		in, err := input.Body.toInput()
		if err != nil {
			return nil, handleError(ctx, err)
		}
		res, err := e.Assemble(ctx, in)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.AssembleResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-envelope",
		Method:      http.MethodGet,
		Path:        "/envelopes/{id}",
		Summary:     "Envelope with artifact URLs and history",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *envelopePath) (*struct {
		Body engine.Details `json:"body"`
	}, error) {
		d, err := e.Details(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.Details `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-envelope",
		Method:      http.MethodPost,
		Path:        "/envelopes/{id}/cancel",
		Summary:     "Cancel an envelope",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *envelopePath) (*struct {
		Body engine.Details `json:"body"`
	}, error) {
		if _, err := e.Cancel(ctx, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		d, err := e.Details(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.Details `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resend-envelope",
		Method:      http.MethodPost,
		Path:        "/envelopes/{id}/resend",
		Summary:     "Notify every signer that has not completed",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *envelopePath) (*struct {
		Body ResendResponse `json:"body"`
	}, error) {
		res, err := e.Resend(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body ResendResponse `json:"body"`
		}{Body: ResendResponse{Envelope: res.Envelope, Notified: res.Notified}}, nil
	})
}
