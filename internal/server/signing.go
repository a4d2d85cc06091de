package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"signline/internal/engine"
)

type tokenQuery struct {
	Token string `query:"token" doc:"Capability token when no Authorization header is sent"`
}

func registerSigning(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "fetch-signing-envelope",
		Method:      http.MethodGet,
		Path:        "/signing/envelope",
		Summary:     "Open the envelope as the token's recipient",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *tokenQuery) (*struct {
		Body engine.SigningView `json:"body"`
	}, error) {
		claims, herr := claimsFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		view, err := e.FetchByToken(ctx, claims)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.SigningView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "complete-signing",
		Method:       http.MethodPost,
		Path:         "/signing/complete",
		Summary:      "Submit signed documents",
		MaxBodyBytes: maxUploadBytes,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Token string         `query:"token" doc:"Capability token when no Authorization header is sent"`
		Body  ExecuteRequest `json:"body"`
	}) (*struct {
		Body engine.ExecuteResult `json:"body"`
	}, error) {
		claims, herr := claimsFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		in, err := input.Body.toInput(clientIP(requestFromContext(ctx)))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		res, err := e.Execute(ctx, claims, in)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.ExecuteResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-signing",
		Method:      http.MethodPost,
		Path:        "/signing/cancel",
		Summary:     "Decline and cancel the envelope",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *tokenQuery) (*struct {
		Body SigningCancelResponse `json:"body"`
	}, error) {
		claims, herr := claimsFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		env, err := e.CancelByToken(ctx, claims)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body SigningCancelResponse `json:"body"`
		}{Body: SigningCancelResponse{EnvelopeID: env.ID, Status: env.DocumentStatus}}, nil
	})
}
