package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"signline/internal/backup"
	"signline/internal/engine"
	"signline/internal/logging"
)

func registerAssets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-asset",
		Method:        http.MethodPost,
		Path:          "/assets",
		Summary:       "Store an image for use in HTML templates",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  maxUploadBytes,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body AssetRequest `json:"body"`
	}) (*struct {
		Body engine.AssetResult `json:"body"`
	}, error) {
		res, err := e.UploadAsset(ctx, engine.AssetInput{Filename: input.Body.Filename, Content: input.Body.Content})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.AssetResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "backup-artifacts",
		Method:      http.MethodGet,
		Path:        "/backup/artifacts",
		Summary:     "Download every stored artifact as a zip",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*huma.StreamResponse, error) {
		keys, err := backup.Keys(ctx, e.Store)
		if errors.Is(err, backup.ErrEmptyStore) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "object store is empty", nil)
		}
		if err != nil {
			return nil, handleError(ctx, err)
		}
		name := backup.ArchiveName(time.Now())
		return &huma.StreamResponse{Body: func(hctx huma.Context) {
			hctx.SetHeader("Content-Type", "application/zip")
			hctx.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
			hctx.SetStatus(http.StatusOK)
			if err := backup.WriteArchive(hctx.Context(), e.Store, keys, hctx.BodyWriter()); err != nil {
				logging.FromContext(ctx, nil).Error("artifact archive interrupted", "objects", len(keys), logging.FieldError, err)
			}
		}}, nil
	})
}
