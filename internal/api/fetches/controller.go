// Package fetches exposes track downloads from streaming platforms.
package fetches

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/tagsmith/tagsmith/internal/fetch"
	"github.com/tagsmith/tagsmith/internal/logger"
	"github.com/tagsmith/tagsmith/internal/model"
	"github.com/tagsmith/tagsmith/internal/tagging"
	"github.com/tagsmith/tagsmith/internal/workspace"
)

type (
	FetchRequest struct {
		URL string `json:"url" validate:"required,url"`
	}

	FetchDto struct {
		Filename       string          `json:"filename"`
		StoredFilename string          `json:"stored_filename"`
		Platform       string          `json:"platform"`
		Size           int64           `json:"size"`
		Metadata       *model.Metadata `json:"metadata,omitempty"`
	}

	// Fetcher is the slice of fetch behaviour the controller needs.
	Fetcher interface {
		Fetch(ctx context.Context, platform fetch.Platform, url string) (*fetch.Result, error)
	}

	Controller struct {
		validate *validator.Validate
		ws       *workspace.Workspace
		tagger   *tagging.Service
		fetcher  Fetcher
		log      logger.Logger
	}
)

func New(validate *validator.Validate, ws *workspace.Workspace, tagger *tagging.Service, fetcher Fetcher, log logger.Logger) *Controller {
	return &Controller{validate: validate, ws: ws, tagger: tagger, fetcher: fetcher, log: log}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/youtube/", controller.fromPlatform(fetch.PlatformYouTube))
	eg.POST("/soundcloud/", controller.fromPlatform(fetch.PlatformSoundCloud))
}

func (controller *Controller) fromPlatform(platform fetch.Platform) echo.HandlerFunc {
	return func(ec echo.Context) error {
		var request FetchRequest
		if err := ec.Bind(&request); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
		}
		if err := controller.validate.Struct(&request); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		result, err := controller.fetcher.Fetch(ec.Request().Context(), platform, request.URL)
		if err != nil {
			return fetchError(err)
		}

		controller.backfillTags(result)

		dto := &FetchDto{
			Filename:       result.File.OriginalName,
			StoredFilename: result.File.StoredName,
			Platform:       result.File.Origin,
			Size:           result.File.Size,
		}
		if meta, err := controller.tagger.ExtractMetadata(result.File.Path); err == nil {
			meta.CoverArt = nil
			meta.CoverArtMimeType = ""
			dto.Metadata = meta
		}
		return ec.JSON(http.StatusCreated, dto)
	}
}

// backfillTags fills in title, artist and album from the platform's
// track info when the downloaded file lacks them. The platform info
// forms the base record and the file's own tags are merged on top, so
// existing values always win and an existing cover is resent rather
// than stripped.
func (controller *Controller) backfillTags(result *fetch.Result) {
	existing, err := controller.tagger.ExtractMetadata(result.File.Path)
	if err != nil {
		controller.log.Emit(logger.WARNING, "cannot read tags of fetched file %s: %v", result.File.StoredName, err)
		return
	}

	merged := &model.Metadata{}
	if result.Info.Title != "" {
		merged.Title = model.String(result.Info.Title)
	}
	if result.Info.Uploader != "" {
		merged.Artist = model.String(result.Info.Uploader)
	}
	if result.Info.Album != "" {
		merged.Album = model.String(result.Info.Album)
	}
	if merged.Title == nil && merged.Artist == nil && merged.Album == nil {
		return
	}
	merged.Merge(existing)

	if err := controller.tagger.ApplyMetadata(result.File.Path, merged); err != nil {
		controller.log.Emit(logger.WARNING, "cannot backfill tags of %s: %v", result.File.StoredName, err)
	}
}

func fetchError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, fetch.ErrInvalidURL):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, fetch.ErrTooLong):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, fetch.ErrFetchFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
