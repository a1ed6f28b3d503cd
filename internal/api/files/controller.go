// Package files exposes the workspace and tag operations over HTTP.
package files

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/tagsmith/tagsmith/internal/logger"
	"github.com/tagsmith/tagsmith/internal/model"
	"github.com/tagsmith/tagsmith/internal/tagging"
	"github.com/tagsmith/tagsmith/internal/workspace"
)

type (
	// FileDto is the response shape for one workspace entry.
	FileDto struct {
		Filename       string          `json:"filename"`
		StoredFilename string          `json:"stored_filename"`
		Platform       string          `json:"platform"`
		Size           int64           `json:"size"`
		Metadata       *model.Metadata `json:"metadata,omitempty"`
	}

	// UpdateTagsRequest carries the fields to write. Absent fields are
	// left untouched; an absent cover removes any embedded art.
	UpdateTagsRequest struct {
		Title        *string `json:"title" validate:"omitempty,max=500"`
		Artist       *string `json:"artist" validate:"omitempty,max=500"`
		Album        *string `json:"album" validate:"omitempty,max=500"`
		Genre        *string `json:"genre" validate:"omitempty,max=200"`
		Year         *int    `json:"year" validate:"omitempty,gte=0,lte=9999"`
		CoverArt     []byte  `json:"cover_art,omitempty"`
		CoverArtMime string  `json:"cover_art_mime_type,omitempty"`
	}

	// ArchiveRequest selects which listing indices to zip. Empty means
	// everything.
	ArchiveRequest struct {
		Indices []int `json:"indices"`
	}

	Controller struct {
		validate *validator.Validate
		ws       *workspace.Workspace
		tagger   *tagging.Service
		log      logger.Logger
	}
)

func New(validate *validator.Validate, ws *workspace.Workspace, tagger *tagging.Service, log logger.Logger) *Controller {
	return &Controller{validate: validate, ws: ws, tagger: tagger, log: log}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/", controller.upload)
	eg.DELETE("/", controller.clear)
	eg.GET("/stats/", controller.stats)
	eg.GET("/latest/", controller.downloadLatest)
	eg.POST("/archive/", controller.archive)
	eg.GET("/:name/", controller.download)
	eg.GET("/:name/metadata/", controller.getMetadata)
	eg.PATCH("/:name/metadata/", controller.updateMetadata)
	eg.GET("/:name/cover/", controller.getCover)
	eg.PUT("/:name/cover/", controller.putCover)
}

// list returns every workspace file with its current tags. Files whose
// tags cannot be read still appear, just without metadata.
func (controller *Controller) list(ec echo.Context) error {
	stored, err := controller.ws.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	dtos := make([]*FileDto, len(stored))
	for k, file := range stored {
		dtos[k] = controller.newDto(file)
	}
	return ec.JSON(http.StatusOK, dtos)
}

// upload accepts one or more multipart files under the "files" field.
func (controller *Controller) upload(ec echo.Context) error {
	form, err := ec.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form expected")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files provided under 'files' field")
	}

	incoming := make([]workspace.Incoming, len(headers))
	for k, header := range headers {
		header := header
		if !workspace.Allowed(header.Filename) {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("unsupported file type: %s", header.Filename))
		}
		incoming[k] = workspace.Incoming{
			Name:   header.Filename,
			Prefix: workspace.PrefixUpload,
			Open:   func() (io.ReadCloser, error) { return header.Open() },
		}
	}

	stored, err := controller.ws.AddAll(ec.Request().Context(), incoming)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	dtos := make([]*FileDto, len(stored))
	for k, file := range stored {
		dtos[k] = controller.newDto(file)
	}
	controller.log.Emit(logger.INFO, "uploaded %d file(s)", len(stored))
	return ec.JSON(http.StatusCreated, dtos)
}

// download streams a stored file back under its original name.
func (controller *Controller) download(ec echo.Context) error {
	path, err := controller.ws.Path(ec.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return ec.Attachment(path, workspace.OriginalName(ec.Param("name")))
}

func (controller *Controller) getMetadata(ec echo.Context) error {
	path, err := controller.ws.Path(ec.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	meta, err := controller.tagger.ExtractMetadata(path)
	if err != nil {
		return taggingError(err)
	}
	return ec.JSON(http.StatusOK, meta)
}

// updateMetadata writes the requested tags to a staged copy of the
// file, so the original entry survives a failed write.
func (controller *Controller) updateMetadata(ec echo.Context) error {
	var request UpdateTagsRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	staged, err := controller.ws.Stage(ec.Param("name"))
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	meta := &model.Metadata{
		Title:  request.Title,
		Artist: request.Artist,
		Album:  request.Album,
		Genre:  request.Genre,
		Year:   request.Year,
	}
	if len(request.CoverArt) > 0 {
		mime := request.CoverArtMime
		if mime == "" {
			mime = tagging.DetectImageMime(request.CoverArt)
		}
		meta.SetCover(&model.Image{MimeType: mime, Data: request.CoverArt})
	}

	if err := controller.tagger.ApplyMetadata(staged.Path, meta); err != nil {
		controller.ws.Discard(staged.StoredName)
		return taggingError(err)
	}

	return ec.JSON(http.StatusOK, controller.newDto(staged))
}

// downloadLatest streams the most recently updated file, under its
// original name.
func (controller *Controller) downloadLatest(ec echo.Context) error {
	stored, err := controller.ws.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// List is ordered oldest first; walk it backwards for the newest
	// updated entry.
	for i := len(stored) - 1; i >= 0; i-- {
		if stored[i].Origin == workspace.PrefixUpdated {
			return ec.Attachment(stored[i].Path, stored[i].OriginalName)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "no updated files available")
}

// getCover streams the embedded cover image with its sniffed type.
func (controller *Controller) getCover(ec echo.Context) error {
	path, err := controller.ws.Path(ec.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	meta, err := controller.tagger.ExtractMetadata(path)
	if err != nil {
		return taggingError(err)
	}
	cover := meta.Cover()
	if cover == nil {
		return echo.NewHTTPError(http.StatusNotFound, "file carries no cover art")
	}
	return ec.Blob(http.StatusOK, cover.MimeType, cover.Data)
}

// putCover replaces the embedded cover art with the uploaded image.
func (controller *Controller) putCover(ec echo.Context) error {
	header, err := ec.FormFile("cover")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cover image expected under 'cover' field")
	}

	data, err := readAll(header)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	staged, err := controller.ws.Stage(ec.Param("name"))
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	mime := tagging.DetectImageMime(data)
	if err := controller.tagger.ApplyCoverArt(staged.Path, data, mime); err != nil {
		controller.ws.Discard(staged.StoredName)
		return taggingError(err)
	}

	return ec.JSON(http.StatusOK, controller.newDto(staged))
}

// archive zips the selected files and streams the archive back.
func (controller *Controller) archive(ec echo.Context) error {
	var request ArchiveRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}

	zipPath, err := controller.ws.Archive(request.Indices)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no files to archive")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer os.Remove(zipPath)

	return ec.Attachment(zipPath, "tagsmith-files.zip")
}

func (controller *Controller) stats(ec echo.Context) error {
	stats, err := controller.ws.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ec.JSON(http.StatusOK, stats)
}

func (controller *Controller) clear(ec echo.Context) error {
	removed, err := controller.ws.Clear()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ec.JSON(http.StatusOK, map[string]int{"removed": removed})
}

// newDto pairs a workspace entry with its tags. Extraction failures
// are logged, not fatal: the listing still shows the file.
func (controller *Controller) newDto(file *workspace.StoredFile) *FileDto {
	dto := &FileDto{
		Filename:       file.OriginalName,
		StoredFilename: file.StoredName,
		Platform:       file.Origin,
		Size:           file.Size,
	}

	meta, err := controller.tagger.ExtractMetadata(file.Path)
	if err != nil {
		controller.log.Emit(logger.WARNING, "cannot read tags of %s: %v", file.StoredName, err)
		return dto
	}
	// Listings should stay light: sizes go up fast with art embedded.
	meta.CoverArt = nil
	meta.CoverArtMimeType = ""
	dto.Metadata = meta
	return dto
}

// taggingError maps tag layer failures onto HTTP status codes. The
// checks unwrap through UpdateError, so a rejected container stays a
// client error (422) whether it failed on read or mid-update, while
// an update that failed saving is the server's fault (500).
func taggingError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, tagging.ErrUnsupported):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, tagging.ErrNoTagHeader),
		errors.Is(err, tagging.ErrUnreadable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func readAll(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	return io.ReadAll(src)
}
