// Package tagging is the metadata normalization service: a uniform
// read/write view of title, artist, album, year, genre and one
// embedded cover image across the three supported tag container
// variants. It owns no state between calls; every operation opens the
// container, works on it, and releases it before returning.
package tagging

import (
	"errors"
	"fmt"

	"github.com/tagsmith/tagsmith/internal/handler"
	"github.com/tagsmith/tagsmith/internal/logger"
	"github.com/tagsmith/tagsmith/internal/model"
)

// Classified failure kinds. Everything a handler reports is folded
// into one of these at this boundary, with the cause preserved.
var (
	ErrUnreadable  = handler.ErrUnreadable
	ErrNoTagHeader = handler.ErrNoTagHeader
	ErrUnsupported = handler.ErrUnsupported
)

// UpdateError wraps any failure during a mutate-and-save transaction.
type UpdateError struct {
	Path  string
	Cause error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("error updating audio file %s: %v", e.Path, e.Cause)
}

func (e *UpdateError) Unwrap() error { return e.Cause }

// Service exposes the normalization operations to the HTTP layer.
type Service struct {
	log logger.Logger
}

func New(log logger.Logger) *Service {
	return &Service{log: log}
}

// ExtractMetadata opens the container at path and produces the
// canonical record. Failures are terminal: either a full record is
// returned or a classified error, never a partial record.
func (s *Service) ExtractMetadata(path string) (*model.Metadata, error) {
	h, err := handler.ForPath(path)
	if err != nil {
		return nil, err
	}

	meta, err := h.Extract(path)
	if err != nil {
		s.log.Emit(logger.WARNING, "metadata extraction failed for %s: %v", path, err)
		return nil, classifyReadError(err)
	}

	s.log.Emit(logger.DEBUG, "extracted metadata from %s (cover: %v)", path, meta.Cover() != nil)
	return meta, nil
}

// ApplyMetadata merges the populated fields of meta into the
// container at path and persists it. Absent scalar fields are left
// untouched; the cover pair is tri-state — see handler.Handler. This
// means a call that omits the cover fields removes an existing cover;
// callers wanting to keep it must resend its bytes and MIME type.
func (s *Service) ApplyMetadata(path string, meta *model.Metadata) error {
	h, err := handler.ForPath(path)
	if err != nil {
		return err
	}

	if err := h.Apply(path, meta); err != nil {
		s.log.Emit(logger.WARNING, "metadata update failed for %s: %v", path, err)
		return &UpdateError{Path: path, Cause: err}
	}

	s.log.Emit(logger.DEBUG, "updated metadata on %s", path)
	return nil
}

// ApplyCoverArt replaces the embedded cover without touching any
// scalar field. Empty data removes all covers.
func (s *Service) ApplyCoverArt(path string, data []byte, mimeType string) error {
	meta := &model.Metadata{}
	meta.SetCover(&model.Image{MimeType: mimeType, Data: data})
	return s.ApplyMetadata(path, meta)
}

// DetectImageMime reports the MIME type of raw image bytes by magic
// prefix; see handler.DetectImageMime.
func DetectImageMime(data []byte) string {
	return handler.DetectImageMime(data)
}

func classifyReadError(err error) error {
	switch {
	case errors.Is(err, handler.ErrNoTagHeader):
		return err
	case errors.Is(err, handler.ErrUnreadable):
		return err
	default:
		return fmt.Errorf("%w: %v", handler.ErrUnreadable, err)
	}
}
