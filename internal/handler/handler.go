// Package handler selects the tag container implementation for an
// audio file. The variant is decided exactly once, when the path is
// handed to ForPath; every subsequent operation runs against that one
// handler rather than probing capabilities per call.
package handler

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/tagsmith/tagsmith/internal/model"
)

var (
	// ErrUnreadable reports a file the tag codec could not open.
	ErrUnreadable = errors.New("unable to read audio file")

	// ErrNoTagHeader reports a container whose format requires an
	// explicit tag block that is missing.
	ErrNoTagHeader = errors.New("no tag header found in file")

	// ErrUnsupported reports a file extension no handler covers.
	ErrUnsupported = errors.New("unsupported audio format")
)

// Handler is one tag container variant, opened per operation from a
// file path. Apply follows merge semantics: populated fields of the
// given metadata overwrite, absent fields leave existing tags alone.
// The cover pair is tri-state: present and non-empty replaces every
// existing cover with one new entry, absent or empty strips all
// covers. There is no way to keep an existing cover without
// resending its bytes.
type Handler interface {
	Extract(path string) (*model.Metadata, error)
	Apply(path string, meta *model.Metadata) error
}

// ForPath returns the handler matching the file's extension.
// Dispatch order is fixed: frame-tagged, then atom-tagged, then
// picture-block-tagged.
func ForPath(path string) (Handler, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return &ID3Handler{}, nil
	case ".m4a", ".mp4":
		return &MP4Handler{}, nil
	case ".flac":
		return &FLACHandler{}, nil
	default:
		return nil, ErrUnsupported
	}
}
