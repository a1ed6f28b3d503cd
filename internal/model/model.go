package model

import (
	"strconv"
	"strings"
)

// Metadata is the format-independent view of one audio file's tags.
// Nil pointer fields mean "absent"; absent fields are never written
// back to a container and never clear an existing value there.
//
// CoverArt and CoverArtMimeType travel together: a valid record has
// both set or both empty.
type Metadata struct {
	Title  *string `json:"title"`
	Artist *string `json:"artist"`
	Album  *string `json:"album"`
	Year   *int    `json:"year"`
	Genre  *string `json:"genre"`

	CoverArt         []byte `json:"cover_art,omitempty"`
	CoverArtMimeType string `json:"cover_art_mime_type,omitempty"`
}

// Image bundles raw picture bytes with their MIME type.
type Image struct {
	MimeType string
	Data     []byte
}

// Cover returns the embedded cover as an Image, or nil when the
// record carries no cover. A cover without a MIME type is not a
// valid pair and also counts as "no cover".
func (m *Metadata) Cover() *Image {
	if len(m.CoverArt) == 0 || m.CoverArtMimeType == "" {
		return nil
	}
	return &Image{MimeType: m.CoverArtMimeType, Data: m.CoverArt}
}

// SetCover populates both cover fields from an Image. A nil image
// resets the pair to the empty state.
func (m *Metadata) SetCover(img *Image) {
	if img == nil {
		m.CoverArt = nil
		m.CoverArtMimeType = ""
		return
	}
	m.CoverArt = img.Data
	m.CoverArtMimeType = img.MimeType
}

// Merge copies every populated field of other into m. Absent fields
// of other leave m untouched; the cover pair is copied only when
// other actually carries one.
func (m *Metadata) Merge(other *Metadata) {
	if other.Title != nil {
		m.Title = other.Title
	}
	if other.Artist != nil {
		m.Artist = other.Artist
	}
	if other.Album != nil {
		m.Album = other.Album
	}
	if other.Year != nil {
		m.Year = other.Year
	}
	if other.Genre != nil {
		m.Genre = other.Genre
	}
	if cover := other.Cover(); cover != nil {
		m.SetCover(cover)
	}
}

// ParseYear extracts a year from a date-like tag value. Full dates
// degrade to their leading year ("2004-05-01" -> 2004). Anything
// non-numeric yields nil rather than an error.
func ParseYear(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &year
}

// String returns a pointer to s, for building Metadata literals.
func String(s string) *string { return &s }

// Int returns a pointer to n, for building Metadata literals.
func Int(n int) *int { return &n }
