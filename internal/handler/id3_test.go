package handler

import (
	"os"
	"path/filepath"
	"testing"

	id3v2 "github.com/bogem/id3v2/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagsmith/tagsmith/internal/model"
)

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46, 0x49, 0x46}

// newMP3 creates a tagless file; the ID3 handler initializes a tag
// block on the first write rather than failing.
func newMP3(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "track.mp3")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func TestID3RoundTrip(t *testing.T) {
	path := newMP3(t)
	h := &ID3Handler{}

	err := h.Apply(path, &model.Metadata{
		Title:            model.String("Song"),
		Artist:           model.String("Band"),
		Album:            model.String("Record"),
		Year:             model.Int(2004),
		Genre:            model.String("Rock"),
		CoverArt:         jpegBytes,
		CoverArtMimeType: "image/jpeg",
	})
	require.NoError(t, err)

	meta, err := h.Extract(path)
	require.NoError(t, err)

	require.NotNil(t, meta.Title)
	assert.Equal(t, "Song", *meta.Title)
	require.NotNil(t, meta.Artist)
	assert.Equal(t, "Band", *meta.Artist)
	require.NotNil(t, meta.Album)
	assert.Equal(t, "Record", *meta.Album)
	require.NotNil(t, meta.Year)
	assert.Equal(t, 2004, *meta.Year)
	require.NotNil(t, meta.Genre)
	assert.Equal(t, "Rock", *meta.Genre)

	cover := meta.Cover()
	require.NotNil(t, cover)
	assert.Equal(t, "image/jpeg", cover.MimeType)
	assert.Equal(t, jpegBytes, cover.Data)
}

func TestID3MergeLeavesExistingFields(t *testing.T) {
	path := newMP3(t)
	h := &ID3Handler{}

	require.NoError(t, h.Apply(path, &model.Metadata{Title: model.String("A")}))
	require.NoError(t, h.Apply(path, &model.Metadata{Album: model.String("X")}))

	meta, err := h.Extract(path)
	require.NoError(t, err)
	require.NotNil(t, meta.Title)
	assert.Equal(t, "A", *meta.Title, "absent fields must not clear existing tags")
	require.NotNil(t, meta.Album)
	assert.Equal(t, "X", *meta.Album)
}

func TestID3CoverTriState(t *testing.T) {
	path := newMP3(t)
	h := &ID3Handler{}

	require.NoError(t, h.Apply(path, &model.Metadata{
		CoverArt:         jpegBytes,
		CoverArtMimeType: "image/jpeg",
	}))
	meta, err := h.Extract(path)
	require.NoError(t, err)
	require.NotNil(t, meta.Cover())

	// An update without cover fields strips the existing cover.
	require.NoError(t, h.Apply(path, &model.Metadata{Title: model.String("New")}))
	meta, err = h.Extract(path)
	require.NoError(t, err)
	assert.Nil(t, meta.Cover())
	require.NotNil(t, meta.Title)
	assert.Equal(t, "New", *meta.Title)
}

func TestID3ApplyIsIdempotent(t *testing.T) {
	path := newMP3(t)
	h := &ID3Handler{}

	update := &model.Metadata{
		Title:            model.String("Song"),
		CoverArt:         jpegBytes,
		CoverArtMimeType: "image/jpeg",
	}
	require.NoError(t, h.Apply(path, update))
	first, err := h.Extract(path)
	require.NoError(t, err)

	require.NoError(t, h.Apply(path, update))
	second, err := h.Extract(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestID3YearDegradesFromFullDate(t *testing.T) {
	// A full-date TDRC value laid down by another tool degrades to
	// its leading year on extraction.
	path := newMP3(t)
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	tag.AddTextFrame("TDRC", id3v2.EncodingUTF8, "2004-05-01")
	require.NoError(t, tag.Save())
	require.NoError(t, tag.Close())

	meta, err := (&ID3Handler{}).Extract(path)
	require.NoError(t, err)
	require.NotNil(t, meta.Year)
	assert.Equal(t, 2004, *meta.Year)
}
