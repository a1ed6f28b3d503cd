package handler

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagsmith/tagsmith/internal/model"
)

// pngBytes is a real decodable 1x1 PNG: flacpicture parses the image
// for its dimensions, so a bare magic-number stub is rejected.
var pngBytes, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAAEUlEQVR4nGJiYGBgAAQAAP//AA8AA/6P688AAAAASUVORK5CYII=")

// newFLAC writes a minimal valid FLAC container: the stream marker,
// an empty STREAMINFO block marked final, and one sync-coded audio
// frame header so the stream section is non-empty.
func newFLAC(t *testing.T) string {
	t.Helper()
	data := append([]byte("fLaC"), 0x80, 0x00, 0x00, 0x22)
	data = append(data, make([]byte, 34)...)
	data = append(data, 0xFF, 0xF8, 0x00, 0x00)

	path := filepath.Join(t.TempDir(), "track.flac")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFLACRoundTrip(t *testing.T) {
	path := newFLAC(t)
	h := &FLACHandler{}

	err := h.Apply(path, &model.Metadata{
		Title:            model.String("Song"),
		Artist:           model.String("Band"),
		Album:            model.String("Record"),
		Year:             model.Int(1999),
		Genre:            model.String("Jazz"),
		CoverArt:         pngBytes,
		CoverArtMimeType: "image/png",
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
	assert.Equal(t, 1999, *meta.Year)
	require.NotNil(t, meta.Genre)
	assert.Equal(t, "Jazz", *meta.Genre)

	cover := meta.Cover()
	require.NotNil(t, cover)
	assert.Equal(t, "image/png", cover.MimeType)
	assert.Equal(t, pngBytes, cover.Data)
}

func TestFLACMergePreservesUnmanagedComments(t *testing.T) {
	path := newFLAC(t)

	// Lay down a comment this service does not manage.
	file, err := flac.ParseFile(path)
	require.NoError(t, err)
	comment := flacvorbis.New()
	require.NoError(t, comment.Add("TRACKNUMBER", "7"))
	require.NoError(t, comment.Add("TITLE", "Old"))
	block := comment.Marshal()
	file.Meta = append(file.Meta, &block)
	require.NoError(t, file.Save(path))

	h := &FLACHandler{}
	require.NoError(t, h.Apply(path, &model.Metadata{Title: model.String("New")}))

	meta, err := h.Extract(path)
	require.NoError(t, err)
	require.NotNil(t, meta.Title)
	assert.Equal(t, "New", *meta.Title)

	file, err = flac.ParseFile(path)
	require.NoError(t, err)
	entries := flacComments(file.Meta)
	v, ok := firstComment(entries, "TRACKNUMBER")
	require.True(t, ok, "unmanaged comments must survive an update")
	assert.Equal(t, "7", v)
}

func TestFLACCoverTriState(t *testing.T) {
	path := newFLAC(t)
	h := &FLACHandler{}

	require.NoError(t, h.Apply(path, &model.Metadata{
		CoverArt:         pngBytes,
		CoverArtMimeType: "image/png",
	}))
	meta, err := h.Extract(path)
	require.NoError(t, err)
	require.NotNil(t, meta.Cover())

	require.NoError(t, h.Apply(path, &model.Metadata{Genre: model.String("Jazz")}))
	meta, err = h.Extract(path)
	require.NoError(t, err)
	assert.Nil(t, meta.Cover(), "update without cover fields strips the picture block")
}

func TestFLACApplyIsIdempotent(t *testing.T) {
	path := newFLAC(t)
	h := &FLACHandler{}

	update := &model.Metadata{Title: model.String("Song"), Artist: model.String("Band")}
	require.NoError(t, h.Apply(path, update))
	first, err := h.Extract(path)
	require.NoError(t, err)

	require.NoError(t, h.Apply(path, update))
	second, err := h.Extract(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFLACUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.flac")
	require.NoError(t, os.WriteFile(path, []byte("not flac"), 0o644))

	_, err := (&FLACHandler{}).Extract(path)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestFLACTruncatedStreamIsUnreadable(t *testing.T) {
	// Valid marker and STREAMINFO but zero audio frames, the shape a
	// truncated upload leaves behind. The codec blows up on it, so it
	// must come back as a classified read error, never a panic.
	data := append([]byte("fLaC"), 0x80, 0x00, 0x00, 0x22)
	data = append(data, make([]byte, 34)...)
	path := filepath.Join(t.TempDir(), "truncated.flac")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	h := &FLACHandler{}

	_, err := h.Extract(path)
	assert.ErrorIs(t, err, ErrUnreadable)

	err = h.Apply(path, &model.Metadata{Title: model.String("x")})
	assert.ErrorIs(t, err, ErrUnreadable)
}
