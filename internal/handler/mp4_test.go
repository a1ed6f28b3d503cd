package handler

import (
	"os"
	"path/filepath"
	"testing"

	mp4 "github.com/abema/go-mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagsmith/tagsmith/internal/model"
)

// newM4A writes the smallest box tree the rewrite path accepts: a
// moov box holding an empty udta box.
func newM4A(t *testing.T) string {
	t.Helper()
	data := []byte{
		0x00, 0x00, 0x00, 0x10, 'm', 'o', 'o', 'v',
		0x00, 0x00, 0x00, 0x08, 'u', 'd', 't', 'a',
	}

	path := filepath.Join(t.TempDir(), "track.m4a")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestMP4RoundTrip(t *testing.T) {
	path := newM4A(t)
	h := &MP4Handler{}

	err := h.Apply(path, &model.Metadata{
		Title:            model.String("Song"),
		Artist:           model.String("Band"),
		Album:            model.String("Record"),
		Year:             model.Int(2010),
		Genre:            model.String("Pop"),
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
	assert.Equal(t, 2010, *meta.Year)
	require.NotNil(t, meta.Genre)
	assert.Equal(t, "Pop", *meta.Genre)

	cover := meta.Cover()
	require.NotNil(t, cover)
	assert.Equal(t, "image/jpeg", cover.MimeType, "covr carries no MIME; type comes from sniffing")
	assert.Equal(t, jpegBytes, cover.Data)
}

// The end-to-end sharp-edge scenario: an existing PNG cover plus a
// title-only update leaves the new title in place and no cover.
func TestMP4UpdateWithoutCoverRemovesExistingCover(t *testing.T) {
	path := newM4A(t)
	h := &MP4Handler{}

	require.NoError(t, h.Apply(path, &model.Metadata{
		Title:            model.String("Old"),
		CoverArt:         pngBytes,
		CoverArtMimeType: "image/png",
	}))

	require.NoError(t, h.Apply(path, &model.Metadata{Title: model.String("New")}))

	meta, err := h.Extract(path)
	require.NoError(t, err)
	require.NotNil(t, meta.Title)
	assert.Equal(t, "New", *meta.Title)
	assert.Nil(t, meta.Cover())
}

func TestMP4MergeLeavesExistingFields(t *testing.T) {
	path := newM4A(t)
	h := &MP4Handler{}

	require.NoError(t, h.Apply(path, &model.Metadata{Title: model.String("A")}))
	require.NoError(t, h.Apply(path, &model.Metadata{Album: model.String("X")}))

	meta, err := h.Extract(path)
	require.NoError(t, err)
	require.NotNil(t, meta.Title)
	assert.Equal(t, "A", *meta.Title)
	require.NotNil(t, meta.Album)
	assert.Equal(t, "X", *meta.Album)
}

func TestMergeIlstEntriesReplacesWithoutDuplicates(t *testing.T) {
	entries := []ilstEntry{
		{atom: atomTitle, dataType: uint32(mp4.DataTypeStringUTF8), payload: []byte("Old")},
		{atom: atomGenre, dataType: uint32(mp4.DataTypeStringUTF8), payload: []byte("Rock")},
	}

	merged := mergeIlstEntries(entries, &model.Metadata{Title: model.String("New")})

	var titles []string
	for _, entry := range merged {
		if entry.atom == atomTitle {
			titles = append(titles, string(entry.payload))
		}
	}
	assert.Equal(t, []string{"New"}, titles)

	genre, ok := firstAtomString(merged, atomGenre)
	require.True(t, ok, "unmanaged entries survive the merge")
	assert.Equal(t, "Rock", genre)
}

func TestMergeIlstEntriesCoercesCoverMime(t *testing.T) {
	gif := []byte("GIF89a..")

	merged := mergeIlstEntries(nil, &model.Metadata{
		CoverArt:         gif,
		CoverArtMimeType: "image/gif",
	})

	require.Len(t, merged, 1)
	assert.Equal(t, atomCover, merged[0].atom)
	assert.Equal(t, mp4CoverTypeJPEG, merged[0].dataType, "non-PNG covers are stored with the JPEG indicator")

	merged = mergeIlstEntries(nil, &model.Metadata{
		CoverArt:         pngBytes,
		CoverArtMimeType: "image/png",
	})
	require.Len(t, merged, 1)
	assert.Equal(t, mp4CoverTypePNG, merged[0].dataType)
}

func TestMP4ApplyWithoutMoovBox(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.m4a")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	err := (&MP4Handler{}).Apply(path, &model.Metadata{Title: model.String("x")})
	assert.ErrorIs(t, err, ErrNoTagHeader)
}
