package handler

import (
	"fmt"
	"strconv"

	id3v2 "github.com/bogem/id3v2/v2"

	"github.com/tagsmith/tagsmith/internal/model"
)

// ID3Handler is the frame-tagged container variant, backed by ID3v2
// frames. Files without any tag block read back as empty metadata
// and have a tag block created on the first write.
type ID3Handler struct{}

// Ordered candidate frame IDs per scalar field: the canonical ID3v2.4
// frame first, then the legacy fallback.
var id3FieldFrames = map[string][]string{
	"title":  {"TIT2"},
	"artist": {"TPE1"},
	"album":  {"TALB"},
	"date":   {"TDRC", "TYER"},
	"genre":  {"TCON"},
}

func (h *ID3Handler) Extract(path string) (*model.Metadata, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer tag.Close()

	meta := &model.Metadata{}
	if v, ok := id3TextFrame(tag, id3FieldFrames["title"]); ok {
		meta.Title = model.String(v)
	}
	if v, ok := id3TextFrame(tag, id3FieldFrames["artist"]); ok {
		meta.Artist = model.String(v)
	}
	if v, ok := id3TextFrame(tag, id3FieldFrames["album"]); ok {
		meta.Album = model.String(v)
	}
	if v, ok := id3TextFrame(tag, id3FieldFrames["date"]); ok {
		meta.Year = model.ParseYear(v)
	}
	if v, ok := id3TextFrame(tag, id3FieldFrames["genre"]); ok {
		meta.Genre = model.String(v)
	}
	meta.SetCover(id3Cover(tag))

	return meta, nil
}

func id3TextFrame(tag *id3v2.Tag, frameIDs []string) (string, bool) {
	for _, id := range frameIDs {
		if text := tag.GetTextFrame(id).Text; text != "" {
			return text, true
		}
	}
	return "", false
}

// id3Cover returns the first APIC frame as an image. When the first
// matching frame lacks payload or MIME the whole container counts as
// coverless; later frames are not consulted.
func id3Cover(tag *id3v2.Tag) *model.Image {
	frames := tag.GetFrames("APIC")
	if len(frames) == 0 {
		return nil
	}

	picture, ok := frames[0].(id3v2.PictureFrame)
	if !ok || len(picture.Picture) == 0 || picture.MimeType == "" {
		return nil
	}

	return &model.Image{MimeType: picture.MimeType, Data: picture.Picture}
}

func (h *ID3Handler) Apply(path string, meta *model.Metadata) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer tag.Close()

	tag.SetVersion(4)

	if meta.Title != nil {
		tag.AddTextFrame("TIT2", id3v2.EncodingUTF8, *meta.Title)
	}
	if meta.Artist != nil {
		tag.AddTextFrame("TPE1", id3v2.EncodingUTF8, *meta.Artist)
	}
	if meta.Album != nil {
		tag.AddTextFrame("TALB", id3v2.EncodingUTF8, *meta.Album)
	}
	if meta.Year != nil {
		tag.AddTextFrame("TDRC", id3v2.EncodingUTF8, strconv.Itoa(*meta.Year))
	}
	if meta.Genre != nil {
		tag.AddTextFrame("TCON", id3v2.EncodingUTF8, *meta.Genre)
	}

	// Covers are replaced wholesale: every existing APIC frame goes,
	// then at most one new frame is added.
	tag.DeleteFrames("APIC")
	if cover := meta.Cover(); cover != nil {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    cover.MimeType,
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     cover.Data,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("saving ID3 tag: %w", err)
	}

	return nil
}
