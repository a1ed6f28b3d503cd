package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"github.com/tagsmith/tagsmith/internal/model"
	"github.com/tagsmith/tagsmith/internal/version"
)

// FLACHandler is the picture-block-tagged container variant: a Xiph
// comment block for scalar fields plus a separate list of embedded
// picture blocks.
type FLACHandler struct{}

var flacFieldKeys = map[string]string{
	"title":  "TITLE",
	"artist": "ARTIST",
	"album":  "ALBUM",
	"date":   "DATE",
	"genre":  "GENRE",
}

// parseFLACFile wraps flac.ParseFile behind a recover: the library
// indexes into the frame stream without bounds checks, so a file with
// a valid marker but no audio frames (a truncated upload) panics
// instead of erroring. Both outcomes surface as ErrUnreadable.
func parseFLACFile(path string) (file *flac.File, err error) {
	defer func() {
		if r := recover(); r != nil {
			file = nil
			err = fmt.Errorf("%w: malformed flac stream: %v", ErrUnreadable, r)
		}
	}()

	file, err = flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return file, nil
}

func (h *FLACHandler) Extract(path string) (*model.Metadata, error) {
	file, err := parseFLACFile(path)
	if err != nil {
		return nil, err
	}

	comments := flacComments(file.Meta)

	meta := &model.Metadata{}
	if v, ok := firstComment(comments, flacFieldKeys["title"]); ok {
		meta.Title = model.String(v)
	}
	if v, ok := firstComment(comments, flacFieldKeys["artist"]); ok {
		meta.Artist = model.String(v)
	}
	if v, ok := firstComment(comments, flacFieldKeys["album"]); ok {
		meta.Album = model.String(v)
	}
	if v, ok := firstComment(comments, flacFieldKeys["date"]); ok {
		meta.Year = model.ParseYear(v)
	}
	if v, ok := firstComment(comments, flacFieldKeys["genre"]); ok {
		meta.Genre = model.String(v)
	}
	meta.SetCover(flacCover(file.Meta))

	return meta, nil
}

// flacComments collects every NAME=value entry of the first vorbis
// comment block, preserving order. Names are uppercased; Xiph field
// names are case-insensitive.
func flacComments(blocks []*flac.MetaDataBlock) []string {
	for _, block := range blocks {
		if block.Type != flac.VorbisComment {
			continue
		}
		comment, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}

		entries := make([]string, 0, len(comment.Comments))
		for _, entry := range comment.Comments {
			split := strings.SplitN(entry, "=", 2)
			if len(split) != 2 {
				continue
			}
			entries = append(entries, strings.ToUpper(split[0])+"="+split[1])
		}
		return entries
	}
	return nil
}

func firstComment(entries []string, name string) (string, bool) {
	prefix := name + "="
	for _, entry := range entries {
		if strings.HasPrefix(entry, prefix) {
			return entry[len(prefix):], true
		}
	}
	return "", false
}

// flacCover returns the first picture block, requiring both data and
// a MIME string; a first block missing either means "no cover".
func flacCover(blocks []*flac.MetaDataBlock) *model.Image {
	for _, block := range blocks {
		if block.Type != flac.Picture {
			continue
		}
		picture, err := flacpicture.ParseFromMetaDataBlock(*block)
		if err != nil {
			return nil
		}
		if len(picture.ImageData) == 0 || picture.MIME == "" {
			return nil
		}
		return &model.Image{MimeType: picture.MIME, Data: picture.ImageData}
	}
	return nil
}

func (h *FLACHandler) Apply(path string, meta *model.Metadata) error {
	file, err := parseFLACFile(path)
	if err != nil {
		return err
	}

	entries := flacComments(file.Meta)
	vendor := flacVendor(file.Meta)

	if meta.Title != nil {
		entries = replaceComment(entries, flacFieldKeys["title"], *meta.Title)
	}
	if meta.Artist != nil {
		entries = replaceComment(entries, flacFieldKeys["artist"], *meta.Artist)
	}
	if meta.Album != nil {
		entries = replaceComment(entries, flacFieldKeys["album"], *meta.Album)
	}
	if meta.Year != nil {
		entries = replaceComment(entries, flacFieldKeys["date"], strconv.Itoa(*meta.Year))
	}
	if meta.Genre != nil {
		entries = replaceComment(entries, flacFieldKeys["genre"], *meta.Genre)
	}

	// Rebuild the metadata block list: untouched block types stay,
	// comment and picture blocks are reconstructed from scratch.
	blocks := make([]*flac.MetaDataBlock, 0, len(file.Meta)+3)
	for _, block := range file.Meta {
		if block.Type != flac.VorbisComment && block.Type != flac.Picture && block.Type != flac.Padding {
			blocks = append(blocks, block)
		}
	}

	comment := flacvorbis.New()
	comment.Vendor = vendor
	for _, entry := range entries {
		split := strings.SplitN(entry, "=", 2)
		if err := comment.Add(split[0], split[1]); err != nil {
			return fmt.Errorf("rebuilding vorbis comment: %w", err)
		}
	}
	commentBlock := comment.Marshal()
	blocks = append(blocks, &commentBlock)

	if cover := meta.Cover(); cover != nil {
		picture, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Cover", cover.Data, cover.MimeType)
		if err != nil {
			return fmt.Errorf("building picture block: %w", err)
		}
		pictureBlock := picture.Marshal()
		blocks = append(blocks, &pictureBlock)
	}

	padding := flac.MetaDataBlock{Type: flac.Padding, Data: make([]byte, 64)}
	blocks = append(blocks, &padding)
	file.Meta = blocks

	if err := file.Save(path); err != nil {
		return fmt.Errorf("saving FLAC file: %w", err)
	}

	return nil
}

// replaceComment drops every entry under name and appends exactly one
// new entry, so repeated updates never accumulate duplicates.
func replaceComment(entries []string, name, value string) []string {
	prefix := name + "="
	kept := make([]string, 0, len(entries)+1)
	for _, entry := range entries {
		if !strings.HasPrefix(entry, prefix) {
			kept = append(kept, entry)
		}
	}
	return append(kept, prefix+value)
}

func flacVendor(blocks []*flac.MetaDataBlock) string {
	for _, block := range blocks {
		if block.Type != flac.VorbisComment {
			continue
		}
		if comment, err := flacvorbis.ParseFromMetaDataBlock(*block); err == nil && comment.Vendor != "" {
			return comment.Vendor
		}
	}
	return "tagsmith " + version.Version
}
