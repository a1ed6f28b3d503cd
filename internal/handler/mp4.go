package handler

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	mp4 "github.com/abema/go-mp4"

	"github.com/tagsmith/tagsmith/internal/model"
)

// MP4Handler is the atom-tagged container variant: scalar fields live
// in ilst atoms, the cover in the covr atom. Writes rebuild the whole
// box tree into a sibling temp file which then replaces the original,
// so existing atoms are lifted into memory and merged first.
type MP4Handler struct{}

// iTunes data-type indicators for covr payloads. The atom encodes the
// image format as this enum, not as a MIME string.
const (
	mp4CoverTypeJPEG uint32 = 13
	mp4CoverTypePNG  uint32 = 14
)

var (
	atomTitle  = mp4.StrToBoxType("\251nam")
	atomArtist = mp4.StrToBoxType("\251ART")
	atomAlbum  = mp4.StrToBoxType("\251alb")
	atomDate   = mp4.StrToBoxType("\251day")
	atomGenre  = mp4.StrToBoxType("\251gen")
	atomCover  = mp4.StrToBoxType("covr")
)

// ilstEntry is one data atom lifted out of the ilst box: its parent
// atom type, the iTunes data-type indicator, and the raw payload.
type ilstEntry struct {
	atom     mp4.BoxType
	dataType uint32
	payload  []byte
}

func (h *MP4Handler) Extract(path string) (*model.Metadata, error) {
	entries, err := readIlstEntries(path)
	if err != nil {
		return nil, err
	}

	meta := &model.Metadata{}
	if v, ok := firstAtomString(entries, atomTitle); ok {
		meta.Title = model.String(v)
	}
	if v, ok := firstAtomString(entries, atomArtist); ok {
		meta.Artist = model.String(v)
	}
	if v, ok := firstAtomString(entries, atomAlbum); ok {
		meta.Album = model.String(v)
	}
	if v, ok := firstAtomString(entries, atomDate); ok {
		meta.Year = model.ParseYear(v)
	}
	if v, ok := firstAtomString(entries, atomGenre); ok {
		meta.Genre = model.String(v)
	}

	// The covr atom carries no MIME string, only a format enum, so
	// the type is derived from the image bytes themselves.
	for _, entry := range entries {
		if entry.atom == atomCover {
			if len(entry.payload) > 0 {
				meta.SetCover(&model.Image{
					MimeType: DetectImageMime(entry.payload),
					Data:     entry.payload,
				})
			}
			break
		}
	}

	return meta, nil
}

func (h *MP4Handler) Apply(path string, meta *model.Metadata) error {
	entries, err := readIlstEntries(path)
	if err != nil {
		return err
	}

	return rewriteIlst(path, mergeIlstEntries(entries, meta))
}

// mergeIlstEntries folds the populated fields of meta into the
// existing atom list. Managed atoms are dropped before the single
// replacement is appended, avoiding the duplicate-atom accumulation
// naive appends produce. Cover atoms follow the tri-state rule: they
// are always dropped, and re-added only when meta carries a cover.
// Any non-PNG cover MIME is coerced to the JPEG indicator; the atom
// format only distinguishes those two encodings.
func mergeIlstEntries(entries []ilstEntry, meta *model.Metadata) []ilstEntry {
	if meta.Title != nil {
		entries = replaceAtom(entries, atomTitle, *meta.Title)
	}
	if meta.Artist != nil {
		entries = replaceAtom(entries, atomArtist, *meta.Artist)
	}
	if meta.Album != nil {
		entries = replaceAtom(entries, atomAlbum, *meta.Album)
	}
	if meta.Year != nil {
		entries = replaceAtom(entries, atomDate, strconv.Itoa(*meta.Year))
	}
	if meta.Genre != nil {
		entries = replaceAtom(entries, atomGenre, *meta.Genre)
	}

	entries = dropAtom(entries, atomCover)
	if cover := meta.Cover(); cover != nil {
		coverType := mp4CoverTypeJPEG
		if cover.MimeType == "image/png" {
			coverType = mp4CoverTypePNG
		}
		entries = append(entries, ilstEntry{atom: atomCover, dataType: coverType, payload: cover.Data})
	}

	return entries
}

func replaceAtom(entries []ilstEntry, atom mp4.BoxType, value string) []ilstEntry {
	entries = dropAtom(entries, atom)
	return append(entries, ilstEntry{
		atom:     atom,
		dataType: uint32(mp4.DataTypeStringUTF8),
		payload:  []byte(value),
	})
}

func dropAtom(entries []ilstEntry, atom mp4.BoxType) []ilstEntry {
	kept := entries[:0]
	for _, entry := range entries {
		if entry.atom != atom {
			kept = append(kept, entry)
		}
	}
	return kept
}

func firstAtomString(entries []ilstEntry, atom mp4.BoxType) (string, bool) {
	for _, entry := range entries {
		if entry.atom == atom {
			return string(entry.payload), true
		}
	}
	return "", false
}

// readIlstEntries walks moov>udta>meta>ilst and lifts every data atom
// it can expand. A file without an ilst box yields an empty list.
func readIlstEntries(path string) ([]ilstEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer file.Close()

	var (
		entries     []ilstEntry
		currentAtom mp4.BoxType
	)

	_, err = mp4.ReadBoxStructure(file, func(rh *mp4.ReadHandle) (interface{}, error) {
		if !rh.BoxInfo.IsSupportedType() {
			return nil, nil
		}

		switch rh.BoxInfo.Type {
		case mp4.BoxTypeMoov(), mp4.BoxTypeUdta(), mp4.BoxTypeMeta(), mp4.BoxTypeIlst():
			return rh.Expand()
		}

		if rh.BoxInfo.Context.UnderIlst && !rh.BoxInfo.Context.UnderIlstMeta {
			currentAtom = rh.BoxInfo.Type
			return rh.Expand()
		}

		if rh.BoxInfo.Type == mp4.BoxTypeData() && rh.BoxInfo.Context.UnderIlstMeta {
			buf := new(bytes.Buffer)
			if _, err := rh.ReadData(buf); err != nil {
				return nil, err
			}
			raw := buf.Bytes()
			// 4 bytes data-type indicator, 4 bytes locale, then payload.
			if len(raw) < 8 {
				return nil, nil
			}
			entries = append(entries, ilstEntry{
				atom:     currentAtom,
				dataType: uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3]),
				payload:  raw[8:],
			})
		}

		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	return entries, nil
}

// rewriteIlst copies the box tree into a temp file with the ilst box
// replaced by the given entries, creating udta/meta boxes along the
// way when the source never had them, then swaps the temp file in.
func rewriteIlst(path string, entries []ilstEntry) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer file.Close()

	moovBoxes, err := mp4.ExtractBox(file, nil, mp4.BoxPath{mp4.BoxTypeMoov()})
	if err != nil {
		return fmt.Errorf("scanning box tree: %w", err)
	}
	if len(moovBoxes) == 0 {
		return fmt.Errorf("%w: file has no moov box", ErrNoTagHeader)
	}

	udtaBoxes, err := mp4.ExtractBox(file, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeUdta()})
	if err != nil {
		return fmt.Errorf("scanning box tree: %w", err)
	}
	metaBoxes, err := mp4.ExtractBox(file, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeUdta(), mp4.BoxTypeMeta()})
	if err != nil {
		return fmt.Errorf("scanning box tree: %w", err)
	}
	noUdtaBox := len(udtaBoxes) == 0
	noMetaBox := len(metaBoxes) == 0

	tempPath := path + ".tagsmith_tmp"
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		tempFile.Close()
		os.Remove(tempPath)
	}()

	w := mp4.NewWriter(tempFile)

	_, err = mp4.ReadBoxStructure(file, func(rh *mp4.ReadHandle) (interface{}, error) {
		switch rh.BoxInfo.Type {
		case mp4.BoxTypeMoov(), mp4.BoxTypeUdta(), mp4.BoxTypeMeta():
			if _, err := w.StartBox(&rh.BoxInfo); err != nil {
				return nil, err
			}

			box, _, err := rh.ReadPayload()
			if err != nil {
				return nil, err
			}
			if _, err := mp4.Marshal(w, box, rh.BoxInfo.Context); err != nil {
				return nil, err
			}

			createUdta := noUdtaBox && rh.BoxInfo.Type == mp4.BoxTypeMoov()
			createMeta := noMetaBox && !noUdtaBox && rh.BoxInfo.Type == mp4.BoxTypeUdta()

			if createUdta {
				if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeUdta()}); err != nil {
					return nil, err
				}
				createMeta = true
			}

			if createMeta {
				if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeMeta()}); err != nil {
					return nil, err
				}
				if _, err := mp4.Marshal(w, &mp4.Meta{}, mp4.Context{UnderUdta: true}); err != nil {
					return nil, err
				}
			}

			if createMeta || rh.BoxInfo.Type == mp4.BoxTypeMeta() {
				if err := writeIlst(w, entries); err != nil {
					return nil, err
				}
			}

			if createMeta {
				if _, err := w.EndBox(); err != nil {
					return nil, err
				}
			}
			if createUdta {
				if _, err := w.EndBox(); err != nil {
					return nil, err
				}
			}

			if _, err := rh.Expand(); err != nil {
				return nil, err
			}

			_, err = w.EndBox()
			return nil, err

		case mp4.BoxTypeIlst():
			// Replaced wholesale by writeIlst above.
			return nil, nil

		default:
			return nil, w.CopyBox(file, &rh.BoxInfo)
		}
	})
	if err != nil {
		return fmt.Errorf("rewriting MP4 boxes: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("flushing temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("replacing original file: %w", err)
	}

	return nil
}

func writeIlst(w *mp4.Writer, entries []ilstEntry) error {
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeIlst()}); err != nil {
		return err
	}

	for _, entry := range entries {
		if _, err := w.StartBox(&mp4.BoxInfo{Type: entry.atom}); err != nil {
			return err
		}
		if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeData()}); err != nil {
			return err
		}

		data := &mp4.Data{DataType: entry.dataType, Data: entry.payload}
		if _, err := mp4.Marshal(w, data, mp4.Context{UnderIlstMeta: true}); err != nil {
			return err
		}

		if _, err := w.EndBox(); err != nil {
			return err
		}
		if _, err := w.EndBox(); err != nil {
			return err
		}
	}

	_, err := w.EndBox()
	return err
}
