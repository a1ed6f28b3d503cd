// Package workspace manages the shared directory that holds every
// uploaded, fetched and updated audio file. Stored names embed their
// origin and creation time: {prefix}_{unix}_{cleanname}{ext}.
package workspace

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/tagsmith/tagsmith/internal/logger"
)

// Origin prefixes for stored filenames.
const (
	PrefixUpload     = "upload"
	PrefixYouTube    = "youtube"
	PrefixSoundCloud = "soundcloud"
	PrefixUpdated    = "updated"
)

// AudioExtensions lists the file types accepted into the workspace.
var AudioExtensions = []string{".mp3", ".wav", ".flac", ".m4a", ".ogg", ".aac"}

const maxBaseNameLen = 50

var ErrNotFound = fmt.Errorf("file not found in workspace")

// StoredFile describes one workspace entry.
type StoredFile struct {
	OriginalName string    `json:"filename"`
	StoredName   string    `json:"stored_filename"`
	Path         string    `json:"-"`
	Origin       string    `json:"platform"`
	Size         int64     `json:"size"`
	AddedAt      time.Time `json:"added_at"`
}

// Incoming is one pending upload handed to AddAll.
type Incoming struct {
	Name   string
	Open   func() (io.ReadCloser, error)
	Prefix string
}

// Workspace owns one directory of audio files.
type Workspace struct {
	dir string
	log logger.Logger
	now func() time.Time
}

func New(dir string, log logger.Logger) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}
	return &Workspace{dir: dir, log: log, now: time.Now}, nil
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string { return w.dir }

// Allowed reports whether name has an accepted audio extension.
func Allowed(name string) bool {
	return slices.Contains(AudioExtensions, strings.ToLower(filepath.Ext(name)))
}

// Add copies src into the workspace under a fresh stored name.
func (w *Workspace) Add(src io.Reader, originalName, prefix string) (*StoredFile, error) {
	if !Allowed(originalName) {
		return nil, fmt.Errorf("unsupported file format %q", filepath.Ext(originalName))
	}

	storedName := w.uniqueName(originalName, prefix)
	path := filepath.Join(w.dir, storedName)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating workspace file: %w", err)
	}

	size, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing workspace file: %w", err)
	}

	w.log.Emit(logger.DEBUG, "stored %s as %s (%d bytes)", originalName, storedName, size)

	return &StoredFile{
		OriginalName: originalName,
		StoredName:   storedName,
		Path:         path,
		Origin:       prefix,
		Size:         size,
		AddedAt:      w.now(),
	}, nil
}

// AddAll stores every incoming file, fanning out one goroutine per
// file. The first failure cancels the rest and nothing of the failed
// batch order is lost: results keep input order.
func (w *Workspace) AddAll(ctx context.Context, incoming []Incoming) ([]*StoredFile, error) {
	group, _ := errgroup.WithContext(ctx)
	stored := make([]*StoredFile, len(incoming))

	for i, in := range incoming {
		i, in := i, in
		group.Go(func() error {
			src, err := in.Open()
			if err != nil {
				return fmt.Errorf("opening upload %s: %w", in.Name, err)
			}
			defer src.Close()

			file, err := w.Add(src, in.Name, in.Prefix)
			if err != nil {
				return fmt.Errorf("storing %s: %w", in.Name, err)
			}
			stored[i] = file
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return stored, nil
}

// AddPath copies an existing file (e.g. a finished fetch) into the
// workspace.
func (w *Workspace) AddPath(srcPath, originalName, prefix string) (*StoredFile, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	return w.Add(src, originalName, prefix)
}

// Stage copies a stored file to a fresh "updated" entry and returns
// it. Mutations run against the copy so the original entry survives a
// failed update.
func (w *Workspace) Stage(storedName string) (*StoredFile, error) {
	srcPath, err := w.Path(storedName)
	if err != nil {
		return nil, err
	}

	staged, err := w.AddPath(srcPath, OriginalName(storedName), PrefixUpdated)
	if err != nil {
		return nil, err
	}
	return staged, nil
}

// Discard removes a stored file, ignoring files already gone.
func (w *Workspace) Discard(storedName string) {
	path := filepath.Join(w.dir, filepath.Base(storedName))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.log.Emit(logger.WARNING, "failed to discard %s: %v", storedName, err)
	}
}

// Path resolves a stored name to its absolute path. The name is
// reduced to its base first so callers cannot escape the workspace.
func (w *Workspace) Path(storedName string) (string, error) {
	path := filepath.Join(w.dir, filepath.Base(storedName))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, storedName)
	}
	return path, nil
}

// List returns every workspace entry ordered by the timestamp
// embedded in the stored name, oldest first, falling back to the
// file's modification time when the name carries none.
func (w *Workspace) List() ([]*StoredFile, error) {
	dirEntries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("listing workspace: %w", err)
	}

	files := make([]*StoredFile, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if entry.IsDir() || !Allowed(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		name := entry.Name()
		files = append(files, &StoredFile{
			OriginalName: OriginalName(name),
			StoredName:   name,
			Path:         filepath.Join(w.dir, name),
			Origin:       originOf(name),
			Size:         info.Size(),
			AddedAt:      addedAt(name, info.ModTime()),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].AddedAt.Before(files[j].AddedAt)
	})

	return files, nil
}

// Archive writes the selected entries (all of them when indices is
// empty) into a zip file under the system temp directory and returns
// its path. The caller removes the archive when done serving it.
func (w *Workspace) Archive(indices []int) (string, error) {
	files, err := w.List()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNotFound
	}

	selected := files
	if len(indices) > 0 {
		selected = make([]*StoredFile, 0, len(indices))
		for _, idx := range indices {
			if idx >= 0 && idx < len(files) {
				selected = append(selected, files[idx])
			}
		}
	}
	if len(selected) == 0 {
		return "", ErrNotFound
	}

	zipPath := filepath.Join(os.TempDir(), "tagsmith-archive-"+uuid.NewString()+".zip")
	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}

	zw := zip.NewWriter(zipFile)
	for _, file := range selected {
		if err := addToArchive(zw, file); err != nil {
			zw.Close()
			zipFile.Close()
			os.Remove(zipPath)
			return "", fmt.Errorf("archiving %s: %w", file.StoredName, err)
		}
	}

	if err := zw.Close(); err != nil {
		zipFile.Close()
		os.Remove(zipPath)
		return "", fmt.Errorf("finalizing archive: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		os.Remove(zipPath)
		return "", fmt.Errorf("closing archive: %w", err)
	}

	w.log.Emit(logger.INFO, "archived %d file(s) to %s", len(selected), zipPath)
	return zipPath, nil
}

func addToArchive(zw *zip.Writer, file *StoredFile) error {
	src, err := os.Open(file.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	// Entries carry the original name, not the prefixed stored name.
	dst, err := zw.Create(file.OriginalName)
	if err != nil {
		return err
	}

	_, err = io.Copy(dst, src)
	return err
}

// Stats summarizes the workspace contents.
type Stats struct {
	Count     int   `json:"count"`
	TotalSize int64 `json:"total_size"`
}

// Stat counts the workspace entries and their combined size.
func (w *Workspace) Stat() (*Stats, error) {
	files, err := w.List()
	if err != nil {
		return nil, err
	}

	stats := &Stats{Count: len(files)}
	for _, file := range files {
		stats.TotalSize += file.Size
	}
	return stats, nil
}

// Clear removes every audio file from the workspace and reports how
// many went away.
func (w *Workspace) Clear() (int, error) {
	files, err := w.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, file := range files {
		if err := os.Remove(file.Path); err != nil {
			w.log.Emit(logger.WARNING, "failed to remove %s: %v", file.StoredName, err)
			continue
		}
		removed++
	}

	w.log.Emit(logger.INFO, "cleared %d file(s) from workspace", removed)
	return removed, nil
}

func (w *Workspace) uniqueName(originalName, prefix string) string {
	ext := filepath.Ext(originalName)
	base := cleanFileName(strings.TrimSuffix(filepath.Base(originalName), ext))
	name := fmt.Sprintf("%s_%d_%s%s", prefix, w.now().Unix(), base, ext)

	// Same name within one second: disambiguate with a short suffix.
	if _, err := os.Stat(filepath.Join(w.dir, name)); err == nil {
		name = fmt.Sprintf("%s_%d_%s-%s%s", prefix, w.now().Unix(), base, uuid.NewString()[:8], ext)
	}
	return name
}

var fileNameReplacements = map[rune]string{
	'*': "-", '\\': "", '|': "", ':': "", '"': "",
	'<': "(", '>': ")", '/': "", '?': "",
}

// cleanFileName strips characters that are unsafe in stored names and
// caps the length.
func cleanFileName(name string) string {
	cleaned := new(strings.Builder)
	for _, r := range name {
		if replacement, ok := fileNameReplacements[r]; ok {
			cleaned.WriteString(replacement)
			continue
		}
		cleaned.WriteRune(r)
	}

	result := cleaned.String()
	if len(result) > maxBaseNameLen {
		result = result[:maxBaseNameLen]
	}
	if result == "" {
		result = "audio"
	}
	return result
}

var knownPrefixes = []string{PrefixUpload, PrefixYouTube, PrefixSoundCloud, PrefixUpdated}

// OriginalName strips the origin prefix and timestamp from a stored
// name, recovering the name the file arrived under.
func OriginalName(storedName string) string {
	for _, prefix := range knownPrefixes {
		if strings.HasPrefix(storedName, prefix+"_") {
			parts := strings.SplitN(storedName, "_", 3)
			if len(parts) == 3 {
				return parts[2]
			}
		}
	}
	return storedName
}

func originOf(storedName string) string {
	for _, prefix := range knownPrefixes {
		if strings.HasPrefix(storedName, prefix+"_") {
			return prefix
		}
	}
	return "unknown"
}

func addedAt(storedName string, fallback time.Time) time.Time {
	parts := strings.SplitN(storedName, "_", 3)
	if len(parts) == 3 {
		if unix, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			return time.Unix(unix, 0)
		}
	}
	return fallback
}
