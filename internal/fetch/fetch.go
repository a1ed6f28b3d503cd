// Package fetch pulls audio from streaming platforms through an
// external yt-dlp binary and hands the result to the workspace.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tagsmith/tagsmith/internal/config"
	"github.com/tagsmith/tagsmith/internal/logger"
	"github.com/tagsmith/tagsmith/internal/workspace"
)

// Platform identifies a supported source site.
type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformSoundCloud Platform = "soundcloud"
)

var (
	ErrInvalidURL  = fmt.Errorf("url does not match the requested platform")
	ErrTooLong     = fmt.Errorf("track exceeds the maximum allowed duration")
	ErrFetchFailed = fmt.Errorf("fetch failed")
)

var platformPatterns = map[Platform]*regexp.Regexp{
	PlatformYouTube:    regexp.MustCompile(`^https?://(www\.)?(youtube\.com/watch\?|youtu\.be/|music\.youtube\.com/watch\?)`),
	PlatformSoundCloud: regexp.MustCompile(`^https?://(www\.|on\.|m\.)?soundcloud\.com/`),
}

// ValidateURL checks that url belongs to the given platform.
func ValidateURL(platform Platform, url string) error {
	pattern, ok := platformPatterns[platform]
	if !ok || !pattern.MatchString(strings.TrimSpace(url)) {
		return fmt.Errorf("%w: %s", ErrInvalidURL, platform)
	}
	return nil
}

// TrackInfo is what yt-dlp reports about a track before download.
type TrackInfo struct {
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Album    string  `json:"album"`
	Duration float64 `json:"duration"`
}

// Result describes a finished fetch.
type Result struct {
	File *workspace.StoredFile
	Info TrackInfo
}

// Fetcher downloads tracks via yt-dlp into a workspace.
type Fetcher struct {
	cfg config.FetchConfig
	ws  Workspace
	log logger.Logger
}

// Workspace is the slice of workspace behaviour the fetcher needs.
type Workspace interface {
	AddPath(srcPath, originalName, prefix string) (*workspace.StoredFile, error)
}

func New(cfg config.FetchConfig, ws Workspace, log logger.Logger) *Fetcher {
	return &Fetcher{cfg: cfg, ws: ws, log: log}
}

// Fetch probes, downloads and stores one track from url.
func (f *Fetcher) Fetch(ctx context.Context, platform Platform, url string) (*Result, error) {
	if err := ValidateURL(platform, url); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	info, err := f.probe(ctx, url)
	if err != nil {
		return nil, err
	}
	if limit := f.cfg.MaxDuration.Seconds(); info.Duration > limit {
		return nil, fmt.Errorf("%w: %.0fs > %.0fs", ErrTooLong, info.Duration, limit)
	}

	workDir, err := os.MkdirTemp("", "tagsmith-fetch-"+uuid.NewString()[:8])
	if err != nil {
		return nil, fmt.Errorf("creating fetch directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	mp3Path, err := f.download(ctx, url, workDir)
	if err != nil {
		return nil, err
	}

	originalName := sanitizeTitle(info.Title) + ".mp3"
	stored, err := f.ws.AddPath(mp3Path, originalName, string(platform))
	if err != nil {
		return nil, fmt.Errorf("storing fetched track: %w", err)
	}

	f.log.Emit(logger.SUCCESS, "fetched %q from %s", info.Title, platform)
	return &Result{File: stored, Info: *info}, nil
}

// probe asks yt-dlp for track metadata without downloading.
func (f *Fetcher) probe(ctx context.Context, url string) (*TrackInfo, error) {
	cmd := exec.CommandContext(ctx, f.cfg.BinaryPath, "-J", "--no-playlist", url)
	out := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd.Stdout = out
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		f.log.Emit(logger.ERROR, "probe failed for %s: %s", url, firstLine(stderr.String()))
		return nil, fmt.Errorf("%w: probing track info: %v", ErrFetchFailed, err)
	}

	info := new(TrackInfo)
	if err := json.Unmarshal(out.Bytes(), info); err != nil {
		return nil, fmt.Errorf("%w: decoding track info: %v", ErrFetchFailed, err)
	}
	if info.Title == "" {
		info.Title = "untitled"
	}
	return info, nil
}

// download extracts an mp3 into dir and returns its path. A failed
// high-quality pass is retried once at a lower quality; some
// extractors only serve the degraded streams reliably.
func (f *Fetcher) download(ctx context.Context, url, dir string) (string, error) {
	template := filepath.Join(dir, "track.%(ext)s")

	err := f.runDownload(ctx, url, template, "0")
	if err != nil {
		f.log.Emit(logger.WARNING, "high quality fetch failed, retrying degraded: %v", err)
		if err = f.runDownload(ctx, url, template, "5"); err != nil {
			return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
	}

	mp3Path := filepath.Join(dir, "track.mp3")
	if _, err := os.Stat(mp3Path); err != nil {
		return "", fmt.Errorf("%w: no mp3 produced", ErrFetchFailed)
	}
	return mp3Path, nil
}

func (f *Fetcher) runDownload(ctx context.Context, url, template, quality string) error {
	cmd := exec.CommandContext(ctx, f.cfg.BinaryPath,
		"--no-playlist",
		"-x", "--audio-format", "mp3",
		"--audio-quality", quality,
		"-o", template,
		url,
	)
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%v: %s", err, firstLine(stderr.String()))
	}
	return nil
}

var titleUnsafe = regexp.MustCompile(`[\\/:*?"<>|]+`)

// sanitizeTitle turns a track title into a safe base filename.
func sanitizeTitle(title string) string {
	cleaned := titleUnsafe.ReplaceAllString(strings.TrimSpace(title), "_")
	cleaned = strings.Trim(cleaned, "._ ")
	if cleaned == "" {
		return "track-" + time.Now().Format("20060102-150405")
	}
	if len(cleaned) > 80 {
		cleaned = cleaned[:80]
	}
	return cleaned
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
