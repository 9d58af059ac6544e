/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver turns playback items into concrete playable URIs.
// Remote video gets a three-tier fallback ladder: the original URL handed
// straight to the player, then resolver-extracted stream URLs per format
// tier, then a full download into the local cache.
package resolver

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// FormatTiers is the descending quality ladder handed to the fetch tool,
// most-preferred first.
var FormatTiers = []string{
	"bestvideo[height<=720]+bestaudio/best/best",
	"bestvideo[height<=1080]+bestaudio/best/best",
	"bestvideo+bestaudio/best",
	"best",
}

// FetchTool is the external URL-resolution and download collaborator.
type FetchTool interface {
	CandidateURLs(ctx context.Context, url, formatSpec string) ([]string, error)
	Download(ctx context.Context, url, destDir string) (string, error)
}

// Resolver maps item sources onto the media layout and drives the fetch
// tool for remote items.
type Resolver struct {
	imageRoot string
	videoRoot string
	cacheDir  string
	fetch     FetchTool
	logger    zerolog.Logger
}

// New creates a resolver rooted at the given media directories.
func New(imageRoot, videoRoot, cacheDir string, fetch FetchTool, logger zerolog.Logger) *Resolver {
	return &Resolver{
		imageRoot: imageRoot,
		videoRoot: videoRoot,
		cacheDir:  cacheDir,
		fetch:     fetch,
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

// BuildMediaPath resolves an item source to a concrete URI. Absolute paths,
// URLs, and anything already containing a path separator pass through
// verbatim; bare filenames are joined against the kind-specific media root.
func (r *Resolver) BuildMediaPath(src string, kind models.ItemKind) string {
	if src == "" {
		return src
	}
	if strings.HasPrefix(src, "/") || strings.Contains(src, "://") {
		return src
	}
	if strings.ContainsAny(src, `/\`) {
		return src
	}
	switch kind {
	case models.KindVideo:
		return filepath.Join(r.videoRoot, src)
	case models.KindImage:
		return filepath.Join(r.imageRoot, src)
	default:
		return src
	}
}

// CandidateURLs asks the fetch tool for playable stream URLs at one format
// tier.
func (r *Resolver) CandidateURLs(ctx context.Context, url, formatSpec string) ([]string, error) {
	if r.fetch == nil {
		return nil, fmt.Errorf("no fetch tool configured")
	}
	return r.fetch.CandidateURLs(ctx, url, formatSpec)
}

// Download fetches a remote item into the cache and returns the local path.
func (r *Resolver) Download(ctx context.Context, url string) (string, error) {
	if r.fetch == nil {
		return "", fmt.Errorf("no fetch tool configured")
	}
	return r.fetch.Download(ctx, url, r.cacheDir)
}

// Prefetch eagerly downloads a remote item before it reaches the driver.
// On success the item is rewritten in place to a local video file. Failure
// leaves the item untouched; the driver's ladder will deal with it later.
func (r *Resolver) Prefetch(ctx context.Context, item *models.PlaybackItem) bool {
	if item.Kind != models.KindRemoteVideo || !item.Prefetch {
		return false
	}
	local, err := r.Download(ctx, item.Source)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", item.Source).Msg("prefetch failed")
		return false
	}
	r.logger.Info().Str("url", item.Source).Str("local", local).Msg("prefetched remote item")
	item.Kind = models.KindVideo
	item.Source = local
	item.Prefetch = false
	return true
}

// YTDLP shells out to yt-dlp (or youtube-dl) for URL resolution and
// downloads.
type YTDLP struct {
	Binary  string
	Timeout time.Duration
}

// NewYTDLP creates a fetch tool around the given binary.
func NewYTDLP(binary string) *YTDLP {
	return &YTDLP{Binary: binary, Timeout: 20 * time.Second}
}

// CandidateURLs runs `yt-dlp -f <spec> --get-url <url>` and returns one URL
// per output line. Combined formats yield one line, separate video+audio
// streams yield two.
func (y *YTDLP) CandidateURLs(ctx context.Context, url, formatSpec string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, y.Timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, y.Binary, "-f", formatSpec, "--get-url", url).Output()
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", url, err)
	}

	var urls []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			urls = append(urls, line)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("resolve %s: no URLs for format %q", url, formatSpec)
	}
	return urls, nil
}

// Download runs a full fetch into destDir and returns the final file path.
func (y *YTDLP) Download(ctx context.Context, url, destDir string) (string, error) {
	// downloads can legitimately take much longer than URL resolution
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	out, err := exec.CommandContext(ctx, y.Binary,
		"-f", "best",
		"-o", filepath.Join(destDir, "%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
		"--no-simulate",
		url,
	).Output()
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}

	path := strings.TrimSpace(string(out))
	if path == "" {
		return "", fmt.Errorf("download %s: tool reported no file path", url)
	}
	if idx := strings.LastIndex(path, "\n"); idx >= 0 {
		path = strings.TrimSpace(path[idx+1:])
	}
	return path, nil
}
