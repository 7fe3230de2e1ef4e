// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package framesource

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/scanlink/internal/frame"
	xglog "github.com/ManuGH/scanlink/internal/log"
	"github.com/ManuGH/scanlink/internal/metrics"
	"github.com/fsnotify/fsnotify"
)

// DefaultPattern matches the image files the watcher loads.
const DefaultPattern = "*.{png,jpg,jpeg,gif}"

// LoadFile decodes an image file into a Gray8 frame.
func LoadFile(path string) (*frame.Frame, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	fr, err := ReadFrame(f, st.ModTime())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fr, nil
}

// ReadFrame decodes a PNG, JPEG or GIF stream into a Gray8 frame stamped ts.
func ReadFrame(r io.Reader, ts time.Time) (*frame.Frame, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return frame.FromImage(img, 0, ts), nil
}

// Match reports whether the base name of path matches pattern. Besides
// filepath.Match syntax, pattern may hold one {a,b,c} alternation group.
func Match(pattern, path string) bool {
	name := strings.ToLower(filepath.Base(path))
	pattern = strings.ToLower(pattern)
	for _, p := range expandBraces(pattern) {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func expandBraces(pattern string) []string {
	open := strings.IndexByte(pattern, '{')
	end := strings.IndexByte(pattern, '}')
	if open < 0 || end < open {
		return []string{pattern}
	}
	alts := strings.Split(pattern[open+1:end], ",")
	out := make([]string, 0, len(alts))
	for _, a := range alts {
		out = append(out, pattern[:open]+a+pattern[end+1:])
	}
	return out
}

// WatchDir publishes every image file created or rewritten in dir until ctx
// ends. Files that fail to decode are skipped; a later write retries them.
func (s *Source) WatchDir(ctx context.Context, dir, pattern string) error {
	if pattern == "" {
		pattern = DefaultPattern
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	logger := s.logger.With().Str(xglog.FieldPath, dir).Logger()
	logger.Info().Str("pattern", pattern).Msg("watching directory for frames")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("directory watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !Match(pattern, event.Name) {
				metrics.IncWatchedFile("skipped")
				continue
			}
			f, err := LoadFile(event.Name)
			if err != nil {
				// Create often fires before the writer has flushed.
				metrics.IncWatchedFile("error")
				logger.Debug().Err(err).Str("file", event.Name).Msg("frame file not readable yet")
				continue
			}
			metrics.IncWatchedFile("loaded")
			s.Publish(f)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}
