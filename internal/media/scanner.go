// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/log"
)

// videoExtensions are the container types the scanner indexes.
var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true,
	".webm": true, ".ts": true, ".m4v": true, ".wmv": true,
}

const rescanDebounce = 2 * time.Second

// StableID derives the media id from the library-relative path. Ids survive
// restarts and reindexing as long as the file does not move.
func StableID(relPath string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(relPath)))
	return hex.EncodeToString(sum[:8])
}

// Scanner keeps the repository in sync with a library directory: a full walk
// at startup, then fsnotify-driven rescans.
type Scanner struct {
	root    string
	repo    *Repository
	onEvict func(mediaID string) // called when an indexed file disappears
}

// NewScanner creates a scanner over root. onEvict may be nil.
func NewScanner(root string, repo *Repository, onEvict func(mediaID string)) (*Scanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve library root: %w", err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("library root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("library root %s is not a directory", abs)
	}
	return &Scanner{root: abs, repo: repo, onEvict: onEvict}, nil
}

// Scan walks the library once and reconciles the repository against it.
// Indexed entries whose files vanished are removed.
func (s *Scanner) Scan(ctx context.Context) error {
	logger := log.WithComponent("library-scan")
	start := time.Now()

	seen := make(map[string]bool)
	var added int
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, path).Msg("skipping unreadable entry")
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.root {
				return fs.SkipDir
			}
			return nil
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		id := StableID(rel)
		seen[id] = true
		entry := Entry{
			MediaItem: itemFor(id, path),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
		}
		if err := s.repo.Upsert(ctx, entry); err != nil {
			return err
		}
		added++
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk library: %w", err)
	}

	// Drop entries whose files are gone.
	existing, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	var removed int
	for _, e := range existing {
		if seen[e.ID] {
			continue
		}
		if err := s.repo.Delete(ctx, e.ID); err != nil {
			return err
		}
		if s.onEvict != nil {
			s.onEvict(e.ID)
		}
		removed++
	}

	logger.Info().
		Int("indexed", added).
		Int("removed", removed).
		Dur("elapsed", time.Since(start)).
		Msg("library scan complete")
	return nil
}

func itemFor(id, path string) stream.MediaItem {
	base := filepath.Base(path)
	return stream.MediaItem{
		ID:         id,
		SourcePath: path,
		Title:      strings.TrimSuffix(base, filepath.Ext(base)),
	}
}

// Watch blocks until ctx is done, rescanning the library after filesystem
// events. Bursts of events collapse into one debounced rescan.
func (s *Scanner) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch every directory in the tree; fsnotify is not recursive.
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != s.root {
			return fs.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watch library tree: %w", err)
	}

	logger := log.WithComponent("library-watch")
	logger.Info().Str(log.FieldPath, s.root).Msg("watching library")

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			// New directories need their own watch before files land in them.
			if ev.Op&fsnotify.Create != 0 {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(rescanDebounce)
				timerC = timer.C
			} else {
				timer.Reset(rescanDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watcher error")
		case <-timerC:
			timer = nil
			timerC = nil
			if err := s.Scan(ctx); err != nil {
				logger.Error().Err(err).Msg("rescan failed")
			}
		}
	}
}
