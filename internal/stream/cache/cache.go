// SPDX-License-Identifier: MIT

// Package cache lays out and writes the on-disk segment store:
//
//	<root>/<media_id>/master.m3u8
//	<root>/<media_id>/<quality>/playlist.m3u8
//	<root>/<media_id>/<quality>/segment_NNN.ts
//
// Every artifact is written atomically (temp file + rename) so readers never
// observe partial content under a final name.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/ManuGH/vodhls/internal/domain/stream"
	platformfs "github.com/ManuGH/vodhls/internal/platform/fs"
)

// MinFilenameDigits is the smallest allowed zero-pad width for segment indices.
const MinFilenameDigits = 3

var segmentNameRe = regexp.MustCompile(`^segment_(\d+)\.ts$`)

// Store is the content-addressed segment cache rooted at a single directory.
type Store struct {
	root   string
	digits int
}

// New creates a store rooted at root. digits below MinFilenameDigits are
// raised to it.
func New(root string, digits int) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	if digits < MinFilenameDigits {
		digits = MinFilenameDigits
	}
	return &Store{root: abs, digits: digits}, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string { return s.root }

// SegmentFilename formats the canonical filename for a segment index.
func (s *Store) SegmentFilename(index int) string {
	return fmt.Sprintf("segment_%0*d.ts", s.digits, index)
}

// ParseSegmentName extracts the index from a segment_NNN.ts filename.
// Returns ErrInvalidSegmentName for anything else.
func ParseSegmentName(name string) (int, error) {
	m := segmentNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", stream.ErrInvalidSegmentName, name)
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", stream.ErrInvalidSegmentName, name)
	}
	return idx, nil
}

// PathForSegment returns the confined absolute path for a segment.
func (s *Store) PathForSegment(mediaID, quality string, index int) (string, error) {
	rel := filepath.Join(mediaID, quality, s.SegmentFilename(index))
	return platformfs.ConfineRelPath(s.root, rel)
}

// PathForPlaylist returns the confined absolute path for a variant playlist.
func (s *Store) PathForPlaylist(mediaID, quality string) (string, error) {
	rel := filepath.Join(mediaID, quality, "playlist.m3u8")
	return platformfs.ConfineRelPath(s.root, rel)
}

// PathForMaster returns the confined absolute path for the master playlist.
func (s *Store) PathForMaster(mediaID string) (string, error) {
	rel := filepath.Join(mediaID, "master.m3u8")
	return platformfs.ConfineRelPath(s.root, rel)
}

// TmpPathForSegment returns the temp path an encoder writes before promotion.
func (s *Store) TmpPathForSegment(mediaID, quality string, index int) (string, error) {
	final, err := s.PathForSegment(mediaID, quality, index)
	if err != nil {
		return "", err
	}
	return final + ".tmp", nil
}

// Exists reports whether a regular file is present at path.
func (s *Store) Exists(path string) bool {
	return platformfs.IsRegularFile(path) == nil
}

// Read opens path for streaming reads.
func (s *Store) Read(path string) (io.ReadCloser, error) {
	f, err := os.Open(path) // #nosec G304 -- paths are confined to the cache root
	if err != nil {
		return nil, fmt.Errorf("open cached artifact: %w", err)
	}
	return f, nil
}

// WriteAtomic writes an artifact via the producer and renames it into place.
// Parent directories are created as needed. On producer failure nothing
// remains under the final name.
func (s *Store) WriteAtomic(path string, producer func(io.Writer) error) error {
	return platformfs.WriteFileAtomic(path, producer)
}

// EnsureSegmentDir creates the media/quality directory for segment writes.
func (s *Store) EnsureSegmentDir(mediaID, quality string) error {
	dir, err := platformfs.ConfineRelPath(s.root, filepath.Join(mediaID, quality))
	if err != nil {
		return err
	}
	// #nosec G301 -- 0755 required for serving files via web/nginx
	return os.MkdirAll(dir, 0o755)
}

// PurgeMedia removes every cached artifact for a media id. This is the manual
// eviction path; nothing else deletes cache content.
func (s *Store) PurgeMedia(mediaID string) error {
	dir, err := platformfs.ConfineRelPath(s.root, mediaID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
