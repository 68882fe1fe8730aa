// SPDX-License-Identifier: MIT

// Package analysis builds and caches the per-media stream analysis: probed
// format, keyframe index, eligible quality ladder and the segment plan all
// renditions share.
package analysis

import (
	"sync"

	"github.com/ManuGH/vodhls/internal/domain/stream"
)

// Store is the in-process analysis cache. Entries are immutable once
// published; lookups never block on builds.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*stream.Analysis
}

// NewStore creates an empty analysis store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*stream.Analysis)}
}

// Get returns the published analysis for a media id, if any.
func (s *Store) Get(mediaID string) (*stream.Analysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.entries[mediaID]
	return a, ok
}

// Put publishes an analysis. The caller must not mutate it afterwards.
func (s *Store) Put(a *stream.Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[a.MediaID] = a
}

// Delete drops the entry for a media id.
func (s *Store) Delete(mediaID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, mediaID)
}

// Len returns the number of cached analyses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
