// SPDX-License-Identifier: MIT

// Package stream exposes the streaming facade: the one entry point HTTP
// handlers use to resolve playlists and segments. Everything below it is
// build-on-miss; the facade only ever returns fully materialized artifacts.
package stream

import (
	"context"
	"fmt"
	"io"

	domain "github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/stream/analysis"
	"github.com/ManuGH/vodhls/internal/stream/cache"
	"github.com/ManuGH/vodhls/internal/stream/coordinator"
)

// Service resolves HLS artifacts for media ids, building them on first use.
type Service struct {
	builder *analysis.Builder
	coord   *coordinator.Coordinator
	store   *cache.Store
}

// NewService wires the facade.
func NewService(builder *analysis.Builder, coord *coordinator.Coordinator, store *cache.Store) *Service {
	return &Service{builder: builder, coord: coord, store: store}
}

// GetMasterPlaylist returns a reader over the media's master playlist,
// materializing all playlists on first access.
func (s *Service) GetMasterPlaylist(ctx context.Context, mediaID string) (io.ReadCloser, error) {
	a, err := s.builder.GetOrBuildAnalysis(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if err := s.coord.EnsurePlaylists(ctx, a); err != nil {
		return nil, err
	}
	path, err := s.store.PathForMaster(mediaID)
	if err != nil {
		return nil, err
	}
	return s.store.Read(path)
}

// GetVariantPlaylist returns a reader over one rendition's playlist. The
// quality label must be eligible for the media.
func (s *Service) GetVariantPlaylist(ctx context.Context, mediaID, quality string) (io.ReadCloser, error) {
	a, err := s.builder.GetOrBuildAnalysis(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if _, ok := a.ProfileByLabel(quality); !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownQuality, quality)
	}
	if err := s.coord.EnsurePlaylists(ctx, a); err != nil {
		return nil, err
	}
	path, err := s.store.PathForPlaylist(mediaID, quality)
	if err != nil {
		return nil, err
	}
	return s.store.Read(path)
}

// GetSegment returns a reader over one MPEG-TS segment, encoding it just in
// time when absent from the cache. name must be a canonical segment filename.
func (s *Service) GetSegment(ctx context.Context, mediaID, quality, name string) (io.ReadCloser, error) {
	index, err := cache.ParseSegmentName(name)
	if err != nil {
		return nil, err
	}
	a, err := s.builder.GetOrBuildAnalysis(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	profile, ok := a.ProfileByLabel(quality)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownQuality, quality)
	}
	if _, ok := a.SegmentByIndex(index); !ok {
		return nil, fmt.Errorf("%w: index %d beyond plan", domain.ErrInvalidSegmentName, index)
	}
	path, err := s.coord.EnsureSegment(ctx, a, profile, index)
	if err != nil {
		return nil, err
	}
	return s.store.Read(path)
}

// Qualities returns the eligible quality labels for a media id, highest
// quality first.
func (s *Service) Qualities(ctx context.Context, mediaID string) ([]string, error) {
	a, err := s.builder.GetOrBuildAnalysis(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(a.Profiles))
	for _, p := range a.Profiles {
		labels = append(labels, p.Label)
	}
	return labels, nil
}

// PurgeMedia drops every cached artifact and analysis for a media id. The
// next request rebuilds from the source file.
func (s *Service) PurgeMedia(mediaID string) error {
	s.builder.Invalidate(mediaID)
	return s.store.PurgeMedia(mediaID)
}
