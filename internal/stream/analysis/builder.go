// SPDX-License-Identifier: MIT

package analysis

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/log"
	"github.com/ManuGH/vodhls/internal/stream/plan"
	"github.com/ManuGH/vodhls/internal/stream/profile"
)

// Builder produces analyses on demand. Concurrent requests for the same media
// coalesce into a single probe-and-plan pass; losers receive the winner's
// result.
type Builder struct {
	repo    stream.MediaRepository
	probe   stream.ProbeTool
	store   *Store
	disk    *DiskCache // optional
	target  float64    // target segment duration in seconds
	inbuild singleflight.Group
}

// NewBuilder wires a builder. disk may be nil to run without the persistent
// cache. A non-positive target falls back to six seconds.
func NewBuilder(repo stream.MediaRepository, probe stream.ProbeTool, store *Store, disk *DiskCache, targetSegmentDuration float64) *Builder {
	if targetSegmentDuration <= 0 {
		targetSegmentDuration = 6
	}
	return &Builder{
		repo:   repo,
		probe:  probe,
		store:  store,
		disk:   disk,
		target: targetSegmentDuration,
	}
}

// GetOrBuildAnalysis returns the analysis for a media id, building it if
// missing. The returned analysis is shared and must not be mutated.
func (b *Builder) GetOrBuildAnalysis(ctx context.Context, mediaID string) (*stream.Analysis, error) {
	if a, ok := b.store.Get(mediaID); ok {
		return a, nil
	}

	v, err, _ := b.inbuild.Do(mediaID, func() (any, error) {
		// Double check: a concurrent build may have published while this call
		// waited for the flight slot.
		if a, ok := b.store.Get(mediaID); ok {
			return a, nil
		}
		a, err := b.build(ctx, mediaID)
		if err != nil {
			return nil, err
		}
		b.store.Put(a)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*stream.Analysis), nil
}

// Invalidate drops the media from both cache tiers. The next request rebuilds.
func (b *Builder) Invalidate(mediaID string) {
	b.store.Delete(mediaID)
	if b.disk != nil {
		if err := b.disk.Delete(mediaID); err != nil {
			logger := log.WithStreaming("analysis")
			logger.Warn().
				Err(err).
				Str(log.FieldMediaID, mediaID).
				Msg("failed to drop persisted analysis")
		}
	}
}

// TargetSegmentDuration exposes the configured target for playlist naming.
func (b *Builder) TargetSegmentDuration() float64 { return b.target }

func (b *Builder) build(ctx context.Context, mediaID string) (*stream.Analysis, error) {
	logger := log.WithStreaming("analysis")
	start := time.Now()

	item, err := b.repo.FindByID(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	fp, err := FingerprintOf(item.SourcePath)
	if err != nil {
		// Source vanished between library scan and playback.
		return nil, fmt.Errorf("%w: %v", stream.ErrMediaNotFound, err)
	}

	if b.disk != nil {
		if a, ok := b.disk.Get(mediaID, fp); ok {
			logger.Debug().
				Str(log.FieldMediaID, mediaID).
				Msg("analysis restored from disk cache")
			return a, nil
		}
	}

	format, err := b.probe.ProbeFormat(ctx, item.SourcePath)
	if err != nil {
		return nil, err
	}
	keyframes, err := b.probe.ProbeKeyframes(ctx, item.SourcePath)
	if err != nil {
		return nil, err
	}

	profiles := profile.Select(format.Width, format.Height)
	segments, err := plan.Build(keyframes, b.target, format.Duration)
	if err != nil {
		return nil, err
	}

	a := &stream.Analysis{
		MediaID:    mediaID,
		SourcePath: item.SourcePath,
		Format:     format,
		Keyframes:  keyframes,
		Profiles:   profiles,
		Plan:       segments,
	}

	if b.disk != nil {
		if err := b.disk.Put(a, fp); err != nil {
			logger.Warn().
				Err(err).
				Str(log.FieldMediaID, mediaID).
				Msg("failed to persist analysis")
		}
	}

	logger.Info().
		Str(log.FieldMediaID, mediaID).
		Float64("duration_s", format.Duration).
		Int("keyframes", len(keyframes)).
		Int("segments", len(segments)).
		Int("profiles", len(profiles)).
		Dur("elapsed", time.Since(start)).
		Msg("analysis built")
	return a, nil
}
