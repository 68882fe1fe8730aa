// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"time"
)

// MediaRepository resolves opaque media ids to library entries.
type MediaRepository interface {
	// FindByID returns the media item or ErrMediaNotFound.
	FindByID(ctx context.Context, id string) (MediaItem, error)
}

// ProbeTool wraps the external media probe binary. Both operations are
// idempotent and read-only.
type ProbeTool interface {
	// ProbeFormat extracts container and stream metadata.
	ProbeFormat(ctx context.Context, path string) (FormatInfo, error)

	// ProbeKeyframes enumerates the keyframe timestamps of the first video
	// stream. Fails with ErrNoKeyframes when the source has none.
	ProbeKeyframes(ctx context.Context, path string) ([]Keyframe, error)
}

// EncodeRequest carries everything the encoder needs for one segment.
type EncodeRequest struct {
	SourcePath string
	SeekPTS    float64 // input-side seek, keyframe aligned
	Duration   float64 // output duration clamp in seconds
	Profile    QualityProfile

	SourceFPS             float64
	SourceWidth           int
	SourceHeight          int
	HasAudio              bool
	TargetSegmentDuration float64

	// OutPathTmp is the temp path the encoder writes to. The caller promotes
	// it to the final segment path on success.
	OutPathTmp string
}

// EncoderTool wraps the external encoder binary. A successful call leaves a
// complete MPEG-TS file at OutPathTmp; on failure no file remains.
type EncoderTool interface {
	EncodeSegment(ctx context.Context, req EncodeRequest) error
}

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

// RealClock uses system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
