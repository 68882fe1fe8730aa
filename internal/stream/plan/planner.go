// SPDX-License-Identifier: MIT

// Package plan computes keyframe-aligned segment plans. The plan is the single
// source of truth tying variant playlists, cache paths, and encoder invocations
// together, so it must be deterministic for a given probe result.
package plan

import (
	"fmt"
	"sort"

	"github.com/ManuGH/vodhls/internal/domain/stream"
)

const (
	// MinSegmentDuration is the shortest segment the plan may contain.
	// Shorter candidates are merged into a neighbor.
	MinSegmentDuration = 0.5

	// maxGap and maxOverlap bound the continuity assertion between adjacent
	// segments.
	maxGap     = 0.1
	maxOverlap = 0.01

	// durationEpsilon bounds the final-coverage assertion.
	durationEpsilon = 0.001
)

// Build computes the segment plan for the given keyframes. Boundaries fall on
// keyframe timestamps: each cut prefers the latest keyframe within the target
// duration of the previous cut and falls back to the earliest one beyond it.
// When multiple keyframes share a timestamp the lowest index wins.
func Build(keyframes []stream.Keyframe, targetDuration, totalDuration float64) ([]stream.SegmentSpec, error) {
	if targetDuration <= 0 {
		return nil, fmt.Errorf("%w: target duration %v", stream.ErrPlanInvariant, targetDuration)
	}
	if totalDuration <= 0 {
		return nil, fmt.Errorf("%w: total duration %v", stream.ErrPlanInvariant, totalDuration)
	}
	if len(keyframes) == 0 {
		return nil, stream.ErrNoKeyframes
	}
	for i := 1; i < len(keyframes); i++ {
		if keyframes[i].PTS < keyframes[i-1].PTS {
			return nil, fmt.Errorf("%w: keyframe pts not monotonic at %d", stream.ErrPlanInvariant, i)
		}
	}

	segs := buildRaw(keyframes, targetDuration, totalDuration)
	segs = mergeShort(segs)

	for i := range segs {
		segs[i].Index = i
	}

	if err := assertContinuity(segs, keyframes, totalDuration); err != nil {
		return nil, err
	}
	return segs, nil
}

// buildRaw cuts the timeline at keyframe boundaries without duration merging.
func buildRaw(keyframes []stream.Keyframe, target, total float64) []stream.SegmentSpec {
	var segs []stream.SegmentSpec
	cur := 0 // keyframe index of the current cut

	for keyframes[cur].PTS < total {
		next := nextCut(keyframes, cur, target, total)
		if next == -1 {
			// Final segment runs to the end of the container.
			segs = append(segs, stream.SegmentSpec{
				StartPTS:      keyframes[cur].PTS,
				EndPTS:        total,
				StartKeyframe: keyframes[cur].Index,
				EndKeyframe:   -1,
			})
			break
		}
		segs = append(segs, stream.SegmentSpec{
			StartPTS:      keyframes[cur].PTS,
			EndPTS:        keyframes[next].PTS,
			StartKeyframe: keyframes[cur].Index,
			EndKeyframe:   keyframes[next].Index,
		})
		cur = next
	}
	return segs
}

// nextCut picks the keyframe ending the segment that starts at keyframes[cur].
// Preference order: the latest keyframe no further than target seconds out,
// otherwise the earliest keyframe beyond that. Returns -1 when no usable
// keyframe remains before the end of the container.
func nextCut(keyframes []stream.Keyframe, cur int, target, total float64) int {
	limit := keyframes[cur].PTS + target
	best := -1
	for i := cur + 1; i < len(keyframes); i++ {
		pts := keyframes[i].PTS
		if pts <= keyframes[cur].PTS || pts >= total {
			// Duplicate timestamps keep the lowest index; cuts at or past the
			// container end would produce an empty final segment.
			continue
		}
		if pts <= limit {
			if best == -1 || pts > keyframes[best].PTS {
				best = i
			}
			continue
		}
		if best == -1 {
			best = i // earliest keyframe beyond the target
		}
		break
	}
	return best
}

// mergeShort absorbs sub-minimum segments into a neighbor: the final segment
// merges backward, every other one merges forward.
func mergeShort(segs []stream.SegmentSpec) []stream.SegmentSpec {
	out := segs[:0]
	for i := 0; i < len(segs); i++ {
		s := segs[i]
		if s.Duration() >= MinSegmentDuration {
			out = append(out, s)
			continue
		}
		if i == len(segs)-1 {
			if len(out) > 0 {
				out[len(out)-1].EndPTS = s.EndPTS
				out[len(out)-1].EndKeyframe = s.EndKeyframe
			} else {
				// Sole segment of a very short source; keep it.
				out = append(out, s)
			}
			continue
		}
		segs[i+1].StartPTS = s.StartPTS
		segs[i+1].StartKeyframe = s.StartKeyframe
	}
	return out
}

func assertContinuity(segs []stream.SegmentSpec, keyframes []stream.Keyframe, total float64) error {
	if len(segs) == 0 {
		return fmt.Errorf("%w: empty plan", stream.ErrPlanInvariant)
	}
	if segs[0].StartPTS != keyframes[0].PTS {
		return fmt.Errorf("%w: plan starts at %v, first keyframe at %v",
			stream.ErrPlanInvariant, segs[0].StartPTS, keyframes[0].PTS)
	}
	for i := 1; i < len(segs); i++ {
		delta := segs[i].StartPTS - segs[i-1].EndPTS
		if delta > maxGap || delta < -maxOverlap {
			return fmt.Errorf("%w: discontinuity of %v between segments %d and %d",
				stream.ErrPlanInvariant, delta, i-1, i)
		}
	}
	last := segs[len(segs)-1]
	if diff := last.EndPTS - total; diff > durationEpsilon || diff < -durationEpsilon {
		return fmt.Errorf("%w: plan ends at %v, container at %v",
			stream.ErrPlanInvariant, last.EndPTS, total)
	}
	return nil
}

// FindByIndex returns the segment with the given dense index.
func FindByIndex(segs []stream.SegmentSpec, idx int) (stream.SegmentSpec, bool) {
	if idx < 0 || idx >= len(segs) {
		return stream.SegmentSpec{}, false
	}
	return segs[idx], true
}

// FindAtTime returns the segment s with s.StartPTS <= t < s.EndPTS.
func FindAtTime(segs []stream.SegmentSpec, t float64) (stream.SegmentSpec, bool) {
	i := sort.Search(len(segs), func(i int) bool { return segs[i].EndPTS > t })
	if i == len(segs) || t < segs[i].StartPTS {
		return stream.SegmentSpec{}, false
	}
	return segs[i], true
}

// HLSEntries renders one #EXTINF line plus filename per segment. The name
// function owns the filename convention (zero-padded index width).
func HLSEntries(segs []stream.SegmentSpec, name func(index int) string) []string {
	entries := make([]string, 0, len(segs))
	for _, s := range segs {
		entries = append(entries, fmt.Sprintf("#EXTINF:%.3f,\n%s", s.Duration(), name(s.Index)))
	}
	return entries
}
