// SPDX-License-Identifier: MIT

// Package stream defines the core domain model for just-in-time HLS streaming:
// per-media analyses, keyframe-aligned segment plans, and quality profiles.
package stream

import "fmt"

// Keyframe is a single independently decodable frame position in the source.
// Index and PTS are both monotonically increasing across a keyframe list.
type Keyframe struct {
	Index int
	PTS   float64 // presentation timestamp in seconds
}

// QualityProfile is one rendition of the encoding ladder. Immutable.
type QualityProfile struct {
	Label        string // e.g. "720p"
	Width        int
	Height       int
	VideoBitrate int // bits per second
	MaxBitrate   int // bits per second
	BufferSize   int // bits
	AudioBitrate int // bits per second
}

// Resolution returns the profile target as "WxH".
func (p QualityProfile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// Bandwidth is the HLS master playlist BANDWIDTH value for this profile:
// peak video bitrate plus audio bitrate.
func (p QualityProfile) Bandwidth() int {
	return p.MaxBitrate + p.AudioBitrate
}

// SegmentSpec describes one planned segment. Indices are dense from 0.
type SegmentSpec struct {
	Index         int
	StartPTS      float64
	EndPTS        float64
	StartKeyframe int // index into the analysis keyframe list
	EndKeyframe   int // exclusive boundary keyframe; -1 for the final segment
}

// Duration returns the planned segment duration in seconds.
func (s SegmentSpec) Duration() float64 {
	return s.EndPTS - s.StartPTS
}

// FormatInfo holds container and stream metadata from a format probe.
type FormatInfo struct {
	Duration   float64 // seconds
	Width      int
	Height     int
	FPS        float64
	VideoCodec string
	AudioCodec string // empty when the source has no audio stream
	Bitrate    int64  // bits per second, 0 if unknown
}

// HasAudio reports whether the source carries an audio stream.
func (f FormatInfo) HasAudio() bool {
	return f.AudioCodec != ""
}

// Analysis is the immutable per-media result of probing and planning. Built
// once per process lifetime (or restored from the analysis disk cache) and
// shared by every request touching the media.
type Analysis struct {
	MediaID    string
	SourcePath string
	Format     FormatInfo
	Keyframes  []Keyframe
	Profiles   []QualityProfile // eligible renditions, highest quality first
	Plan       []SegmentSpec
}

// ProfileByLabel returns the eligible profile with the given label.
func (a *Analysis) ProfileByLabel(label string) (QualityProfile, bool) {
	for _, p := range a.Profiles {
		if p.Label == label {
			return p, true
		}
	}
	return QualityProfile{}, false
}

// SegmentByIndex returns the plan entry for the given dense index.
func (a *Analysis) SegmentByIndex(idx int) (SegmentSpec, bool) {
	if idx < 0 || idx >= len(a.Plan) {
		return SegmentSpec{}, false
	}
	return a.Plan[idx], true
}

// MediaItem is a library entry as resolved by the MediaRepository.
type MediaItem struct {
	ID         string
	SourcePath string
	Title      string

	// Stored codec hints; may be empty until the media has been analysed.
	VideoCodec string
	AudioCodec string
}
