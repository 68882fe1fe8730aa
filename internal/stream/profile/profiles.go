// SPDX-License-Identifier: MIT

// Package profile holds the fixed encoding ladder and profile selection rules.
package profile

import "github.com/ManuGH/vodhls/internal/domain/stream"

// Ladder is the fixed rendition table, highest quality first. The bitrate
// targets are part of the playlist contract: BANDWIDTH advertised to clients
// is MaxBitrate plus AudioBitrate.
var Ladder = []stream.QualityProfile{
	{Label: "2160p", Width: 3840, Height: 2160, VideoBitrate: 14_000_000, MaxBitrate: 16_000_000, BufferSize: 30_000_000, AudioBitrate: 192_000},
	{Label: "1440p", Width: 2560, Height: 1440, VideoBitrate: 8_000_000, MaxBitrate: 10_000_000, BufferSize: 18_000_000, AudioBitrate: 192_000},
	{Label: "1080p", Width: 1920, Height: 1080, VideoBitrate: 5_000_000, MaxBitrate: 6_000_000, BufferSize: 10_000_000, AudioBitrate: 192_000},
	{Label: "720p", Width: 1280, Height: 720, VideoBitrate: 3_000_000, MaxBitrate: 3_500_000, BufferSize: 6_000_000, AudioBitrate: 128_000},
	{Label: "480p", Width: 854, Height: 480, VideoBitrate: 1_500_000, MaxBitrate: 1_800_000, BufferSize: 3_000_000, AudioBitrate: 128_000},
	{Label: "360p", Width: 640, Height: 360, VideoBitrate: 800_000, MaxBitrate: 1_000_000, BufferSize: 1_600_000, AudioBitrate: 96_000},
}

// Select returns the eligible profiles for a source resolution, highest
// quality first. A profile is eligible iff its height does not exceed the
// source height. Sources smaller than the smallest rung get exactly that
// smallest rung, so every media has at least one rendition.
func Select(sourceWidth, sourceHeight int) []stream.QualityProfile {
	_ = sourceWidth // eligibility is height-capped only

	var eligible []stream.QualityProfile
	for _, p := range Ladder {
		if p.Height <= sourceHeight {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return []stream.QualityProfile{Ladder[len(Ladder)-1]}
	}
	return eligible
}

// ByLabel returns the ladder entry with the given label.
func ByLabel(label string) (stream.QualityProfile, bool) {
	for _, p := range Ladder {
		if p.Label == label {
			return p, true
		}
	}
	return stream.QualityProfile{}, false
}
