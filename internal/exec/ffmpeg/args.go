// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ManuGH/vodhls/internal/domain/stream"
)

// BuildSegmentArgs constructs the encoder arguments for a single MPEG-TS
// segment. Pure function; it enforces safe defaults and avoids shell usage.
//
// Seeking happens on the input side so the decoder opens at the keyframe the
// plan aligned the segment to; the output is then clamped to the planned
// duration. Scene-cut keyframes are disabled and keyframes are forced at
// multiples of the target segment duration so every rendition cuts at the
// same timestamps.
func BuildSegmentArgs(req stream.EncodeRequest) ([]string, error) {
	if req.SourcePath == "" {
		return nil, fmt.Errorf("missing source path")
	}
	if req.OutPathTmp == "" {
		return nil, fmt.Errorf("missing output path")
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("non-positive segment duration: %v", req.Duration)
	}
	if req.Profile.Width <= 0 || req.Profile.Height <= 0 {
		return nil, fmt.Errorf("invalid profile resolution: %s", req.Profile.Resolution())
	}

	target := req.TargetSegmentDuration
	if target <= 0 {
		target = 6
	}
	fps := req.SourceFPS
	if fps <= 0 {
		fps = 24
	}
	gop := int(math.Round(fps * target))

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",

		// Input robustness: tolerate decode errors, regenerate missing PTS.
		"-fflags", "+genpts",
		"-err_detect", "ignore_err",
	}

	if req.SeekPTS > 0 {
		args = append(args, "-ss", strconv.FormatFloat(req.SeekPTS, 'f', 6, 64))
	}
	args = append(args, "-i", req.SourcePath)

	if !req.HasAudio {
		// Sources without audio still get a silent AAC track so the TS stays
		// spec-shaped for every player.
		args = append(args,
			"-f", "lavfi",
			"-t", strconv.FormatFloat(req.Duration, 'f', 6, 64),
			"-i", "anullsrc=channel_layout=stereo:sample_rate=48000",
		)
	}

	args = append(args,
		"-t", strconv.FormatFloat(req.Duration, 'f', 6, 64),

		"-map", "0:v:0",
	)
	if req.HasAudio {
		args = append(args, "-map", "0:a:0")
	} else {
		args = append(args, "-map", "1:a:0")
	}

	args = append(args,
		"-c:v", "libx264",
		"-profile:v", "main",
		"-level", "4.0",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		"-tune", "zerolatency",

		// Fixed GOP aligned to the segment grid; no scene-cut keyframes.
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%s)", formatTarget(target)),

		"-b:v", strconv.Itoa(req.Profile.VideoBitrate),
		"-maxrate", strconv.Itoa(req.Profile.MaxBitrate),
		"-bufsize", strconv.Itoa(req.Profile.BufferSize),
	)

	if req.SourceWidth != req.Profile.Width || req.SourceHeight != req.Profile.Height {
		args = append(args, "-vf",
			fmt.Sprintf("scale=%d:%d:flags=lanczos", req.Profile.Width, req.Profile.Height))
	}

	args = append(args,
		"-c:a", "aac",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", strconv.Itoa(req.Profile.AudioBitrate),

		"-f", "mpegts",
		"-y", req.OutPathTmp,
	)

	return args, nil
}

// formatTarget renders the forced-keyframe interval without a trailing
// fractional part for whole-second targets.
func formatTarget(target float64) string {
	if target == math.Trunc(target) {
		return strconv.Itoa(int(target))
	}
	return strconv.FormatFloat(target, 'f', 3, 64)
}
