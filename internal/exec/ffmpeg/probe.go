// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/vodhls/internal/domain/stream"
	platformfs "github.com/ManuGH/vodhls/internal/platform/fs"
)

const (
	formatProbeTimeout   = 30 * time.Second
	keyframeProbeTimeout = 60 * time.Second

	formatProbeLimit   = 1 << 20  // 1 MiB
	keyframeProbeLimit = 10 << 20 // 10 MiB
)

// Prober implements stream.ProbeTool on top of the ffprobe binary.
type Prober struct {
	BinPath  string
	Registry *Registry
}

// NewProber creates a prober for the given binary path ("ffprobe" if empty).
func NewProber(binPath string, registry *Registry) *Prober {
	if binPath == "" {
		binPath = "ffprobe"
	}
	return &Prober{BinPath: binPath, Registry: registry}
}

var _ stream.ProbeTool = (*Prober)(nil)

// boundedBuffer is an io.Writer that fails once more than limit bytes are
// written. It keeps probe output memory-bounded for pathological inputs.
type boundedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.limit {
		b.overflow = true
		return 0, stream.ErrProbeBufferOverflow
	}
	return b.buf.Write(p)
}

// ffprobeFormat mirrors the JSON emitted by -show_format -show_streams.
type ffprobeFormat struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// ProbeFormat extracts container and stream metadata.
func (p *Prober) ProbeFormat(ctx context.Context, path string) (stream.FormatInfo, error) {
	if err := platformfs.ValidateSourcePath(path); err != nil {
		return stream.FormatInfo{}, fmt.Errorf("%w: %v", stream.ErrInvalidPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, formatProbeTimeout)
	defer cancel()

	out, err := p.run(ctx, formatProbeLimit,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return stream.FormatInfo{}, &stream.ProbeError{Op: "format", Err: err}
	}

	var data ffprobeFormat
	if err := json.Unmarshal(out, &data); err != nil {
		return stream.FormatInfo{}, &stream.ProbeError{Op: "format", Err: fmt.Errorf("json unmarshal: %w", err)}
	}

	var info stream.FormatInfo
	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue // first video stream wins
			}
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			info.FPS = parseFrameRate(s.AvgFrameRate, s.RFrameRate)
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	if br, err := strconv.ParseInt(data.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	if info.VideoCodec == "" {
		return stream.FormatInfo{}, &stream.ProbeError{Op: "format", Err: fmt.Errorf("no video stream in %s", path)}
	}
	if info.Duration <= 0 {
		return stream.FormatInfo{}, &stream.ProbeError{Op: "format", Err: fmt.Errorf("no container duration in %s", path)}
	}
	return info, nil
}

// ProbeKeyframes enumerates all packets of the first video stream and keeps
// those flagged as keyframes, ordered by presentation timestamp.
func (p *Prober) ProbeKeyframes(ctx context.Context, path string) ([]stream.Keyframe, error) {
	if err := platformfs.ValidateSourcePath(path); err != nil {
		return nil, fmt.Errorf("%w: %v", stream.ErrInvalidPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, keyframeProbeTimeout)
	defer cancel()

	out, err := p.run(ctx, keyframeProbeLimit,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time,flags",
		"-of", "csv=print_section=0",
		path,
	)
	if err != nil {
		return nil, &stream.ProbeError{Op: "keyframes", Err: err}
	}

	keyframes := ParseKeyframePackets(out)
	if len(keyframes) == 0 {
		return nil, stream.ErrNoKeyframes
	}
	return keyframes, nil
}

// ParseKeyframePackets parses csv "pts_time,flags" lines, keeping packets
// whose flags advertise a keyframe. Output is sorted by PTS with dense
// indices.
func ParseKeyframePackets(out []byte) []stream.Keyframe {
	var ptsList []float64
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		if !strings.Contains(fields[1], "K") {
			continue
		}
		pts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue // pts_time may be N/A for corrupt packets
		}
		ptsList = append(ptsList, pts)
	}

	sort.Float64s(ptsList)

	keyframes := make([]stream.Keyframe, 0, len(ptsList))
	for i, pts := range ptsList {
		keyframes = append(keyframes, stream.Keyframe{Index: i, PTS: pts})
	}
	return keyframes
}

// run executes ffprobe with bounded stdout capture.
func (p *Prober) run(ctx context.Context, limit int, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.BinPath, args...) // #nosec G204 -- args constructed internally; BinPath from trusted config
	stdout := &boundedBuffer{limit: limit}
	stderr := NewLineRing(32)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var regID uint64
	if p.Registry != nil {
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("ffprobe start: %w", err)
		}
		regID = p.Registry.Register(cmd)
		defer p.Registry.Unregister(regID)
		err := cmd.Wait()
		return p.finish(ctx, stdout, stderr, err)
	}

	err := cmd.Run()
	return p.finish(ctx, stdout, stderr, err)
}

func (p *Prober) finish(ctx context.Context, stdout *boundedBuffer, stderr *LineRing, err error) ([]byte, error) {
	if stdout.overflow {
		return nil, stream.ErrProbeBufferOverflow
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("ffprobe timed out: %w", ctx.Err())
		}
		if tail := stderr.LastN(5); len(tail) > 0 {
			return nil, fmt.Errorf("ffprobe failed: %w (%s)", err, strings.Join(tail, " | "))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return stdout.buf.Bytes(), nil
}

// parseFrameRate computes fps from a rational "num/den" string, preferring
// the average rate. Defaults to 24 when missing or malformed.
func parseFrameRate(avg, r string) float64 {
	for _, s := range []string{avg, r} {
		if fps, ok := parseRational(s); ok && fps > 0 {
			return fps
		}
	}
	return 24
}

func parseRational(s string) (float64, bool) {
	num, den, found := strings.Cut(s, "/")
	if !found {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
		return 0, false
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}
