// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/log"
	platformfs "github.com/ManuGH/vodhls/internal/platform/fs"
)

const (
	minEncodeTimeout = 30 * time.Second
	stderrRingSize   = 64
	stderrTailLines  = 20
)

var (
	encodeStartTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodhls_encode_start_total",
		Help: "Segment encodes started.",
	})
	encodeExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodhls_encode_exit_total",
		Help: "Segment encodes finished, by result.",
	}, []string{"result"})
	encodeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vodhls_encode_duration_seconds",
		Help:    "Wall time per segment encode.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)

// Encoder implements stream.EncoderTool by running the ffmpeg binary once per
// segment. Each invocation writes to the temp path from the request; the
// caller promotes the file after a clean exit.
type Encoder struct {
	BinPath  string
	Registry *Registry
	Clock    stream.Clock
}

// NewEncoder creates an encoder for the given binary path ("ffmpeg" if empty).
func NewEncoder(binPath string, registry *Registry) *Encoder {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &Encoder{BinPath: binPath, Registry: registry, Clock: stream.RealClock{}}
}

var _ stream.EncoderTool = (*Encoder)(nil)

// EncodeSegment transcodes one segment. The deadline scales with the planned
// segment duration so slow sources do not hang the ticket holder forever.
func (e *Encoder) EncodeSegment(ctx context.Context, req stream.EncodeRequest) error {
	if err := platformfs.ValidateSourcePath(req.SourcePath); err != nil {
		return fmt.Errorf("%w: %v", stream.ErrInvalidPath, err)
	}
	args, err := BuildSegmentArgs(req)
	if err != nil {
		return fmt.Errorf("build encoder args: %w", err)
	}

	timeout := time.Duration(10*req.Duration) * time.Second
	if timeout < minEncodeTimeout {
		timeout = minEncodeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := log.WithStreaming("encoder")
	clock := e.Clock
	if clock == nil {
		clock = stream.RealClock{}
	}

	cmd := exec.CommandContext(ctx, e.BinPath, args...) // #nosec G204 -- args built by BuildSegmentArgs; BinPath from trusted config
	cmd.Stdin = nil
	ring := NewLineRing(stderrRingSize)
	cmd.Stderr = ring

	start := clock.Now()
	if err := cmd.Start(); err != nil {
		encodeExitTotal.WithLabelValues("start_error").Inc()
		return &stream.EncoderError{Code: -1, StderrTail: []string{err.Error()}}
	}
	encodeStartTotal.Inc()

	var regID uint64
	if e.Registry != nil {
		regID = e.Registry.Register(cmd)
	}
	waitErr := cmd.Wait()
	if e.Registry != nil {
		e.Registry.Unregister(regID)
	}
	elapsed := clock.Now().Sub(start)
	encodeDurationSeconds.Observe(elapsed.Seconds())

	if waitErr == nil {
		encodeExitTotal.WithLabelValues("ok").Inc()
		logger.Debug().
			Str(log.FieldQuality, req.Profile.Label).
			Dur("elapsed", elapsed).
			Msg("segment encoded")
		return nil
	}

	// Never leave a partial temp file behind.
	_ = os.Remove(req.OutPathTmp)

	if ctx.Err() == context.DeadlineExceeded {
		encodeExitTotal.WithLabelValues("timeout").Inc()
		logger.Warn().
			Str(log.FieldQuality, req.Profile.Label).
			Dur("timeout", timeout).
			Msg("encoder timed out")
		return fmt.Errorf("%w after %s", stream.ErrEncoderTimeout, timeout)
	}

	encodeExitTotal.WithLabelValues("error").Inc()
	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	tail := ring.LastN(stderrTailLines)
	logger.Error().
		Str(log.FieldQuality, req.Profile.Label).
		Int("exit_code", code).
		Strs("stderr_tail", tail).
		Msg("encoder failed")
	return &stream.EncoderError{Code: code, StderrTail: tail}
}
