// SPDX-License-Identifier: MIT

package stream

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMediaNotFound means the media id is unknown or its source file is gone.
	ErrMediaNotFound = errors.New("media not found")

	// ErrUnknownQuality means the requested quality label is not eligible for
	// the media.
	ErrUnknownQuality = errors.New("unknown quality")

	// ErrInvalidSegmentName means the requested filename does not match
	// segment_NNN.ts.
	ErrInvalidSegmentName = errors.New("invalid segment name")

	// ErrInvalidPath means a source path failed validation (relative, NUL
	// byte, or traversal component).
	ErrInvalidPath = errors.New("invalid path")

	// ErrNoKeyframes means the probe found no keyframes in the video stream.
	ErrNoKeyframes = errors.New("no keyframes found")

	// ErrProbeBufferOverflow means the probe produced more output than the
	// bounded buffer allows.
	ErrProbeBufferOverflow = errors.New("probe output exceeds buffer limit")

	// ErrPlanInvariant is an internal assertion failure in the segment
	// planner; impossible for valid probe output.
	ErrPlanInvariant = errors.New("segment plan invariant violation")

	// ErrEncoderTimeout means the encoder subprocess exceeded its deadline
	// and was killed.
	ErrEncoderTimeout = errors.New("encoder timed out")
)

// ProbeError wraps a failed probe invocation.
type ProbeError struct {
	Op  string // "format" or "keyframes"
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Op, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// EncoderError reports a failed encoder run with its exit code and the tail
// of captured stderr.
type EncoderError struct {
	Code       int
	StderrTail []string
}

func (e *EncoderError) Error() string {
	if len(e.StderrTail) == 0 {
		return fmt.Sprintf("encoder exited with code %d", e.Code)
	}
	return fmt.Sprintf("encoder exited with code %d: %s", e.Code, strings.Join(e.StderrTail, " | "))
}
