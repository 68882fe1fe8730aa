// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := WithComponent("streaming")
	l = l.Output(&buf)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "streaming", entry["component"])
	assert.Equal(t, "hello", entry["message"])
}

func TestWithStreamingTagsCategory(t *testing.T) {
	var buf bytes.Buffer
	l := WithStreaming("coordinator")
	l = l.Output(&buf)
	l.Info().Msg("built")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "coordinator", entry["component"])
	assert.Equal(t, "streaming", entry["category"])
}

func TestFromContextReturnsStoredLogger(t *testing.T) {
	var buf bytes.Buffer
	stored := Base().Output(&buf).With().Str(FieldComponent, "http").Logger()
	ctx := stored.WithContext(context.Background())

	FromContext(ctx).Info().Msg("from ctx")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http", entry["component"])

	// Without a stored logger the base logger is returned, never a disabled one.
	fallback := FromContext(context.Background())
	assert.NotEqual(t, "disabled", fallback.GetLevel().String())
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestWithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithRequestID(context.Background(), "req-9")
	l := WithContext(ctx, Base().Output(&buf))
	l.Info().Msg("tagged")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-9", entry["request_id"])
}
