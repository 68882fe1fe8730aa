// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by all vodhls spans.
const (
	MediaIDKey       = "media.id"
	QualityKey       = "stream.quality"
	SegmentIndexKey  = "stream.segment_index"
	EncodeBitrateKey = "encode.bitrate"
	EncodeSeekKey    = "encode.seek_pts"
	ErrorKey         = "error"
	ErrorTypeKey     = "error.type"
)

// MediaAttributes creates media-scoped span attributes.
func MediaAttributes(mediaID, quality string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if mediaID != "" {
		attrs = append(attrs, attribute.String(MediaIDKey, mediaID))
	}
	if quality != "" {
		attrs = append(attrs, attribute.String(QualityKey, quality))
	}
	return attrs
}

// SegmentAttributes creates segment-encode span attributes.
func SegmentAttributes(mediaID, quality string, index int, bitrate int, seekPTS float64) []attribute.KeyValue {
	return append(MediaAttributes(mediaID, quality),
		attribute.Int(SegmentIndexKey, index),
		attribute.Int(EncodeBitrateKey, bitrate),
		attribute.Float64(EncodeSeekKey, seekPTS),
	)
}

// ErrorAttributes marks a span as failed with a stable error type.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
