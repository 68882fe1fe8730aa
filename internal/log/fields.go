// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldMediaID   = "media_id"

	// Process / pipeline fields
	FieldComponent = "component"
	FieldCategory  = "category"

	// Media / stream fields
	FieldQuality    = "quality"
	FieldSegment    = "segment"
	FieldCodec      = "codec"
	FieldResolution = "resolution"
	FieldFPS        = "fps"
	FieldDuration   = "duration"

	// Path fields
	FieldPath         = "path"
	FieldFinalPath    = "final_path"
	FieldPlaylistPath = "playlist_path"
)
