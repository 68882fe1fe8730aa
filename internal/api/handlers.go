// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: HLS streaming endpoints, the library
// listing, cache management and operational probes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/log"
	"github.com/ManuGH/vodhls/internal/media"
	"github.com/ManuGH/vodhls/internal/stream"
)

const (
	contentTypeM3U8 = "application/vnd.apple.mpegurl"
	contentTypeTS   = "video/mp2t"

	// Segments are immutable for an unchanged source; playlists only change
	// after a manual purge, so they get a bounded TTL.
	cacheControlSegment  = "public, max-age=31536000, immutable"
	cacheControlPlaylist = "public, max-age=3600"
)

// Handlers bundles the services the HTTP layer fronts.
type Handlers struct {
	Streams *stream.Service
	Library *media.Repository
}

// writeError maps domain errors onto HTTP status codes. Internal detail goes
// to the log, not the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away mid-build; nothing useful to send.
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrMediaNotFound), errors.Is(err, domain.ErrUnknownQuality):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSegmentName), errors.Is(err, domain.ErrInvalidPath):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	logger := log.FromContext(r.Context())
	evt := logger.Warn()
	if status >= 500 {
		evt = logger.Error()
	}
	evt.Err(err).
		Int("status", status).
		Str("path", r.URL.Path).
		Msg("request failed")

	http.Error(w, http.StatusText(status), status)
}

func serveArtifact(w http.ResponseWriter, r *http.Request, rc io.ReadCloser, contentType, cacheControl string) {
	defer func() { _ = rc.Close() }()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", cacheControl)
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; just log the aborted transfer.
		log.FromContext(r.Context()).Debug().
			Err(err).
			Str("path", r.URL.Path).
			Msg("client aborted transfer")
	}
}

// GetMasterPlaylist serves /stream/{mediaID}/master.m3u8.
func (h *Handlers) GetMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	mediaID := chi.URLParam(r, "mediaID")
	rc, err := h.Streams.GetMasterPlaylist(r.Context(), mediaID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveArtifact(w, r, rc, contentTypeM3U8, cacheControlPlaylist)
}

// GetVariantPlaylist serves /stream/{mediaID}/{quality}/playlist.m3u8.
func (h *Handlers) GetVariantPlaylist(w http.ResponseWriter, r *http.Request) {
	mediaID := chi.URLParam(r, "mediaID")
	quality := chi.URLParam(r, "quality")
	rc, err := h.Streams.GetVariantPlaylist(r.Context(), mediaID, quality)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveArtifact(w, r, rc, contentTypeM3U8, cacheControlPlaylist)
}

// GetSegment serves /stream/{mediaID}/{quality}/{segment}, transcoding the
// segment on first request.
func (h *Handlers) GetSegment(w http.ResponseWriter, r *http.Request) {
	mediaID := chi.URLParam(r, "mediaID")
	quality := chi.URLParam(r, "quality")
	segment := chi.URLParam(r, "segment")
	rc, err := h.Streams.GetSegment(r.Context(), mediaID, quality, segment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveArtifact(w, r, rc, contentTypeTS, cacheControlSegment)
}

// libraryItem is the JSON shape of one library row.
type libraryItem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	VideoCodec string    `json:"videoCodec,omitempty"`
	AudioCodec string    `json:"audioCodec,omitempty"`
	Size       int64     `json:"size"`
	AddedAt    time.Time `json:"addedAt"`
	StreamURL  string    `json:"streamUrl"`
}

// ListLibrary serves GET /api/library.
func (h *Handlers) ListLibrary(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Library.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]libraryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, libraryItem{
			ID:         e.ID,
			Title:      e.Title,
			VideoCodec: e.VideoCodec,
			AudioCodec: e.AudioCodec,
			Size:       e.Size,
			AddedAt:    e.AddedAt,
			StreamURL:  "/stream/" + e.ID + "/master.m3u8",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(items); err != nil {
		log.FromContext(r.Context()).Debug().Err(err).Msg("library encode aborted")
	}
}

// PurgeCache serves DELETE /api/library/{mediaID}/cache: drops all cached
// artifacts and the analysis so the next request rebuilds from the source.
func (h *Handlers) PurgeCache(w http.ResponseWriter, r *http.Request) {
	mediaID := chi.URLParam(r, "mediaID")
	if _, err := h.Library.FindByID(r.Context(), mediaID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Streams.PurgeMedia(mediaID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Healthz serves the liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}
