// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the HTTP ingress.
type RouterConfig struct {
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int

	// TracingService enables otelhttp server spans when non-empty.
	TracingService string
}

// NewRouter assembles the full route table with the canonical middleware
// stack: recovery, request ids, access logs, rate limiting, per-route metrics.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(AccessLog)
	r.Use(RateLimit(cfg.RateLimit))

	r.Route("/stream/{mediaID}", func(r chi.Router) {
		r.With(Metrics("master_playlist")).
			Get("/master.m3u8", h.GetMasterPlaylist)
		r.With(Metrics("variant_playlist")).
			Get("/{quality}/playlist.m3u8", h.GetVariantPlaylist)
		r.With(Metrics("segment")).
			Get("/{quality}/{segment}", h.GetSegment)
	})

	r.Route("/api", func(r chi.Router) {
		r.With(Metrics("library_list")).
			Get("/library", h.ListLibrary)
		r.With(Metrics("cache_purge")).
			Delete("/library/{mediaID}/cache", h.PurgeCache)
	})

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if cfg.TracingService != "" {
		return Tracing(cfg.TracingService, r)
	}
	return r
}

// NewServer wraps the router in an http.Server with sane timeouts. Write
// timeout stays generous because cold segments block on a live encode.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
