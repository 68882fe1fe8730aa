// SPDX-License-Identifier: MIT

// Command vodhls serves a personal video library over HLS, transcoding
// segments just in time on first request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/vodhls/internal/api"
	"github.com/ManuGH/vodhls/internal/config"
	"github.com/ManuGH/vodhls/internal/exec/ffmpeg"
	"github.com/ManuGH/vodhls/internal/log"
	"github.com/ManuGH/vodhls/internal/media"
	"github.com/ManuGH/vodhls/internal/stream"
	"github.com/ManuGH/vodhls/internal/stream/analysis"
	"github.com/ManuGH/vodhls/internal/stream/cache"
	"github.com/ManuGH/vodhls/internal/stream/coordinator"
	"github.com/ManuGH/vodhls/internal/telemetry"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vodhls %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		logger := log.WithComponent("daemon")
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "vodhls"})
	logger := log.WithComponent("daemon")
	logger.Info().
		Str("version", version).
		Str("library", cfg.LibraryDir).
		Str("cache", cfg.CacheRoot).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := telemetry.NewProvider(ctx, telemetry.Config{
		ExporterType:   cfg.TraceExporter,
		Endpoint:       cfg.TraceEndpoint,
		ServiceName:    "vodhls",
		ServiceVersion: version,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	repo, err := media.OpenRepository(cfg.IndexPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	store, err := cache.New(cfg.CacheRoot, cfg.SegmentFilenameDigits)
	if err != nil {
		return err
	}

	var disk *analysis.DiskCache
	if cfg.AnalysisCacheDir != "" {
		disk, err = analysis.OpenDiskCache(cfg.AnalysisCacheDir)
		if err != nil {
			return err
		}
		defer func() { _ = disk.Close() }()
	}

	registry := ffmpeg.NewRegistry()
	prober := ffmpeg.NewProber(cfg.FFprobePath, registry)
	encoder := ffmpeg.NewEncoder(cfg.FFmpegPath, registry)

	builder := analysis.NewBuilder(repo, prober, analysis.NewStore(), disk, cfg.TargetSegmentDuration)
	coord := coordinator.New(store, encoder, cfg.MaxConcurrentEncodes, cfg.TargetSegmentDuration)
	svc := stream.NewService(builder, coord, store)

	scanner, err := media.NewScanner(cfg.LibraryDir, repo, func(mediaID string) {
		if err := svc.PurgeMedia(mediaID); err != nil {
			logger.Warn().Err(err).Str(log.FieldMediaID, mediaID).Msg("purge after eviction failed")
		}
	})
	if err != nil {
		return err
	}
	if err := scanner.Scan(ctx); err != nil {
		return fmt.Errorf("initial library scan: %w", err)
	}
	if cfg.WatchLibrary {
		go func() {
			if err := scanner.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("library watcher stopped")
			}
		}()
	}

	router := api.NewRouter(
		&api.Handlers{Streams: svc, Library: repo},
		api.RouterConfig{RateLimit: cfg.RequestRateLimit, TracingService: tracingService(cfg)},
	)
	srv := api.NewServer(cfg.ListenAddr, router)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http drain incomplete")
	}
	registry.Shutdown(cfg.ShutdownGrace)
	logger.Info().Msg("stopped")
	return nil
}

func tracingService(cfg config.Config) string {
	if cfg.TraceExporter == "" {
		return ""
	}
	return "vodhls"
}
