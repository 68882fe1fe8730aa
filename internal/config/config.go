// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration: defaults, then an optional
// YAML file, then VODHLS_* environment overrides, in that precedence order.
package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/vodhls/internal/stream/cache"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listenAddr"`

	// LibraryDir is the root of the media library to index and serve.
	LibraryDir string `yaml:"libraryDir"`

	// CacheRoot holds materialized playlists and segments.
	CacheRoot string `yaml:"cacheRoot"`

	// IndexPath is the sqlite media index file.
	IndexPath string `yaml:"indexPath"`

	// AnalysisCacheDir is the persistent analysis store; empty disables it.
	AnalysisCacheDir string `yaml:"analysisCacheDir"`

	// FFmpegPath and FFprobePath name the external binaries.
	FFmpegPath  string `yaml:"ffmpegPath"`
	FFprobePath string `yaml:"ffprobePath"`

	// TargetSegmentDuration is the planning target in seconds.
	TargetSegmentDuration float64 `yaml:"targetSegmentDuration"`

	// MaxConcurrentEncodes caps parallel encoder subprocesses.
	MaxConcurrentEncodes int `yaml:"maxConcurrentEncodes"`

	// SegmentFilenameDigits is the zero-pad width of segment indices.
	SegmentFilenameDigits int `yaml:"segmentFilenameDigits"`

	// WatchLibrary enables the fsnotify rescan loop.
	WatchLibrary bool `yaml:"watchLibrary"`

	// ShutdownGrace bounds draining and subprocess termination on stop.
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`

	// RequestRateLimit is requests per minute per client IP; 0 disables.
	RequestRateLimit int `yaml:"requestRateLimit"`

	LogLevel string `yaml:"logLevel"`

	// OTLP trace exporter: "grpc", "http" or empty for none.
	TraceExporter string `yaml:"traceExporter"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		CacheRoot:             "./cache",
		IndexPath:             "./vodhls-index.db",
		FFmpegPath:            "ffmpeg",
		FFprobePath:           "ffprobe",
		TargetSegmentDuration: 6,
		MaxConcurrentEncodes:  runtime.NumCPU(),
		SegmentFilenameDigits: 3,
		WatchLibrary:          true,
		ShutdownGrace:         15 * time.Second,
		RequestRateLimit:      600,
		LogLevel:              "info",
	}
}

// Load resolves the configuration. filePath may be empty to skip the YAML
// layer; a named file must exist.
func Load(filePath string) (Config, error) {
	cfg := defaults()

	if filePath != "" {
		data, err := os.ReadFile(filePath) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", filePath, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = ParseString("VODHLS_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LibraryDir = ParseString("VODHLS_LIBRARY_DIR", cfg.LibraryDir)
	cfg.CacheRoot = ParseString("VODHLS_CACHE_ROOT", cfg.CacheRoot)
	cfg.IndexPath = ParseString("VODHLS_INDEX_PATH", cfg.IndexPath)
	cfg.AnalysisCacheDir = ParseString("VODHLS_ANALYSIS_CACHE_DIR", cfg.AnalysisCacheDir)
	cfg.FFmpegPath = ParseString("VODHLS_FFMPEG_PATH", cfg.FFmpegPath)
	cfg.FFprobePath = ParseString("VODHLS_FFPROBE_PATH", cfg.FFprobePath)
	cfg.TargetSegmentDuration = ParseFloat("VODHLS_TARGET_SEGMENT_DURATION", cfg.TargetSegmentDuration)
	cfg.MaxConcurrentEncodes = ParseInt("VODHLS_MAX_CONCURRENT_ENCODES", cfg.MaxConcurrentEncodes)
	cfg.SegmentFilenameDigits = ParseInt("VODHLS_SEGMENT_FILENAME_DIGITS", cfg.SegmentFilenameDigits)
	cfg.WatchLibrary = ParseBool("VODHLS_WATCH_LIBRARY", cfg.WatchLibrary)
	cfg.ShutdownGrace = ParseDuration("VODHLS_SHUTDOWN_GRACE", cfg.ShutdownGrace)
	cfg.RequestRateLimit = ParseInt("VODHLS_RATE_LIMIT", cfg.RequestRateLimit)
	cfg.LogLevel = ParseString("VODHLS_LOG_LEVEL", cfg.LogLevel)
	cfg.TraceExporter = ParseString("VODHLS_TRACE_EXPORTER", cfg.TraceExporter)
	cfg.TraceEndpoint = ParseString("VODHLS_TRACE_ENDPOINT", cfg.TraceEndpoint)
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	if c.LibraryDir == "" {
		return fmt.Errorf("libraryDir is required")
	}
	if c.CacheRoot == "" {
		return fmt.Errorf("cacheRoot must not be empty")
	}
	if c.TargetSegmentDuration <= 0 {
		return fmt.Errorf("targetSegmentDuration must be positive, got %v", c.TargetSegmentDuration)
	}
	if c.MaxConcurrentEncodes < 1 {
		return fmt.Errorf("maxConcurrentEncodes must be at least 1, got %d", c.MaxConcurrentEncodes)
	}
	if c.SegmentFilenameDigits < cache.MinFilenameDigits {
		return fmt.Errorf("segmentFilenameDigits must be at least %d, got %d",
			cache.MinFilenameDigits, c.SegmentFilenameDigits)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdownGrace must be positive, got %v", c.ShutdownGrace)
	}
	switch c.TraceExporter {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("traceExporter must be grpc, http or empty, got %q", c.TraceExporter)
	}
	return nil
}
