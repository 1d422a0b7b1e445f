// Package config provides the configuration structure for the
// audiobook-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                       string `toml:"url"`
	BookRequestedSubject      string `toml:"book_requested_subject"`
	AudiobookCreatedSubject   string `toml:"audiobook_created_subject"`
	AudiobookStreamName       string `toml:"audiobook_stream_name"`
	AudiobookConsumerName     string `toml:"audiobook_consumer_name"`
	ArtifactObjectStoreBucket string `toml:"artifact_object_store_bucket"`
}

// SynthesisConfig holds the settings for the synthesis pipeline and its
// external collaborators.
type SynthesisConfig struct {
	// EngineBinary is the local speech model CLI; used when EngineURL is
	// empty.
	EngineBinary string `toml:"engine_binary"`

	// EngineURL points at a standalone speech service; when set, the HTTP
	// engine is used instead of the CLI.
	EngineURL string `toml:"engine_url"`

	// EngineTimeoutSeconds bounds each HTTP synthesis request.
	EngineTimeoutSeconds int `toml:"engine_timeout_seconds"`

	// DefaultPreset overrides the built-in default voice when non-empty.
	DefaultPreset string `toml:"default_preset"`

	// FFmpegPath and FFprobePath override PATH lookup for the external
	// audio tools.
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the audiobook-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
