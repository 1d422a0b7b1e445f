// main package for the audiobook-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/audiobook-service/internal/config"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/engine"
	"github.com/book-expert/audiobook-service/internal/ffmpeg"
	"github.com/book-expert/audiobook-service/internal/objectstore"
	"github.com/book-expert/audiobook-service/internal/synthesis"
	"github.com/book-expert/audiobook-service/internal/text"
	"github.com/book-expert/audiobook-service/internal/worker"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "audiobook-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// buildEngine selects the speech engine implementation: the HTTP engine
// when a service URL is configured, the local CLI engine otherwise.
func buildEngine(
	cfg *config.Config,
	tools *ffmpeg.Tools,
	log *logger.Logger,
) (core.VoiceEngine, error) {
	if cfg.Synthesis.EngineURL != "" {
		timeout := time.Duration(cfg.Synthesis.EngineTimeoutSeconds) * time.Second

		return engine.NewHTTPEngine(cfg.Synthesis.EngineURL, timeout, tools, log), nil
	}

	cliEngine, err := engine.NewCLIEngine(cfg.Synthesis.EngineBinary, tools, log)
	if err != nil {
		return nil, fmt.Errorf("failed to construct speech engine: %w", err)
	}

	return cliEngine, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	tools := ffmpeg.New(cfg.Synthesis.FFmpegPath, cfg.Synthesis.FFprobePath, finalLog)

	speechEngine, err := buildEngine(cfg, tools, finalLog)
	if err != nil {
		return err
	}

	book := synthesis.NewBook(speechEngine, text.NewRuleSegmenter(), tools, finalLog)

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ArtifactObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		jetstreamContext,
		cfg.NATS.BookRequestedSubject,
		store,
		book,
		cfg.Paths.OutputDir,
		cfg.Synthesis.DefaultPreset,
		finalLog,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	finalLog.System("Audiobook-Service initialized. Listening for jobs on subject: %s",
		cfg.NATS.BookRequestedSubject)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker terminated: %w", runErr)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
