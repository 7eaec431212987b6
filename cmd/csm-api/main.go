// main package for the csm-api service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/csm-api/internal/config"
	"github.com/book-expert/csm-api/internal/objectstore"
	"github.com/book-expert/csm-api/internal/server"
	"github.com/book-expert/csm-api/internal/tts"
	"github.com/book-expert/csm-api/internal/tts/hub"
	"github.com/book-expert/csm-api/internal/worker"
)

const (
	bootstrapLogName = "csm-api-bootstrap.log"
	serviceLogName   = "csm-api.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logsDir := cfg.Paths.BaseLogsDir
	if logsDir == "" {
		logsDir = os.TempDir()
	}

	log, err := setupLogger(logsDir, serviceLogName)
	if err != nil {
		bootstrapLog.Error("Failed to create service logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runService(ctx, cfg, log)
}

func runService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	hubClient := hub.New(cfg.Model.HubURL, cfg.Model.HubToken, cfg.Model.CacheDir)

	engine := tts.NewEngine(tts.EngineOptions{
		ModelName:          cfg.Model.Name,
		Device:             cfg.Model.Device,
		LibraryPath:        cfg.Model.LibraryPath,
		FallbackSampleRate: cfg.Model.FallbackRate,
	}, hubClient, log)

	defer func() {
		closeErr := engine.Close()
		if closeErr != nil {
			log.Warn("Failed to close engine: %v", closeErr)
		}
	}()

	generator := tts.NewGenerator(engine, tts.GeneratorOptions{
		MaxTextLength:      cfg.Model.MaxTextLength,
		DefaultTemperature: cfg.Model.Temperature,
		OutputSampleRate:   cfg.Model.OutputRate,
	}, log)

	group, groupCtx := errgroup.WithContext(ctx)

	// Model loading runs alongside the listener so the liveness probe
	// answers during the multi-minute cold start. A load failure keeps the
	// process alive and unhealthy; the health endpoint reports it.
	group.Go(func() error {
		loadErr := engine.Load(groupCtx)
		if loadErr != nil {
			log.Error("Failed to load model %s: %v", cfg.Model.Name, loadErr)
		}

		return nil
	})

	group.Go(func() error {
		return server.New(cfg, generator, log).Run(groupCtx)
	})

	if cfg.NATS.Enabled {
		natsWorker, workerErr := buildWorker(cfg, generator, log)
		if workerErr != nil {
			return workerErr
		}

		group.Go(func() error {
			return natsWorker.Run(groupCtx)
		})
	}

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("service exited: %w", err)
	}

	return nil
}

func buildWorker(cfg *config.Config, generator *tts.Generator, log *logger.Logger) (*worker.NatsWorker, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio object store: %w", err)
	}

	return worker.NewNatsWorker(
		natsConnection, cfg.NATS.TextProcessedSubject, store, generator, log,
	), nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
