// main package for the voice-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/audio"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/enrollment"
	"github.com/book-expert/voice-service/internal/objectstore"
	"github.com/book-expert/voice-service/internal/storage"
	"github.com/book-expert/voice-service/internal/telemetry"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/book-expert/voice-service/internal/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const serviceName = "voice-service"

var (
	errSubjectMissing = errors.New("nats synthesis_subject and enrollment_subject are required")
	errBucketMissing  = errors.New("nats audio_object_store_bucket is required")
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func validate(cfg *config.Config) error {
	if cfg.NATS.SynthesisSubject == "" || cfg.NATS.EnrollmentSubject == "" {
		return errSubjectMissing
	}

	if cfg.NATS.AudioObjectStoreBucket == "" {
		return errBucketMissing
	}

	return cfg.DashScope.ValidateAPIKey()
}

func connect(cfg config.NATSConfig, log *logger.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	natsConnection, err := nats.Connect(url, nats.Name(serviceName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	log.Info("Connected to NATS at %s", url)

	return natsConnection, jetstreamContext, nil
}

// buildEnroller assembles the enrollment pipeline behind its tracing wrapper.
func buildEnroller(ctx context.Context, cfg *config.Config, log *logger.Logger) (core.Enroller, error) {
	transcoder, err := audio.NewTranscoder(cfg.Transcoder.CommandLine(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcoder: %w", err)
	}

	uploader, err := storage.NewSignedUploader(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create uploader: %w", err)
	}

	registrar, err := enrollment.NewHTTPRegistrar(
		cfg.DashScope.URL(), cfg.DashScope.APIKey, telemetry.HTTPClient(0), log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registrar: %w", err)
	}

	orchestrator := enrollment.NewOrchestrator(
		transcoder, uploader, registrar, nil, enrollment.SettingsFromConfig(cfg.Enrollment), log,
	)

	return telemetry.NewEnroller(orchestrator), nil
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, jetstreamContext, err := connect(cfg.NATS, log)
	if err != nil {
		return err
	}
	defer natsConnection.Close()

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	format, err := core.ParseAudioFormat(cfg.Synthesis.DefaultFormat)
	if err != nil {
		return fmt.Errorf("invalid synthesis default_format: %w", err)
	}

	client, err := tts.NewClientFromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create synthesis client: %w", err)
	}

	enroller, err := buildEnroller(ctx, cfg, log)
	if err != nil {
		return err
	}

	synthesisWorker := worker.NewSynthesisWorker(
		natsConnection,
		cfg.NATS.SynthesisSubject,
		store,
		telemetry.NewSynthesizer(cfg.Synthesis.Model(), client),
		format,
		cfg.Synthesis.Timeout(),
		log,
	)
	enrollmentWorker := worker.NewEnrollmentWorker(
		natsConnection,
		cfg.NATS.EnrollmentSubject,
		store,
		enroller,
		cfg.Paths.WorkDir,
		cfg.Enrollment.JobTimeout(),
		log,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return synthesisWorker.Run(groupCtx) })
	group.Go(func() error { return enrollmentWorker.Run(groupCtx) })

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	drainErr := natsConnection.Drain()
	if drainErr != nil {
		log.Warn("Failed to drain NATS connection: %v", drainErr)
	}

	return nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), serviceName+"-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = validate(cfg)
	if err != nil {
		bootstrapLog.Error("Invalid configuration: %v", err)

		return fmt.Errorf("invalid configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceName+".log")
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

	finalLog.System("Voice-Service initialized. Synthesis on '%s', enrollment on '%s'",
		cfg.NATS.SynthesisSubject, cfg.NATS.EnrollmentSubject)

	// 4. Serve until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = serve(ctx, cfg, finalLog)
	if err != nil {
		finalLog.Error("Service stopped with error: %v", err)

		return err
	}

	finalLog.System("Voice-Service shut down cleanly.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
