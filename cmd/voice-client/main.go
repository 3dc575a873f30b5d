package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/audio"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/objectstore"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/book-expert/voice-service/internal/voice"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagTextDesc       = "Text to convert to speech"
	flagChunksDesc     = "JSON file containing text chunks to process"
	flagEnrollDesc     = "Recording to enroll as a custom voice"
	flagVoiceDesc      = "Speaker name or enrolled voice id"
	flagOutputDesc     = "Output file (text) or directory (chunks)"
	flagUserDesc       = "User the job is attributed to"
	flagTranscriptDesc = "Transcript of the enrollment recording"
	flagLangDesc       = "Language hint for enrollment (en, zh)"
	flagTimeoutDesc    = "Time to wait for each reply"
)

// Flag names.
const (
	flagText       = "text"
	flagChunks     = "chunks"
	flagEnroll     = "enroll"
	flagVoice      = "voice"
	flagOutput     = "output"
	flagUser       = "user"
	flagTranscript = "transcript"
	flagLang       = "lang"
	flagTimeout    = "timeout"
)

// Error and log messages.
const (
	errExactlyOneMode   = "Exactly one of --text, --chunks or --enroll must be provided"
	errFailedToSetup    = "Failed to set up client: %v"
	logGenerated        = "Generated: %s\n"
	logGeneratedFiles   = "Generated %d audio files in: %s\n"
	logEnrolled         = "Enrolled voice: %s\n"
	logFileName         = "voice-client.log"
	defaultOutputFile   = "output"
	defaultOutputDir    = "audio"
	defaultReplyTimeout = 5 * time.Minute
)

var errExactlyOne = errors.New(errExactlyOneMode)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text       string
	chunks     string
	enroll     string
	voice      string
	output     string
	user       string
	transcript string
	lang       string
	timeout    time.Duration
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	err := validateFlags(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	cfg, clientLog, err := setup()
	if err != nil {
		return fmt.Errorf(errFailedToSetup, err)
	}

	defer func() { _ = clientLog.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsConnection, err := nats.Connect(natsURL(cfg.NATS), nats.Name("voice-client"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	client := &remote{
		natsConnection:    natsConnection,
		store:             store,
		synthesisSubject:  cfg.NATS.SynthesisSubject,
		enrollmentSubject: cfg.NATS.EnrollmentSubject,
		userID:            flags.user,
		timeout:           flags.timeout,
	}

	return dispatch(ctx, cfg, clientLog, client, flags)
}

// parseFlags defines and parses command-line flags on fs.
func parseFlags(fs *flag.FlagSet, args []string) appFlags {
	var flags appFlags
	fs.StringVar(&flags.text, flagText, "", flagTextDesc)
	fs.StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	fs.StringVar(&flags.enroll, flagEnroll, "", flagEnrollDesc)
	fs.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	fs.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	fs.StringVar(&flags.user, flagUser, "", flagUserDesc)
	fs.StringVar(&flags.transcript, flagTranscript, "", flagTranscriptDesc)
	fs.StringVar(&flags.lang, flagLang, "", flagLangDesc)
	fs.DurationVar(&flags.timeout, flagTimeout, defaultReplyTimeout, flagTimeoutDesc)
	_ = fs.Parse(args)

	return flags
}

// validateFlags requires exactly one of the three modes.
func validateFlags(flags appFlags) error {
	modes := 0

	for _, value := range []string{flags.text, flags.chunks, flags.enroll} {
		if value != "" {
			modes++
		}
	}

	if modes != 1 {
		return errExactlyOne
	}

	return nil
}

func setup() (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		_ = bootstrapLog.Close()

		return nil, nil, err
	}

	if cfg.Paths.BaseLogsDir == "" {
		return cfg, bootstrapLog, nil
	}

	_ = bootstrapLog.Close()

	clientLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, clientLog, nil
}

func natsURL(cfg config.NATSConfig) string {
	if cfg.URL == "" {
		return nats.DefaultURL
	}

	return cfg.URL
}

// dispatch runs the mode selected by flags.
func dispatch(ctx context.Context, cfg *config.Config, clientLog *logger.Logger, client *remote, flags appFlags) error {
	switch {
	case flags.enroll != "":
		return enroll(ctx, cfg, clientLog, client, flags)
	case flags.chunks != "":
		return synthesizeChunks(ctx, cfg, clientLog, client, flags)
	default:
		return synthesizeText(ctx, cfg, clientLog, client, flags)
	}
}

func outputFormat(cfg *config.Config) core.AudioFormat {
	format, err := core.ParseAudioFormat(cfg.Synthesis.DefaultFormat)
	if err != nil {
		return core.FormatMP3
	}

	return format
}

func synthesizeText(ctx context.Context, cfg *config.Config, clientLog *logger.Logger, client *remote, flags appFlags) error {
	format := outputFormat(cfg)

	outputPath := flags.output
	if outputPath == "" {
		outputPath = defaultOutputFile + format.Extension()
	}

	clientLog.Info("Synthesizing text to: %s", outputPath)

	audioData, err := client.Synthesize(ctx, core.SynthesisRequest{
		Text:   flags.text,
		Voice:  voice.Resolve(flags.voice, ""),
		Format: format,
		Volume: nil,
		Rate:   0,
		Pitch:  0,
		Model:  "",
	})
	if err != nil {
		clientLog.Error("Failed to synthesize text: %v", err)

		return fmt.Errorf("failed to synthesize text: %w", err)
	}

	err = os.WriteFile(outputPath, audioData, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	fmt.Printf(logGenerated, outputPath)

	return nil
}

func synthesizeChunks(ctx context.Context, cfg *config.Config, clientLog *logger.Logger, client *remote, flags appFlags) error {
	chunks, err := tts.ReadChunks(flags.chunks)
	if err != nil {
		return fmt.Errorf("failed to read chunks: %w", err)
	}

	outputDir := flags.output
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	clientLog.Info("Processing %d chunks from %s into %s", len(chunks), flags.chunks, outputDir)

	batch := tts.NewBatch(client, cfg.Synthesis.Concurrency(), clientLog)

	paths, err := batch.Run(ctx, chunks, outputDir, core.SynthesisRequest{
		Text:   "",
		Voice:  voice.Resolve(flags.voice, ""),
		Format: outputFormat(cfg),
		Volume: nil,
		Rate:   0,
		Pitch:  0,
		Model:  "",
	})
	if err != nil {
		clientLog.Error("Failed to process chunks: %v", err)

		return fmt.Errorf("failed to process chunks: %w", err)
	}

	fmt.Printf(logGeneratedFiles, len(paths), outputDir)

	return nil
}

// enroll converts the recording to the transport format when ffmpeg is
// available, then hands it to the service.
func enroll(ctx context.Context, cfg *config.Config, clientLog *logger.Logger, client *remote, flags appFlags) error {
	recordingPath := flags.enroll

	transcoder, err := audio.NewTranscoder(cfg.Transcoder.CommandLine(), clientLog)
	if err != nil {
		clientLog.Warn("Transcoder unavailable, sending original recording: %v", err)
	} else {
		converted, ok := transcoder.TransportFormatOrOriginal(ctx, flags.enroll)
		if ok {
			defer removeQuietly(clientLog, converted)
		}

		recordingPath = converted
	}

	clientLog.Info("Enrolling %s for user '%s'", filepath.Base(recordingPath), flags.user)

	voiceID, err := client.Enroll(ctx, recordingPath, flags.transcript, flags.lang)
	if err != nil {
		clientLog.Error("Enrollment failed: %v", err)

		return err
	}

	fmt.Printf(logEnrolled, voiceID)

	return nil
}

func removeQuietly(clientLog *logger.Logger, path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		clientLog.Warn("Failed to remove %s: %v", path, removeErr)
	}
}
