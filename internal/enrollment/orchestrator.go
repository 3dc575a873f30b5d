// Package enrollment turns a user's recording into a custom voice.
//
// A job moves through fixed stages: the recording is transcoded to the
// format the service trains best on, published to object storage under a
// signed URL, registered with the speech service, and then given time to
// propagate before the new voice is handed back. Only registration is
// retried; every other failure ends the job in FAILED.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/retry"
	"github.com/book-expert/voice-service/internal/voice"
	"github.com/google/uuid"
)

// State is a stage of an enrollment job.
type State string

const (
	StatePending     State = "PENDING"
	StateTranscoding State = "TRANSCODING"
	StateUploading   State = "UPLOADING"
	StateRegistering State = "REGISTERING"
	StatePropagating State = "PROPAGATING"
	StateReady       State = "READY"
	StateFailed      State = "FAILED"
)

const defaultExtension = ".wav"

// ErrSourceMissing is returned for a job without a recording path.
var ErrSourceMissing = errors.New("enrollment source path cannot be empty")

// Error reports the stage in which a job failed.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("voice enrollment failed during %s: %v", strings.ToLower(string(e.State)), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transcoder converts a recording into the enrollment format.
type Transcoder interface {
	ToEnrollmentFormat(ctx context.Context, inputPath string) (string, error)
}

// Uploader publishes bytes and returns a URL the speech service can fetch.
type Uploader interface {
	Upload(ctx context.Context, data []byte, key string) (string, error)
}

// Registrar creates a voice from a published recording.
type Registrar interface {
	CreateVoice(ctx context.Context, req CreateVoiceRequest) (string, error)
}

// Settings tunes an Orchestrator.
type Settings struct {
	TargetModel      string
	DefaultLanguage  string
	KeyPrefix        string
	MaxAttempts      int
	RetryBackoff     time.Duration
	RequestTimeout   time.Duration
	PropagationDelay time.Duration
}

// SettingsFromConfig applies the configured values and their defaults.
func SettingsFromConfig(cfg config.EnrollmentConfig) Settings {
	return Settings{
		TargetModel:      cfg.Target(),
		DefaultLanguage:  cfg.Language(),
		KeyPrefix:        cfg.Prefix(),
		MaxAttempts:      cfg.Attempts(),
		RetryBackoff:     cfg.RetryBackoff(),
		RequestTimeout:   cfg.RequestTimeout(),
		PropagationDelay: cfg.PropagationDelay(),
	}
}

// Orchestrator runs enrollment jobs. It holds no per-job state and may be
// shared between goroutines.
type Orchestrator struct {
	transcoder Transcoder
	uploader   Uploader
	registrar  Registrar
	prefixes   *PrefixGenerator
	settings   Settings
	log        *logger.Logger
}

// NewOrchestrator wires the stages together. A nil prefixes uses crypto/rand.
func NewOrchestrator(
	transcoder Transcoder,
	uploader Uploader,
	registrar Registrar,
	prefixes *PrefixGenerator,
	settings Settings,
	log *logger.Logger,
) *Orchestrator {
	if prefixes == nil {
		prefixes = NewPrefixGenerator(nil)
	}

	return &Orchestrator{
		transcoder: transcoder,
		uploader:   uploader,
		registrar:  registrar,
		prefixes:   prefixes,
		settings:   settings,
		log:        log,
	}
}

// jobRun carries the state of one Enroll call.
type jobRun struct {
	id    string
	state State
	log   *logger.Logger
}

func (r *jobRun) enter(next State) {
	r.log.Info("Enrollment %s: %s -> %s", r.id, r.state, next)
	r.state = next
}

func (r *jobRun) fail(err error) error {
	failed := &Error{State: r.state, Err: err}

	r.log.Error("Enrollment %s: %s -> %s: %v", r.id, r.state, StateFailed, err)
	r.state = StateFailed

	return failed
}

// Enroll registers the recording at job.SourcePath and returns the new voice.
// The transcoded copy is removed on every exit path; the source is never
// modified.
func (o *Orchestrator) Enroll(ctx context.Context, job core.EnrollmentJob) (voice.ID, error) {
	run := &jobRun{id: uuid.NewString(), state: StatePending, log: o.log}

	if strings.TrimSpace(job.SourcePath) == "" {
		return voice.ID{}, run.fail(ErrSourceMissing)
	}

	run.enter(StateTranscoding)

	samplePath := job.SourcePath

	converted, err := o.transcoder.ToEnrollmentFormat(ctx, job.SourcePath)
	if err != nil {
		o.log.Warn("Enrollment %s: transcoding failed, uploading original recording: %v", run.id, err)
	} else {
		samplePath = converted

		defer o.removeTemp(run.id, converted)
	}

	run.enter(StateUploading)

	url, err := o.upload(ctx, samplePath)
	if err != nil {
		return voice.ID{}, run.fail(err)
	}

	run.enter(StateRegistering)

	voiceID, err := o.register(ctx, run, job, url)
	if err != nil {
		return voice.ID{}, run.fail(err)
	}

	run.enter(StatePropagating)

	err = retry.Sleep(ctx, o.settings.PropagationDelay)
	if err != nil {
		return voice.ID{}, run.fail(fmt.Errorf("waiting for voice '%s' to propagate: %w", voiceID, err))
	}

	run.enter(StateReady)

	return voice.Custom(voiceID), nil
}

func (o *Orchestrator) upload(ctx context.Context, samplePath string) (string, error) {
	data, err := os.ReadFile(samplePath)
	if err != nil {
		return "", fmt.Errorf("failed to read recording: %w", err)
	}

	ext := filepath.Ext(samplePath)
	if ext == "" {
		ext = defaultExtension
	}

	key := o.settings.KeyPrefix + "/" + uuid.NewString() + ext

	url, err := o.uploader.Upload(ctx, data, key)
	if err != nil {
		return "", fmt.Errorf("failed to publish recording: %w", err)
	}

	return url, nil
}

func (o *Orchestrator) register(ctx context.Context, run *jobRun, job core.EnrollmentJob, url string) (string, error) {
	prefix, err := o.prefixes.Generate(job.UserID)
	if err != nil {
		return "", err
	}

	target := job.TargetModel
	if target == "" {
		target = o.settings.TargetModel
	}

	req := CreateVoiceRequest{
		TargetModel: target,
		Prefix:      prefix,
		URL:         url,
		Language:    ResolveLanguage(job.Language, job.Transcript, o.settings.DefaultLanguage),
	}

	policy := retry.Policy{
		MaxAttempts: o.settings.MaxAttempts,
		Backoff:     retry.Linear(o.settings.RetryBackoff),
		Retryable: func(err error) bool {
			return ctx.Err() == nil && IsTransient(err)
		},
		OnRetry: func(attempt int, wait time.Duration, err error) {
			o.log.Warn("Enrollment %s: attempt %d failed, retrying in %s: %v", run.id, attempt, wait, err)
		},
	}

	var voiceID string

	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := o.attemptContext(ctx)
		defer cancel()

		o.log.Info("Enrollment %s: registering prefix '%s' with %s (attempt %d, language %s)",
			run.id, req.Prefix, req.TargetModel, attempt, req.Language)

		id, createErr := o.registrar.CreateVoice(attemptCtx, req)
		if createErr != nil {
			return createErr
		}

		voiceID = id

		return nil
	})
	if err != nil {
		return "", err
	}

	return voiceID, nil
}

func (o *Orchestrator) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.settings.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, o.settings.RequestTimeout)
}

func (o *Orchestrator) removeTemp(jobID, path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		o.log.Warn("Enrollment %s: failed to remove temporary file %s: %v", jobID, path, err)
	}
}
