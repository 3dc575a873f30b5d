package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/nats-io/nats.go"
)

const recordingPattern = "enroll-*"

// EnrollmentRequest asks the service to enroll a stored recording.
type EnrollmentRequest struct {
	Header     events.EventHeader `json:"header"`
	AudioKey   string             `json:"audio_key"`
	Transcript string             `json:"transcript,omitempty"`
	Language   string             `json:"language,omitempty"`
}

// EnrollmentResult is the reply to an EnrollmentRequest. Error is set
// instead of VoiceID when the job failed.
type EnrollmentResult struct {
	Header  events.EventHeader `json:"header"`
	VoiceID string             `json:"voice_id,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// RecordingStore materialises stored recordings on local disk.
type RecordingStore interface {
	DownloadToFile(ctx context.Context, key, dir, pattern string) (string, error)
}

// EnrollmentWorker runs enrollment jobs received over NATS.
type EnrollmentWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          RecordingStore
	enroller       core.Enroller
	workDir        string
	timeout        time.Duration
	log            *logger.Logger
}

// NewEnrollmentWorker creates an enrollment worker. Recordings are
// downloaded into workDir, or the system temp dir when workDir is empty.
func NewEnrollmentWorker(
	natsConnection *nats.Conn,
	subject string,
	store RecordingStore,
	enroller core.Enroller,
	workDir string,
	timeout time.Duration,
	log *logger.Logger,
) *EnrollmentWorker {
	return &EnrollmentWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		enroller:       enroller,
		workDir:        workDir,
		timeout:        timeout,
		log:            log,
	}
}

// Run listens for jobs until ctx is done.
func (w *EnrollmentWorker) Run(ctx context.Context) error {
	w.log.Info("Enrollment worker listening on '%s'", w.subject)

	return serve(ctx, w.natsConnection, w.subject, w.handleMessage)
}

func (w *EnrollmentWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var request EnrollmentRequest

	result := EnrollmentResult{}

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.log.Error("Failed to unmarshal enrollment request: %v", err)
		result.Error = fmt.Sprintf("invalid enrollment request: %v", err)
	} else {
		result.Header = request.Header

		voiceID, enrollErr := w.process(ctx, &request)
		if enrollErr != nil {
			w.log.Error("Enrollment for workflow %s failed: %v", request.Header.WorkflowID, enrollErr)
			result.Error = enrollErr.Error()
		} else {
			w.log.Info("Enrollment for workflow %s produced voice '%s'", request.Header.WorkflowID, voiceID)
			result.VoiceID = voiceID
		}
	}

	err = respond(msg, &result)
	if err != nil {
		w.log.Error("Failed to publish enrollment result for workflow %s: %v", request.Header.WorkflowID, err)
	}
}

func (w *EnrollmentWorker) process(ctx context.Context, request *EnrollmentRequest) (string, error) {
	if request.AudioKey == "" {
		return "", ErrAudioKeyEmpty
	}

	recordingPath, err := w.store.DownloadToFile(ctx, request.AudioKey, w.workDir, recordingPattern+filepath.Ext(request.AudioKey))
	if err != nil {
		return "", fmt.Errorf("failed to fetch recording '%s': %w", request.AudioKey, err)
	}

	defer func() {
		removeErr := os.Remove(recordingPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			w.log.Warn("Failed to remove downloaded recording %s: %v", recordingPath, removeErr)
		}
	}()

	voiceID, err := w.enroller.Enroll(ctx, core.EnrollmentJob{
		SourcePath:  recordingPath,
		UserID:      request.Header.UserID,
		Transcript:  request.Transcript,
		Language:    request.Language,
		TargetModel: "",
	})
	if err != nil {
		return "", err
	}

	return voiceID.String(), nil
}
