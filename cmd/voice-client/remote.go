package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	textKeySuffix       = ".txt"
	recordingKeyPrefix  = "recordings/"
	singlePageNumber    = 1
	singlePageTotal     = 1
	errFmtRequestFailed = "request on '%s' failed: %w"
)

// errEnrollmentRejected wraps the error text returned by the service.
var errEnrollmentRejected = errors.New("enrollment rejected")

// remote drives the voice-service over NATS request/reply. Payloads are
// exchanged through the shared object store.
type remote struct {
	natsConnection    *nats.Conn
	store             core.ObjectStore
	synthesisSubject  string
	enrollmentSubject string
	userID            string
	timeout           time.Duration
}

func newHeader(userID string) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     userID,
		TenantID:   "",
	}
}

// Synthesize sends req.Text to the service and returns the audio it stored.
// The service picks the model and format; req.Voice travels as its raw id.
func (r *remote) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	textKey := uuid.NewString() + textKeySuffix

	err := r.store.Upload(ctx, textKey, []byte(req.Text))
	if err != nil {
		return nil, fmt.Errorf("failed to upload text: %w", err)
	}

	event := events.TextProcessedEvent{
		Header:            newHeader(r.userID),
		TextKey:           textKey,
		PNGKey:            "",
		PageNumber:        singlePageNumber,
		TotalPages:        singlePageTotal,
		Voice:             req.Voice.String(),
		Seed:              0,
		NGL:               0,
		TopP:              0,
		RepetitionPenalty: 0,
		Temperature:       0,
	}

	var reply events.AudioChunkCreatedEvent

	err = r.request(ctx, r.synthesisSubject, &event, &reply)
	if err != nil {
		return nil, err
	}

	audioData, err := r.store.Download(ctx, reply.AudioKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio '%s': %w", reply.AudioKey, err)
	}

	return audioData, nil
}

// Enroll uploads the recording at path and asks the service to enroll it.
func (r *remote) Enroll(ctx context.Context, path, transcript, language string) (string, error) {
	recording, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return "", fmt.Errorf("failed to read recording: %w", err)
	}

	audioKey := recordingKeyPrefix + uuid.NewString() + filepath.Ext(path)

	err = r.store.Upload(ctx, audioKey, recording)
	if err != nil {
		return "", fmt.Errorf("failed to upload recording: %w", err)
	}

	request := worker.EnrollmentRequest{
		Header:     newHeader(r.userID),
		AudioKey:   audioKey,
		Transcript: transcript,
		Language:   language,
	}

	var result worker.EnrollmentResult

	err = r.request(ctx, r.enrollmentSubject, &request, &result)
	if err != nil {
		return "", err
	}

	if result.Error != "" {
		return "", fmt.Errorf("%w: %s", errEnrollmentRejected, result.Error)
	}

	return result.VoiceID, nil
}

func (r *remote) request(ctx context.Context, subject string, payload, reply any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg, err := r.natsConnection.RequestWithContext(requestCtx, subject, data)
	if err != nil {
		return fmt.Errorf(errFmtRequestFailed, subject, err)
	}

	err = json.Unmarshal(msg.Data, reply)
	if err != nil {
		return fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	return nil
}
