package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/text"
	"github.com/book-expert/voice-service/internal/voice"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// SynthesisWorker turns TextProcessedEvents into stored audio.
type SynthesisWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	synthesizer    core.Synthesizer
	normalizer     *text.Normalizer
	format         core.AudioFormat
	timeout        time.Duration
	log            *logger.Logger
}

// NewSynthesisWorker creates a synthesis worker.
func NewSynthesisWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	synthesizer core.Synthesizer,
	format core.AudioFormat,
	timeout time.Duration,
	log *logger.Logger,
) *SynthesisWorker {
	return &SynthesisWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synthesizer:    synthesizer,
		normalizer:     text.NewNormalizer(),
		format:         format,
		timeout:        timeout,
		log:            log,
	}
}

// Run listens for jobs until ctx is done.
func (w *SynthesisWorker) Run(ctx context.Context) error {
	w.log.Info("Synthesis worker listening on '%s'", w.subject)

	return serve(ctx, w.natsConnection, w.subject, w.handleMessage)
}

func (w *SynthesisWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal synthesis event: %v", err)

		return
	}

	audioKey, err := w.process(ctx, &event)
	if err != nil {
		w.log.Error("Failed to synthesize page %d/%d for workflow %s: %v",
			event.PageNumber, event.TotalPages, event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = respond(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// process downloads the page text, synthesizes it and stores the audio.
func (w *SynthesisWorker) process(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	if event.TextKey == "" {
		return "", ErrTextKeyEmpty
	}

	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	pageText := w.normalizer.Normalize(string(textData))
	if pageText == "" {
		return "", fmt.Errorf("%w: key '%s'", ErrTextEmpty, event.TextKey)
	}

	voiceID := voice.Resolve(event.Voice, "")

	w.log.Info("Workflow %s page %d: voice '%s' resolved to %s '%s'",
		event.Header.WorkflowID, event.PageNumber, event.Voice, voiceID.Kind(), voiceID)

	audioData, err := w.synthesizer.Synthesize(ctx, core.SynthesisRequest{
		Text:   pageText,
		Voice:  voiceID,
		Format: w.format,
		Volume: nil,
		Rate:   0,
		Pitch:  0,
		Model:  "",
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize speech: %w", err)
	}

	audioKey := uuid.NewString() + w.format.Extension()

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}
