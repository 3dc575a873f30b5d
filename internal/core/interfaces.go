// Package core defines the shared types and interfaces for the voice service.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/voice-service/internal/voice"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// AudioFormat is the container requested from the speech service.
type AudioFormat string

const (
	FormatMP3 AudioFormat = "mp3"
	FormatWAV AudioFormat = "wav"
)

// ErrUnknownFormat is returned for an audio format name that is not supported.
var ErrUnknownFormat = errors.New("unknown audio format")

// ParseAudioFormat maps a configured name onto an AudioFormat. An empty name
// selects mp3.
func ParseAudioFormat(name string) (AudioFormat, error) {
	switch AudioFormat(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatMP3:
		return FormatMP3, nil
	case FormatWAV:
		return FormatWAV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Extension returns the file extension for the format, defaulting to mp3.
func (f AudioFormat) Extension() string {
	if f == FormatWAV {
		return ".wav"
	}

	return ".mp3"
}

// SynthesisRequest holds the parameters of a single synthesis call.
// A nil Volume and zero Rate or Pitch leave the service defaults in place;
// an explicit zero Volume mutes.
type SynthesisRequest struct {
	Text   string
	Voice  voice.ID
	Format AudioFormat
	Volume *float64
	Rate   float64
	Pitch  float64
	Model  string
}

// EnrollmentJob describes one recording to register as a custom voice.
type EnrollmentJob struct {
	SourcePath  string
	UserID      string
	Transcript  string
	Language    string
	TargetModel string
}

// Synthesizer turns text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
}

// Enroller registers a recording as a custom voice.
type Enroller interface {
	Enroll(ctx context.Context, job EnrollmentJob) (voice.ID, error)
}
