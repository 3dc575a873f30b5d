package tts

import (
	"math"
	"strings"

	"github.com/book-expert/voice-service/internal/core"
)

// Service defaults for the tuning parameters.
const (
	defaultVolume     = 50
	volumeScale       = 50
	maxVolume         = 100
	defaultSpeechRate = 1.0
	defaultPitch      = 1.0
)

// modelFamilyWithoutTuning names the model family that rejects volume,
// speech_rate and pitch.
const modelFamilyWithoutTuning = "cosyvoice"

// Request is the JSON body of a synthesis call.
type Request struct {
	Model      string            `json:"model"`
	Input      RequestInput      `json:"input"`
	Parameters RequestParameters `json:"parameters"`
}

// RequestInput carries the text to speak.
type RequestInput struct {
	Text string `json:"text"`
}

// RequestParameters selects the voice and output. Tuning fields are nil for
// models that do not accept them.
type RequestParameters struct {
	Voice      string   `json:"voice"`
	Format     string   `json:"format"`
	Volume     *int     `json:"volume,omitempty"`
	SpeechRate *float64 `json:"speech_rate,omitempty"`
	Pitch      *float64 `json:"pitch,omitempty"`
}

// SupportsTuning reports whether model accepts volume, rate and pitch.
func SupportsTuning(model string) bool {
	return !strings.Contains(strings.ToLower(model), modelFamilyWithoutTuning)
}

// buildRequest renders req into the wire body, picking defaultModel unless
// the request overrides it.
func buildRequest(req core.SynthesisRequest, defaultModel string) Request {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	format := req.Format
	if format == "" {
		format = core.FormatMP3
	}

	body := Request{
		Model: model,
		Input: RequestInput{Text: req.Text},
		Parameters: RequestParameters{
			Voice:      req.Voice.String(),
			Format:     string(format),
			Volume:     nil,
			SpeechRate: nil,
			Pitch:      nil,
		},
	}

	if !SupportsTuning(model) {
		return body
	}

	volume := scaleVolume(req.Volume)
	rate := orDefault(req.Rate, defaultSpeechRate)
	pitch := orDefault(req.Pitch, defaultPitch)

	body.Parameters.Volume = &volume
	body.Parameters.SpeechRate = &rate
	body.Parameters.Pitch = &pitch

	return body
}

// scaleVolume maps a fractional volume in [0,1] onto the service's 0..100
// range; larger values are taken as already on that range. Unset selects the
// service default.
func scaleVolume(volume *float64) int {
	switch {
	case volume == nil:
		return defaultVolume
	case *volume <= 0:
		return 0
	case *volume <= 1:
		return int(math.Round(*volume * volumeScale))
	default:
		return min(int(math.Round(*volume)), maxVolume)
	}
}

func orDefault(value, fallback float64) float64 {
	if value <= 0 {
		return fallback
	}

	return value
}
