package enrollment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
)

const (
	apiCustomization    = "/services/audio/tts/customization"
	enrollmentModel     = "voice-enrollment"
	actionCreateVoice   = "create_voice"
	operationEnrollment = "voice enrollment"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

// ErrVoiceIDMissing is returned when the service accepts a recording but
// does not name the voice it created.
var ErrVoiceIDMissing = errors.New("enrollment response did not contain a voice id")

// CreateVoiceRequest names a recording to register.
type CreateVoiceRequest struct {
	TargetModel string
	Prefix      string
	URL         string
	Language    string
}

type createVoicePayload struct {
	Model string           `json:"model"`
	Input createVoiceInput `json:"input"`
}

type createVoiceInput struct {
	Action        string   `json:"action"`
	TargetModel   string   `json:"target_model"`
	Prefix        string   `json:"prefix"`
	URL           string   `json:"url"`
	LanguageHints []string `json:"language_hints"`
}

type createVoiceResponse struct {
	RequestID string `json:"request_id"`
	Output    struct {
		VoiceID string `json:"voice_id"`
		Voice   string `json:"voice"`
	} `json:"output"`
}

// HTTPRegistrar registers recordings with the speech service.
type HTTPRegistrar struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logger.Logger
}

// NewHTTPRegistrar creates a registrar. The API key is required. Timeouts
// are left to the caller's context.
func NewHTTPRegistrar(baseURL, apiKey string, httpClient *http.Client, log *logger.Logger) (*HTTPRegistrar, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, config.ErrAPIKeyMissing
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}

	return &HTTPRegistrar{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		log:        log,
	}, nil
}

// CreateVoice asks the service to build a voice from the recording at
// req.URL and returns the new voice id.
func (r *HTTPRegistrar) CreateVoice(ctx context.Context, req CreateVoiceRequest) (string, error) {
	payload := createVoicePayload{
		Model: enrollmentModel,
		Input: createVoiceInput{
			Action:        actionCreateVoice,
			TargetModel:   req.TargetModel,
			Prefix:        req.Prefix,
			URL:           req.URL,
			LanguageHints: []string{req.Language},
		},
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enrollment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+apiCustomization, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create enrollment request: %w", err)
	}

	httpReq.Header.Set(headerAuthorization, bearerPrefix+r.apiKey)
	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send enrollment request to %s: %w", r.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", core.ReadAPIError(operationEnrollment, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read enrollment response: %w", err)
	}

	var decoded createVoiceResponse

	err = json.Unmarshal(body, &decoded)
	if err != nil {
		return "", fmt.Errorf("failed to parse enrollment response: %w", err)
	}

	voiceID := decoded.Output.VoiceID
	if voiceID == "" {
		voiceID = decoded.Output.Voice
	}

	if voiceID == "" {
		return "", fmt.Errorf("%w (request %s)", ErrVoiceIDMissing, decoded.RequestID)
	}

	r.log.Info("Service created voice '%s' for prefix '%s' (request %s)", voiceID, req.Prefix, decoded.RequestID)

	return voiceID, nil
}
