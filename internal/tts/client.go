// Package tts implements the streaming speech synthesis client.
//
// The service answers a synthesis request with a server-sent event stream.
// Each data line carries a JSON frame that may hold a base64 audio fragment
// or a URL where the finished audio can be fetched. The client assembles
// fragments in arrival order and falls back to the URL only when no inline
// audio arrived.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/retry"
	"github.com/book-expert/voice-service/internal/telemetry"
	"golang.org/x/time/rate"
)

// API endpoints and paths.
const (
	apiSynthesis = "/services/aigc/multimodal-generation/generation"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerSSE           = "X-DashScope-SSE"
	headerAccept        = "Accept"
	contentTypeJSON     = "application/json"
	contentTypeStream   = "text/event-stream"
	sseEnabled          = "enable"
	bearerPrefix        = "Bearer "
)

const (
	operationSynthesis = "speech synthesis"
	operationDownload  = "audio download"
)

var (
	// ErrTextEmpty is returned for a request without text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrVoiceEmpty is returned for a request without a voice.
	ErrVoiceEmpty = errors.New("voice cannot be empty")
	// ErrUnsupportedFormat is returned for an output format the service does not produce.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrNoAudioRecovered is returned when a stream ends with neither audio
	// fragments nor a fallback URL.
	ErrNoAudioRecovered = errors.New("no audio data recovered from stream")
	// ErrEmptyDownload is returned when the fallback URL serves an empty body.
	ErrEmptyDownload = errors.New("fallback audio download was empty")
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	// CustomVoiceDelay is waited before requests that use an enrolled voice.
	CustomVoiceDelay time.Duration
	// Limiter, when set, paces outgoing synthesis requests.
	Limiter    *rate.Limiter
	HTTPClient *http.Client
}

// Client calls the streaming synthesis endpoint.
type Client struct {
	httpClient       *http.Client
	baseURL          string
	apiKey           string
	defaultModel     string
	customVoiceDelay time.Duration
	limiter          *rate.Limiter
	log              *logger.Logger
}

// NewClient creates a synthesis client. The API key is required.
func NewClient(opts Options, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, config.ErrAPIKeyMissing
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}

	model := opts.DefaultModel
	if model == "" {
		model = config.DefaultSynthesisModel
	}

	return &Client{
		httpClient:       httpClient,
		baseURL:          baseURL,
		apiKey:           opts.APIKey,
		defaultModel:     model,
		customVoiceDelay: opts.CustomVoiceDelay,
		limiter:          opts.Limiter,
		log:              log,
	}, nil
}

// NewClientFromConfig creates a synthesis client from the service configuration.
func NewClientFromConfig(cfg *config.Config, log *logger.Logger) (*Client, error) {
	var limiter *rate.Limiter
	if cfg.Synthesis.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Synthesis.RequestsPerSecond), 1)
	}

	return NewClient(Options{
		BaseURL:          cfg.DashScope.URL(),
		APIKey:           cfg.DashScope.APIKey,
		DefaultModel:     cfg.Synthesis.Model(),
		CustomVoiceDelay: cfg.Synthesis.CustomVoiceDelay(),
		Limiter:          limiter,
		HTTPClient:       telemetry.StreamingHTTPClient(cfg.Synthesis.ConnectTimeout(), cfg.Synthesis.Timeout()),
	}, log)
}

// Synthesize requests speech for req and returns the assembled audio.
func (c *Client) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	if req.Voice.IsZero() {
		return nil, ErrVoiceEmpty
	}

	if req.Format != "" && req.Format != core.FormatMP3 && req.Format != core.FormatWAV {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if req.Voice.IsCustom() && c.customVoiceDelay > 0 {
		c.log.Info("Waiting %s before synthesizing with custom voice '%s'", c.customVoiceDelay, req.Voice)

		err := retry.Sleep(ctx, c.customVoiceDelay)
		if err != nil {
			return nil, fmt.Errorf("custom voice delay interrupted: %w", err)
		}
	}

	if c.limiter != nil {
		err := c.limiter.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	body := buildRequest(req, c.defaultModel)

	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSynthesis, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)
	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerSSE, sseEnabled)
	httpReq.Header.Set(headerAccept, contentTypeStream)

	c.log.Info("Synthesizing %d characters with model '%s' and voice '%s'", len(req.Text), body.Model, req.Voice)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to speech service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, core.ReadAPIError(operationSynthesis, resp)
	}

	result, err := ReadStream(resp.Body, c.log)
	if err != nil {
		return nil, err
	}

	if len(result.Audio) > 0 {
		c.log.Info("Assembled %d audio bytes from %d frames", len(result.Audio), result.Frames)

		return result.Audio, nil
	}

	if result.FallbackURL != "" {
		c.log.Info("No inline audio in %d frames, downloading from fallback url", result.Frames)

		return c.download(ctx, result.FallbackURL)
	}

	return nil, fmt.Errorf("%w (%d frames, %d malformed)", ErrNoAudioRecovered, result.Frames, result.Malformed)
}

// download fetches finished audio from a URL the service handed out.
func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download fallback audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, core.ReadAPIError(operationDownload, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback audio: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrEmptyDownload
	}

	return data, nil
}
