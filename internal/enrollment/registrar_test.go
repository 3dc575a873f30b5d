package enrollment_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/enrollment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() enrollment.CreateVoiceRequest {
	return enrollment.CreateVoiceRequest{
		TargetModel: "cosyvoice-v3-plus",
		Prefix:      "v1a2b3c4d5",
		URL:         "https://voices.example/voice-enrollment/a.wav?sig=1",
		Language:    "en",
	}
}

func TestCreateVoice_SendsPayload(t *testing.T) {
	t.Parallel()

	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, "/services/audio/tts/customization", request.URL.Path)
		assert.Equal(t, "Bearer sk-test", request.Header.Get("Authorization"))
		assert.Equal(t, "application/json", request.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(request.Body).Decode(&payload))

		_, _ = io.WriteString(responseWriter, `{"request_id":"r1","output":{"voice_id":"cosyvoice-v3-plus-v1a2b3c4d5-abc"}}`)
	}))
	defer server.Close()

	registrar, err := enrollment.NewHTTPRegistrar(server.URL+"/", "sk-test", nil, newTestLogger(t))
	require.NoError(t, err)

	voiceID, err := registrar.CreateVoice(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "cosyvoice-v3-plus-v1a2b3c4d5-abc", voiceID)

	assert.Equal(t, "voice-enrollment", payload["model"])

	input := payload["input"].(map[string]any)
	assert.Equal(t, "create_voice", input["action"])
	assert.Equal(t, "cosyvoice-v3-plus", input["target_model"])
	assert.Equal(t, "v1a2b3c4d5", input["prefix"])
	assert.Equal(t, "https://voices.example/voice-enrollment/a.wav?sig=1", input["url"])
	assert.Equal(t, []any{"en"}, input["language_hints"])
}

func TestCreateVoice_ReadsLegacyVoiceField(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(responseWriter, `{"output":{"voice":"legacy-voice"}}`)
	}))
	defer server.Close()

	registrar, err := enrollment.NewHTTPRegistrar(server.URL, "sk-test", nil, newTestLogger(t))
	require.NoError(t, err)

	voiceID, err := registrar.CreateVoice(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "legacy-voice", voiceID)
}

func TestCreateVoice_MissingVoiceID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(responseWriter, `{"request_id":"r9","output":{}}`)
	}))
	defer server.Close()

	registrar, err := enrollment.NewHTTPRegistrar(server.URL, "sk-test", nil, newTestLogger(t))
	require.NoError(t, err)

	_, err = registrar.CreateVoice(context.Background(), sampleRequest())
	require.ErrorIs(t, err, enrollment.ErrVoiceIDMissing)
	assert.Contains(t, err.Error(), "r9")
}

func TestCreateVoice_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(responseWriter, `{"code":"InvalidApiKey"}`)
	}))
	defer server.Close()

	registrar, err := enrollment.NewHTTPRegistrar(server.URL, "sk-test", nil, newTestLogger(t))
	require.NoError(t, err)

	_, err = registrar.CreateVoice(context.Background(), sampleRequest())

	var apiErr *core.APIError

	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "InvalidApiKey")
	assert.False(t, enrollment.IsTransient(err))
}

func TestNewHTTPRegistrar_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := enrollment.NewHTTPRegistrar("", "", nil, newTestLogger(t))
	require.ErrorIs(t, err, config.ErrAPIKeyMissing)
}
