package tts_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/book-expert/voice-service/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey    = "sk-test"
	synthesisPath = "/services/aigc/multimodal-generation/generation"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func newTestClient(t *testing.T, baseURL string, delay time.Duration) *tts.Client {
	t.Helper()

	client, err := tts.NewClient(tts.Options{
		BaseURL:          baseURL,
		APIKey:           testAPIKey,
		DefaultModel:     "",
		CustomVoiceDelay: delay,
		Limiter:          nil,
		HTTPClient:       nil,
	}, newTestLogger(t))
	require.NoError(t, err)

	return client
}

func officialRequest(text string) core.SynthesisRequest {
	return core.SynthesisRequest{
		Text:   text,
		Voice:  voice.Official(voice.Cherry),
		Format: core.FormatMP3,
	}
}

func frame(payload string) string {
	return "data:" + payload + "\n\n"
}

func audioFrame(data []byte) string {
	return frame(fmt.Sprintf(`{"output":{"audio":{"data":"%s"}}}`, base64.StdEncoding.EncodeToString(data)))
}

// streamHandler writes each delivery separately and flushes between them.
func streamHandler(t *testing.T, deliveries ...string) http.HandlerFunc {
	t.Helper()

	return func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.Header().Set("Content-Type", "text/event-stream")
		responseWriter.WriteHeader(http.StatusOK)

		flusher, _ := responseWriter.(http.Flusher)

		for _, delivery := range deliveries {
			_, _ = io.WriteString(responseWriter, delivery)

			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := tts.NewClient(tts.Options{APIKey: "  "}, newTestLogger(t))
	require.ErrorIs(t, err, config.ErrAPIKeyMissing)
}

func TestSynthesize_SingleFrame(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(streamHandler(t, `data:{"output":{"audio":{"data":"aGVsbG8="}}}`+"\n"))
	defer server.Close()

	audioData, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), officialRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(audioData))
}

func TestSynthesize_RequestShape(t *testing.T) {
	t.Parallel()

	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, synthesisPath, request.URL.Path)
		assert.Equal(t, "Bearer "+testAPIKey, request.Header.Get("Authorization"))
		assert.Equal(t, "application/json", request.Header.Get("Content-Type"))
		assert.Equal(t, "enable", request.Header.Get("X-DashScope-SSE"))
		assert.NoError(t, json.NewDecoder(request.Body).Decode(&captured))

		_, _ = io.WriteString(responseWriter, audioFrame([]byte("ok")))
	}))
	defer server.Close()

	req := officialRequest("hi there")
	volume := 0.8
	req.Volume = &volume

	_, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultSynthesisModel, captured["model"])
	assert.Equal(t, "hi there", captured["input"].(map[string]any)["text"])

	parameters := captured["parameters"].(map[string]any)
	assert.Equal(t, "Cherry", parameters["voice"])
	assert.Equal(t, "mp3", parameters["format"])
	assert.InDelta(t, 40, parameters["volume"], 0.001)
	assert.InDelta(t, 1.0, parameters["speech_rate"], 0.001)
	assert.InDelta(t, 1.0, parameters["pitch"], 0.001)
}

func TestSynthesize_VolumeScaling(t *testing.T) {
	t.Parallel()

	volumeOf := func(value float64) *float64 { return &value }

	tests := []struct {
		name   string
		volume *float64
		want   float64
	}{
		{name: "unset uses service default", volume: nil, want: 50},
		{name: "explicit zero mutes", volume: volumeOf(0), want: 0},
		{name: "fraction is scaled", volume: volumeOf(0.5), want: 25},
		{name: "full scale value kept", volume: volumeOf(80), want: 80},
		{name: "above range is capped", volume: volumeOf(150), want: 100},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			parameters := make(chan map[string]any, 1)

			server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
				var body map[string]any

				assert.NoError(t, json.NewDecoder(request.Body).Decode(&body))

				params, _ := body["parameters"].(map[string]any)
				parameters <- params

				_, _ = io.WriteString(responseWriter, audioFrame([]byte("ok")))
			}))
			defer server.Close()

			req := officialRequest("hi")
			req.Volume = testCase.volume

			_, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), req)
			require.NoError(t, err)

			sent := <-parameters
			require.Contains(t, sent, "volume")
			assert.InDelta(t, testCase.want, sent["volume"], 0.001)
		})
	}
}

func TestSynthesize_TuningOmittedForCosyVoice(t *testing.T) {
	t.Parallel()

	var parameters map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		var body map[string]any

		assert.NoError(t, json.NewDecoder(request.Body).Decode(&body))
		parameters, _ = body["parameters"].(map[string]any)

		_, _ = io.WriteString(responseWriter, audioFrame([]byte("ok")))
	}))
	defer server.Close()

	req := officialRequest("hi")
	req.Model = "cosyvoice-v3-plus"
	volume := 70.0
	req.Volume = &volume
	req.Rate = 1.2
	req.Pitch = 0.9

	_, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, parameters)
	assert.NotContains(t, parameters, "volume")
	assert.NotContains(t, parameters, "speech_rate")
	assert.NotContains(t, parameters, "pitch")
	assert.Equal(t, "Cherry", parameters["voice"])
}

func TestSynthesize_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(responseWriter, `{"code":"InvalidVoice","message":"not found"}`)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), officialRequest("hi"))
	require.Error(t, err)

	var apiErr *core.APIError

	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "InvalidVoice")
}

func TestSynthesize_SplitDeliveries(t *testing.T) {
	t.Parallel()

	first := base64.StdEncoding.EncodeToString([]byte("first-"))
	second := base64.StdEncoding.EncodeToString([]byte("second"))

	server := httptest.NewServer(streamHandler(t,
		`data:{"output":{"audio":{"data":"`+first[:3],
		first[3:]+`"}}}`+"\n",
		`data:{"output":{"audio":{"data":"`+second+`"}}}`+"\n",
	))
	defer server.Close()

	audioData, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), officialRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(audioData))
}

func TestSynthesize_ErrorFramesDoNotAbort(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(streamHandler(t,
		frame(`{"code":"Throttling","message":"slow down"}`),
		frame(`not json at all`),
		frame(`{"output":{"task_status":"FAILED","message":"partial failure"}}`),
		audioFrame([]byte("survived")),
		frame("[DONE]"),
	))
	defer server.Close()

	audioData, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), officialRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "survived", string(audioData))
}

func TestSynthesize_FallbackURL(t *testing.T) {
	t.Parallel()

	var downloads atomic.Int32

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/audio/old.mp3", func(responseWriter http.ResponseWriter, _ *http.Request) {
		downloads.Add(1)
		_, _ = io.WriteString(responseWriter, "stale")
	})
	mux.HandleFunc("/audio/final.mp3", func(responseWriter http.ResponseWriter, request *http.Request) {
		downloads.Add(1)
		assert.Empty(t, request.Header.Get("Authorization"))
		_, _ = io.WriteString(responseWriter, "downloaded")
	})
	mux.HandleFunc(synthesisPath, streamHandler(t,
		frame(`{"output":{"audio_url":"`+server.URL+`/audio/old.mp3"}}`),
		frame(`{"output":{"audio":{"url":"`+server.URL+`/audio/final.mp3"}}}`),
	))

	audioData, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), officialRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "downloaded", string(audioData))
	assert.Equal(t, int32(1), downloads.Load())
}

func TestSynthesize_InlineAudioBeatsFallback(t *testing.T) {
	t.Parallel()

	var downloads atomic.Int32

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/audio/final.mp3", func(http.ResponseWriter, *http.Request) {
		downloads.Add(1)
	})
	mux.HandleFunc(synthesisPath, streamHandler(t,
		audioFrame([]byte("inline")),
		frame(`{"output":{"audio":{"url":"`+server.URL+`/audio/final.mp3"}}}`),
	))

	audioData, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), officialRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "inline", string(audioData))
	assert.Equal(t, int32(0), downloads.Load())
}

func TestSynthesize_NoAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(streamHandler(t,
		frame(`{"output":{"finish_reason":"stop"}}`),
		frame("[DONE]"),
	))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 0).Synthesize(context.Background(), officialRequest("hi"))
	require.ErrorIs(t, err, tts.ErrNoAudioRecovered)
}

func TestSynthesize_RejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	_, err := client.Synthesize(context.Background(), officialRequest("   "))
	require.ErrorIs(t, err, tts.ErrTextEmpty)

	_, err = client.Synthesize(context.Background(), core.SynthesisRequest{Text: "hi"})
	require.ErrorIs(t, err, tts.ErrVoiceEmpty)

	req := officialRequest("hi")
	req.Format = "ogg"
	_, err = client.Synthesize(context.Background(), req)
	require.ErrorIs(t, err, tts.ErrUnsupportedFormat)

	assert.Equal(t, int32(0), calls.Load())
}

func TestSynthesize_CustomVoiceDelay(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(streamHandler(t, audioFrame([]byte("ok"))))
	defer server.Close()

	const delay = 50 * time.Millisecond

	client := newTestClient(t, server.URL, delay)

	req := officialRequest("hi")
	req.Voice = voice.Custom("vabc123xyz")

	start := time.Now()
	_, err := client.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), delay)
}

func TestSynthesize_OfficialVoiceSkipsDelay(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(streamHandler(t, audioFrame([]byte("ok"))))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Synthesize(ctx, officialRequest("hi"))
	require.NoError(t, err)
}

func TestSynthesize_DelayHonoursCancellation(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "http://127.0.0.1:1", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := officialRequest("hi")
	req.Voice = voice.Custom("vabc123xyz")

	_, err := client.Synthesize(ctx, req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSupportsTuning(t *testing.T) {
	t.Parallel()

	assert.True(t, tts.SupportsTuning("qwen3-tts-flash"))
	assert.False(t, tts.SupportsTuning("cosyvoice-v3-plus"))
	assert.False(t, tts.SupportsTuning("CosyVoice-v2"))
	assert.True(t, strings.Contains(config.DefaultTargetModel, "cosyvoice"))
}

func TestSynthesize_SlowStreamOutlivesRequestTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		flusher, ok := responseWriter.(http.Flusher)
		assert.True(t, ok)

		_, _ = io.WriteString(responseWriter, audioFrame([]byte("first-")))
		flusher.Flush()

		time.Sleep(1500 * time.Millisecond)

		_, _ = io.WriteString(responseWriter, audioFrame([]byte("second")))
	}))
	defer server.Close()

	cfg := &config.Config{
		DashScope: config.DashScopeConfig{BaseURL: server.URL, APIKey: testAPIKey},
		Synthesis: config.SynthesisConfig{TimeoutSeconds: 1},
	}

	client, err := tts.NewClientFromConfig(cfg, newTestLogger(t))
	require.NoError(t, err)

	audioData, err := client.Synthesize(context.Background(), officialRequest("a long page"))
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(audioData))
}
