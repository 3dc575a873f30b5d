// Package telemetry wraps the synthesis and enrollment components in
// OpenTelemetry spans. Without an installed provider the global no-op
// tracer is used and the wrappers only forward calls.
package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/voice"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/book-expert/voice-service"

// Transport settings for StreamingHTTPClient.
const (
	keepAlive       = 30 * time.Second
	idleConnTimeout = 90 * time.Second
	maxIdleConns    = 100
)

// Span attribute keys.
const (
	attrModel      = "voice.model"
	attrVoiceKind  = "voice.kind"
	attrTextLength = "voice.text.length"
	attrAudioBytes = "voice.audio.bytes"
	attrFormat     = "voice.format"
	attrUserID     = "enduser.id"
	attrLanguage   = "voice.language"
	attrVoiceID    = "voice.id"
)

// Synthesizer records a span around every synthesis call.
type Synthesizer struct {
	model  string
	tracer trace.Tracer
	next   core.Synthesizer
}

// NewSynthesizer wraps next using the global tracer provider.
func NewSynthesizer(model string, next core.Synthesizer) *Synthesizer {
	return NewSynthesizerWithProvider(otel.GetTracerProvider(), model, next)
}

// NewSynthesizerWithProvider wraps next using provider.
func NewSynthesizerWithProvider(provider trace.TracerProvider, model string, next core.Synthesizer) *Synthesizer {
	return &Synthesizer{
		model:  model,
		tracer: provider.Tracer(instrumentationName),
		next:   next,
	}
}

// Synthesize implements core.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = s.model
	}

	ctx, span := s.tracer.Start(ctx, "synthesize "+model, trace.WithAttributes(
		attribute.String(attrModel, model),
		attribute.String(attrVoiceKind, req.Voice.Kind().String()),
		attribute.String(attrFormat, string(req.Format)),
		attribute.Int(attrTextLength, len(req.Text)),
	))
	defer span.End()

	audioData, err := s.next.Synthesize(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(attribute.Int(attrAudioBytes, len(audioData)))

	return audioData, nil
}

// Enroller records a span around every enrollment job.
type Enroller struct {
	tracer trace.Tracer
	next   core.Enroller
}

// NewEnroller wraps next using the global tracer provider.
func NewEnroller(next core.Enroller) *Enroller {
	return NewEnrollerWithProvider(otel.GetTracerProvider(), next)
}

// NewEnrollerWithProvider wraps next using provider.
func NewEnrollerWithProvider(provider trace.TracerProvider, next core.Enroller) *Enroller {
	return &Enroller{
		tracer: provider.Tracer(instrumentationName),
		next:   next,
	}
}

// Enroll implements core.Enroller.
func (e *Enroller) Enroll(ctx context.Context, job core.EnrollmentJob) (voice.ID, error) {
	ctx, span := e.tracer.Start(ctx, "enroll voice", trace.WithAttributes(
		attribute.String(attrUserID, job.UserID),
		attribute.String(attrLanguage, job.Language),
	))
	defer span.End()

	id, err := e.next.Enroll(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return voice.ID{}, err
	}

	span.SetAttributes(attribute.String(attrVoiceID, id.String()))

	return id, nil
}

// StreamingHTTPClient returns a traced client for long response bodies. Only
// connection setup and the wait for response headers are bounded; the body is
// read for as long as the request context allows.
func StreamingHTTPClient(connectTimeout, headerTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: keepAlive}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: headerTimeout,
	}

	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// HTTPClient returns a client whose requests are traced.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}
