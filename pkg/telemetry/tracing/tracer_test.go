package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/admission/pkg/config"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := NewWithProvider(tp)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer, sr
}

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(context.Background(), config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if tracer.Enabled() {
		t.Error("expected tracer to be disabled")
	}

	ctx, span := tracer.Start(context.Background(), "op")
	span.End()
	if span.IsRecording() {
		t.Error("expected noop span")
	}
	if TraceID(ctx) != "" {
		t.Errorf("expected no trace ID, got %q", TraceID(ctx))
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}

func TestNew_InvalidSampleRatio(t *testing.T) {
	_, err := New(context.Background(), config.TracingConfig{
		Enabled:     true,
		Endpoint:    "localhost:4317",
		SampleRatio: 1.5,
		ServiceName: "admission",
	}, "test")
	if err == nil {
		t.Fatal("expected error for sample ratio above 1")
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		ratio   float64
		wantErr bool
	}{
		{0, false},
		{0.25, false},
		{1, false},
		{-0.1, true},
		{1.1, true},
	}
	for _, tt := range tests {
		s, err := createSampler(tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("createSampler(%v) error = %v, wantErr %v", tt.ratio, err, tt.wantErr)
		}
		if !tt.wantErr && s == nil {
			t.Errorf("createSampler(%v) returned nil sampler", tt.ratio)
		}
	}
}

func TestTracer_StartAndAttributes(t *testing.T) {
	tracer, sr := newRecordingTracer(t)

	ctx, span := tracer.Start(context.Background(), "evaluate")
	SetCallerAttributes(span, "req-1", "user-1", "basic", "search")
	SetDecisionAttributes(span, false, "global_rate_limit")
	SetTokenAttributes(span, 150)
	SetError(span, errors.New("denied"))
	span.End()

	if TraceID(ctx) == "" {
		t.Error("expected a trace ID on a recording span")
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	if got[AttrTier].AsString() != "basic" {
		t.Errorf("expected tier basic, got %v", got[AttrTier])
	}
	if got[AttrAllowed].AsBool() {
		t.Error("expected allowed=false")
	}
	if got[AttrReason].AsString() != "global_rate_limit" {
		t.Errorf("expected reason global_rate_limit, got %v", got[AttrReason])
	}
	if got[AttrTokens].AsInt64() != 150 {
		t.Errorf("expected tokens 150, got %v", got[AttrTokens])
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status().Code)
	}
}

func TestMiddleware_ContinuesPropagatedTrace(t *testing.T) {
	tracer, sr := newRecordingTracer(t)

	var inner trace.SpanContext
	handler := tracer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = trace.SpanFromContext(r.Context()).SpanContext()
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/check", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if inner.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected propagated trace ID, got %s", inner.TraceID())
	}
	if rec.Header().Get("X-Trace-ID") != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected X-Trace-ID header, got %q", rec.Header().Get("X-Trace-ID"))
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "POST /v1/check" {
		t.Errorf("expected span name 'POST /v1/check', got %q", spans[0].Name())
	}
	if spans[0].Parent().SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("expected parent span 00f067aa0ba902b7, got %s", spans[0].Parent().SpanID())
	}
}

func TestTransport_InjectsTraceparent(t *testing.T) {
	tracer, _ := newRecordingTracer(t)

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
	}))
	defer srv.Close()

	ctx, span := tracer.Start(context.Background(), "client")
	defer span.End()

	client := &http.Client{Transport: Transport(nil)}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if traceparent == "" {
		t.Fatal("expected traceparent header on outgoing request")
	}
	if req.Header.Get("traceparent") != "" {
		t.Error("expected caller's request to be left unmodified")
	}
}
