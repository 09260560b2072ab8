package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/rolepool/pkg/config"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestStartAndEndSpan(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartSpan(context.Background(), "pool.checkout", AttrDatabase.String("sales"))
	EndSpan(span, nil)

	_, failed := StartSpan(context.Background(), "pool.create")
	EndSpan(failed, errors.New("login rejected"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "pool.checkout", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), AttrDatabase.String("sales"))

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "login rejected", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
}

func TestInitDisabledIsNoop(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(config.TracingConfig{Enabled: false}, &buf))
	require.NoError(t, Shutdown(context.Background()))
	assert.Zero(t, buf.Len())
}

func TestInitExportsOnShutdown(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	require.NoError(t, Init(config.TracingConfig{Enabled: true, ServiceName: "test", SampleRate: 1}, &buf))

	_, span := StartSpan(context.Background(), "registry.shutdown")
	EndSpan(span, nil)

	require.NoError(t, Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "registry.shutdown")
}

func TestTracingMiddleware(t *testing.T) {
	recorder := withRecorder(t)

	handler := TracingMiddleware("rolepool")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /metrics", spans[0].Name())
}
