package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(t.Context())
	})
	return recorder
}

func TestNewHTTPHandler(t *testing.T) {
	recorder := withRecorder(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", WithHTTPRoute(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	handler := NewHTTPHandler(mux, "shop")

	t.Run("matched pattern is recorded as http.route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/7", nil))

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
		}

		spans := recorder.Ended()
		if len(spans) == 0 {
			t.Fatal("expected a server span")
		}
		span := spans[len(spans)-1]

		var route string
		for _, attr := range span.Attributes() {
			if attr.Key == "http.route" {
				route = attr.Value.AsString()
			}
		}
		if route != "GET /orders/{id}" {
			t.Errorf("expected http.route %q, got %q", "GET /orders/{id}", route)
		}
	})

	t.Run("unmatched path falls back to method and path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

		spans := recorder.Ended()
		span := spans[len(spans)-1]
		if span.Name() != "GET /nope" {
			t.Errorf("expected span name %q, got %q", "GET /nope", span.Name())
		}
	})
}
