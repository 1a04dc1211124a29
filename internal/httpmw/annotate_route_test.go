package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func startRecordingSpan(t *testing.T) (context.Context, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	ctx, _ := tp.Tracer("test").Start(context.Background(), "initial")
	return ctx, sr
}

func TestAnnotateHTTPRoute_RenamesSpanFromChiPattern(t *testing.T) {
	ctx, sr := startRecordingSpan(t)

	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute)
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/42", http.NoBody).WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	trace.SpanFromContext(ctx).End()
	spans := sr.Ended()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}

	var gotRoute string
	for _, s := range spans {
		for _, attr := range s.Attributes() {
			if string(attr.Key) == "http.route" {
				gotRoute = attr.Value.AsString()
			}
		}
	}
	if gotRoute != "/users/{id}" {
		t.Fatalf("http.route = %q, want /users/{id}", gotRoute)
	}
}

func TestAnnotateHTTPRoute_NoRouteContext(t *testing.T) {
	ctx, _ := startRecordingSpan(t)

	called := false
	h := AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/some/path", http.NoBody).WithContext(ctx))

	if !called {
		t.Fatal("handler not called")
	}
}

func TestAnnotateHTTPRoute_NoSpanInContext(t *testing.T) {
	called := false
	h := AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	if !called {
		t.Fatal("handler not called without a span")
	}
}
