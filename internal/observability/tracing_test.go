package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/detailhub/zoneconfigurator/internal/config"
)

// setupTestTracer installs an always-sampling provider that records spans
// in memory for the duration of the test.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func spanAttrMap(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string)
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

// configuratorRouter mounts a few session routes the way the API does.
func configuratorRouter(status int) http.Handler {
	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	h := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }
	r.Route("/ui/configurator/sessions/{id}", func(r chi.Router) {
		r.Get("/", h)
		r.Post("/hotspots/{zoneId}/open", h)
		r.Delete("/zones/{zoneId}", h)
		r.Put("/vehicle", h)
	})
	return r
}

func TestInitTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{"disabled", config.TracingConfig{}, false},
		{"stdout", config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, false},
		{"unsupported exporter", config.TracingConfig{Enabled: true, Exporter: "zipkin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitTracing(context.Background(), tt.cfg, "zoneconfigurator", "test")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracing() error = %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown() error = %v", err)
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	var low, high trace.TraceID
	for i := range high {
		high[i] = 0xff
	}
	low[0] = 1

	tests := []struct {
		name     string
		rate     float64
		lowWant  sdktrace.SamplingDecision
		highWant sdktrace.SamplingDecision
	}{
		{"default ratio", 0, sdktrace.RecordAndSample, sdktrace.Drop},
		{"half", 0.5, sdktrace.RecordAndSample, sdktrace.Drop},
		{"always", 1, sdktrace.RecordAndSample, sdktrace.RecordAndSample},
		{"clamped above one", 3, sdktrace.RecordAndSample, sdktrace.RecordAndSample},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSampler(config.TracingConfig{SamplingRate: tt.rate})
			for _, c := range []struct {
				id   trace.TraceID
				want sdktrace.SamplingDecision
			}{{low, tt.lowWant}, {high, tt.highWant}} {
				got := s.ShouldSample(sdktrace.SamplingParameters{
					ParentContext: context.Background(),
					TraceID:       c.id,
					Name:          "GET /ui/configurator/sessions/{id}",
				}).Decision
				if got != c.want {
					t.Errorf("trace %s: decision = %v, want %v", c.id, got, c.want)
				}
			}
		})
	}
}

func TestStartSpan_configuratorAttributes(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, parent := StartSpan(context.Background(), "selection.switch_vehicle",
		AttrSessionID.String("sess-1"),
		AttrCategory.String("truck"),
		AttrView.String("side"),
	)
	_, child := StartSpan(ctx, "asset.resolve", AttrAssetID.String("hilux"), AttrCacheHit.Bool(true))
	EndSpanWithError(child, nil)
	EndSpanWithError(parent, errors.New("version conflict"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	resolve, sw := spans[0], spans[1]
	if resolve.Parent.SpanID() != sw.SpanContext.SpanID() {
		t.Error("asset.resolve should be a child of selection.switch_vehicle")
	}
	if resolve.Status.Code == codes.Error {
		t.Error("successful span marked as error")
	}
	if got := spanAttrMap(resolve); got["configurator.asset_id"] != "hilux" || got["configurator.cache_hit"] != "true" {
		t.Errorf("asset.resolve attributes = %v", got)
	}

	attrs := spanAttrMap(sw)
	for key, want := range map[string]string{
		"configurator.session_id": "sess-1",
		"configurator.category":   "truck",
		"configurator.view":       "side",
	} {
		if attrs[key] != want {
			t.Errorf("%s = %q, want %q", key, attrs[key], want)
		}
	}
	if sw.Status.Code != codes.Error || sw.Status.Description != "version conflict" {
		t.Errorf("status = %+v, want error %q", sw.Status, "version conflict")
	}
	if len(sw.Events) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
}

func TestTraceAndSpanIDFromContext(t *testing.T) {
	if TraceIDFromContext(context.Background()) != "" || SpanIDFromContext(context.Background()) != "" {
		t.Error("ids should be empty without a span")
	}

	setupTestTracer(t)
	ctx, span := StartSpan(context.Background(), "selection.create")
	defer span.End()
	sc := span.SpanContext()
	if got := TraceIDFromContext(ctx); got != sc.TraceID().String() {
		t.Errorf("TraceIDFromContext() = %q, want %q", got, sc.TraceID())
	}
	if got := SpanIDFromContext(ctx); got != sc.SpanID().String() {
		t.Errorf("SpanIDFromContext() = %q, want %q", got, sc.SpanID())
	}
}

func TestTracingMiddleware_routeNamedSpans(t *testing.T) {
	tests := []struct {
		method    string
		path      string
		status    int
		wantName  string
		wantZone  string
		wantError bool
	}{
		{http.MethodPost, "/ui/configurator/sessions/sess-1/hotspots/hood/open", 200,
			"POST /ui/configurator/sessions/{id}/hotspots/{zoneId}/open", "hood", false},
		{http.MethodDelete, "/ui/configurator/sessions/sess-1/zones/roof", 404,
			"DELETE /ui/configurator/sessions/{id}/zones/{zoneId}", "roof", false},
		{http.MethodPut, "/ui/configurator/sessions/sess-1/vehicle", 503,
			"PUT /ui/configurator/sessions/{id}/vehicle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			exporter := setupTestTracer(t)
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			configuratorRouter(tt.status).ServeHTTP(w, req)

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			s := spans[0]
			if s.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", s.Name, tt.wantName)
			}
			if s.SpanKind != trace.SpanKindServer {
				t.Errorf("span kind = %v, want server", s.SpanKind)
			}
			attrs := spanAttrMap(s)
			if attrs["configurator.session_id"] != "sess-1" {
				t.Errorf("session_id = %q, want sess-1", attrs["configurator.session_id"])
			}
			if attrs["configurator.zone_id"] != tt.wantZone {
				t.Errorf("zone_id = %q, want %q", attrs["configurator.zone_id"], tt.wantZone)
			}
			if got := attrs["http.response.status_code"]; got != strconv.Itoa(tt.status) {
				t.Errorf("status code attribute = %q, want %d", got, tt.status)
			}
			if (s.Status.Code == codes.Error) != tt.wantError {
				t.Errorf("status = %v, wantError %v", s.Status.Code, tt.wantError)
			}
		})
	}
}

func TestTracingMiddleware_continuesInboundTrace(t *testing.T) {
	exporter := setupTestTracer(t)

	req := httptest.NewRequest(http.MethodGet, "/ui/configurator/sessions/sess-1/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	configuratorRouter(http.StatusOK).ServeHTTP(w, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s, want inbound trace", got)
	}
	if spans[0].Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("parent span = %s, want inbound span", spans[0].Parent.SpanID())
	}
	if w.Header().Get("traceparent") == "" {
		t.Error("response should carry traceparent")
	}
}

func TestInjectTraceHeaders(t *testing.T) {
	setupTestTracer(t)
	ctx, span := StartSpan(context.Background(), "asset.fetch")
	defer span.End()

	headers := http.Header{}
	InjectTraceHeaders(ctx, headers)
	tp := headers.Get("traceparent")
	if tp == "" {
		t.Fatal("traceparent not injected into model download request")
	}
	if want := span.SpanContext().TraceID().String(); len(tp) < 35 || tp[3:35] != want {
		t.Errorf("traceparent = %q, want trace %s", tp, want)
	}
}
