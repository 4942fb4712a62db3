package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sunflower/clinic/internal/platform/apperr"
)

func TestTelemetryConfig_Defaults(t *testing.T) {
	p, err := NewTelemetryProvider(TelemetryConfig{})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	assert.Equal(t, "clinic-server", p.cfg.ServiceName)
	assert.Equal(t, "0.0.0", p.cfg.ServiceVersion)
	assert.Equal(t, "development", p.cfg.Environment)
	assert.Equal(t, 1.0, p.cfg.SampleRate)
	assert.True(t, p.cfg.metricsOn())
	assert.False(t, p.cfg.tracingOn())
	assert.NotNil(t, p.Metrics())
}

func TestNewTelemetryProvider_TracingNeedsEndpoint(t *testing.T) {
	_, err := NewTelemetryProvider(TelemetryConfig{TracingEnabled: BoolPtr(true)})
	assert.Error(t, err)
}

func TestShutdown_Idempotent(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p, err := NewTelemetryProvider(TelemetryConfig{TracingEnabled: BoolPtr(true)}, WithSpanExporter(exp))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(ctx))
	assert.NoError(t, p.Shutdown(ctx))
}

func TestTracingMiddleware_RecordsServerSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p, err := NewTelemetryProvider(TelemetryConfig{TracingEnabled: BoolPtr(true)}, WithSpanExporter(exp))
	require.NoError(t, err)

	e := echo.New()
	e.Use(p.TracingMiddleware())
	e.GET("/api/v1/encounters/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	for _, path := range []string{"/api/v1/encounters/abc", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	// The in-memory exporter forgets its spans on Shutdown, so flush and read first.
	require.NoError(t, p.tp.ForceFlush(context.Background()))
	spans := exp.GetSpans()
	require.NoError(t, p.Shutdown(context.Background()))

	require.Len(t, spans, 2)
	assert.Equal(t, "HTTP GET /api/v1/encounters/:id", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestTracingMiddleware_PassthroughWhenDisabled(t *testing.T) {
	p, err := NewTelemetryProvider(TelemetryConfig{})
	require.NoError(t, err)

	e := echo.New()
	e.Use(p.TracingMiddleware())
	e.GET("/test", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsMiddleware_And_Handler(t *testing.T) {
	p, err := NewTelemetryProvider(TelemetryConfig{})
	require.NoError(t, err)

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/v1/queues/:station", func(c echo.Context) error { return c.String(http.StatusOK, "[]") })
	e.GET("/missing", func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound) })
	e.GET("/metrics", p.PrometheusHandler())

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/queues/doctor", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	m := p.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/queues/:station", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/missing", "404")))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}

func TestMetrics_DomainCollectors(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveTransition("check_in", nil, 3*time.Millisecond)
	m.ObserveTransition("check_in", apperr.Conflict("stale"), time.Millisecond)
	m.ObserveRecordWrite("screening", apperr.Validation("bad vitals"))
	m.SetQueueDepth("doctor", 4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("check_in", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("check_in", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordWrites.WithLabelValues("screening", "validation")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("doctor")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("cancel", nil, time.Second)
	m.ObserveRecordWrite("lab", nil)
	m.SetQueueDepth("lab", 1)
	m.ObserveHTTP("GET", "/", 200, time.Second)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "forbidden", Outcome(apperr.Forbidden("no")))
	assert.Equal(t, "error", Outcome(errors.New("io")))
}
