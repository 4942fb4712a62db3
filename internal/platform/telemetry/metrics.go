package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sunflower/clinic/internal/platform/apperr"
)

// Metrics groups the service's collectors.
type Metrics struct {
	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	recordWrites       *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_transitions_total",
			Help: "Workflow transitions by action and outcome.",
		}, []string{"action", "outcome"}),
		transitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_transition_duration_seconds",
			Help:    "Time spent applying a workflow transition.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"action"}),
		recordWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_station_record_writes_total",
			Help: "Station record writes by kind and outcome.",
		}, []string{"kind", "outcome"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinic_queue_depth",
			Help: "Encounters in a station queue at the last read.",
		}, []string{"station"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Outcome labels an operation result: "ok", the error kind, or "error".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

func (m *Metrics) ObserveTransition(action string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, Outcome(err)).Inc()
	m.transitionDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) ObserveRecordWrite(kind string, err error) {
	if m == nil {
		return
	}
	m.recordWrites.WithLabelValues(kind, Outcome(err)).Inc()
}

func (m *Metrics) SetQueueDepth(station string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(station).Set(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
