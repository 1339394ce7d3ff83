package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Detection cycle counters
	CyclesStarted   atomic.Uint64
	CyclesApplied   atomic.Uint64
	CyclesFailed    atomic.Uint64
	CyclesDiscarded atomic.Uint64 // results dropped after a new file was selected

	// Error counters
	TransportErrors atomic.Uint64
	DecodeErrors    atomic.Uint64

	// Latest cycle
	DetectLatencyMs atomic.Uint64
	InFlight        atomic.Uint64 // 0 or 1
	LastDetections  atomic.Uint64
	LastViolations  atomic.Uint64
	LastCompliant   atomic.Uint64

	// Health polling
	HealthChecks   atomic.Uint64
	HealthFailures atomic.Uint64
	SystemStatus   atomic.Uint64 // see types.SystemStatus.Code

	// Presentation clients
	StreamClients atomic.Int64
	StatusClients atomic.Int64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

type gauge struct {
	name string
	help string
	fn   func() float64
}

func (m *Metrics) registerPrometheusMetrics() {
	u := func(v *atomic.Uint64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}
	i := func(v *atomic.Int64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}

	gauges := []gauge{
		{"ppe_cycles_started_total", "Detection cycles started", u(&m.CyclesStarted)},
		{"ppe_cycles_applied_total", "Detection cycles whose result was applied", u(&m.CyclesApplied)},
		{"ppe_cycles_failed_total", "Detection cycles degraded to no detections", u(&m.CyclesFailed)},
		{"ppe_cycles_discarded_total", "Detection results dropped after the source changed", u(&m.CyclesDiscarded)},
		{"ppe_detect_transport_errors_total", "Detect calls failed in transport", u(&m.TransportErrors)},
		{"ppe_detect_decode_errors_total", "Detect calls with a malformed response", u(&m.DecodeErrors)},
		{"ppe_detect_latency_ms", "Latency of the last detect call in milliseconds", u(&m.DetectLatencyMs)},
		{"ppe_detect_in_flight", "Detect requests in flight (0 or 1)", u(&m.InFlight)},
		{"ppe_last_detections", "Detections in the latest applied result", u(&m.LastDetections)},
		{"ppe_last_violations", "Violations in the latest applied result", u(&m.LastViolations)},
		{"ppe_last_compliant", "Compliant detections in the latest applied result", u(&m.LastCompliant)},
		{"ppe_health_checks_total", "Health checks performed", u(&m.HealthChecks)},
		{"ppe_health_failures_total", "Health checks that failed", u(&m.HealthFailures)},
		{"ppe_system_status", "System status (0=checking, 1=online, 2=warning, 3=offline)", u(&m.SystemStatus)},
		{"ppe_stream_clients", "Connected MJPEG clients", i(&m.StreamClients)},
		{"ppe_status_clients", "Connected status stream clients", i(&m.StatusClients)},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.fn,
		))
	}
}

// UpdateDetectLatency records the duration of the last detect call
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateSummary records the size and compliance counts of the latest applied result
func (m *Metrics) UpdateSummary(detections, violations, compliant int) {
	m.LastDetections.Store(uint64(detections))
	m.LastViolations.Store(uint64(violations))
	m.LastCompliant.Store(uint64(compliant))
}

// SetInFlight flags whether a detect request is outstanding
func (m *Metrics) SetInFlight(inFlight bool) {
	if inFlight {
		m.InFlight.Store(1)
		return
	}
	m.InFlight.Store(0)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
