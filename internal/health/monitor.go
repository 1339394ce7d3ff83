// Package health polls the detection service and keeps the system status.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/ppe-monitor/internal/detector"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

// DefaultInterval between health checks.
const DefaultInterval = 10 * time.Second

// Checker queries service health.
type Checker interface {
	Health(ctx context.Context) (detector.HealthReport, error)
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) { m.clock = clk }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithOnChange registers a callback invoked whenever the status changes.
func WithOnChange(fn func(types.SystemStatus)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

// Monitor is the only writer of the system status.
type Monitor struct {
	checker  Checker
	interval time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	onChange func(types.SystemStatus)
	log      logger.Module

	mu        sync.Mutex
	status    types.SystemStatus
	lastErr   error
	lastCheck time.Time
	stop      chan struct{}
	done      chan struct{}
}

func NewMonitor(checker Checker, opts ...Option) *Monitor {
	m := &Monitor{
		checker:  checker,
		interval: DefaultInterval,
		clock:    clock.New(),
		log:      logger.Named("Health"),
		status:   types.StatusChecking,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	m.metrics.SystemStatus.Store(uint64(m.status.Code()))
	return m
}

// Classify maps a health result to a system status.
func Classify(report detector.HealthReport, err error) types.SystemStatus {
	switch {
	case err != nil:
		return types.StatusOffline
	case report.Healthy():
		return types.StatusOnline
	default:
		return types.StatusWarning
	}
}

// Start checks immediately and then once per interval until Stop is called
// or ctx is done. Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	ticker := m.clock.Ticker(m.interval)
	go m.run(ctx, ticker, m.stop, m.done)

	m.log.Info("Polling every %v", m.interval)
}

// Stop ends polling and waits for an ongoing check to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Monitor) run(ctx context.Context, ticker *clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	m.CheckNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow performs one check, bounded by the polling interval, and returns
// the resulting status.
func (m *Monitor) CheckNow(ctx context.Context) types.SystemStatus {
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	report, err := m.checker.Health(ctx)
	status := Classify(report, err)

	m.metrics.HealthChecks.Add(1)
	if err != nil {
		m.metrics.HealthFailures.Add(1)
	}
	m.metrics.SystemStatus.Store(uint64(status.Code()))

	m.mu.Lock()
	prev := m.status
	m.status, m.lastErr, m.lastCheck = status, err, m.clock.Now()
	m.mu.Unlock()

	if status != prev {
		if err != nil {
			m.log.Warn("Detection service %s: %v", status, err)
		} else {
			m.log.Info("Detection service %s (status=%q model_loaded=%v)", status, report.Status, report.ModelLoaded)
		}
		if m.onChange != nil {
			m.onChange(status)
		}
	}
	return status
}

// Status returns the latest system status.
func (m *Monitor) Status() types.SystemStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError returns the error of the latest check, if any.
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// LastCheck returns when the latest check completed; zero before the first one.
func (m *Monitor) LastCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck
}
