package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"github.com/dj-oyu/ppe-monitor/internal/detector"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

type result struct {
	report detector.HealthReport
	err    error
}

// scriptedChecker answers from a fixed script, repeating the last entry.
type scriptedChecker struct {
	mu     sync.Mutex
	script []result
	calls  atomic.Int32
}

func (s *scriptedChecker) Health(ctx context.Context) (detector.HealthReport, error) {
	n := int(s.calls.Add(1))
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.script[len(s.script)-1]
	if n <= len(s.script) {
		r = s.script[n-1]
	}
	return r.report, r.err
}

var (
	healthy  = result{report: detector.HealthReport{Status: "healthy", ModelLoaded: true}}
	noModel  = result{report: detector.HealthReport{Status: "healthy"}}
	degraded = result{report: detector.HealthReport{Status: "degraded", ModelLoaded: true}}
	failing  = result{report: detector.HealthReport{Status: "healthy", ModelLoaded: true, StatusCode: 500}}
	down     = result{err: &detector.HealthError{Err: errors.New("connection refused")}}
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   result
		want types.SystemStatus
	}{
		{"healthy with model", healthy, types.StatusOnline},
		{"model not loaded", noModel, types.StatusWarning},
		{"degraded", degraded, types.StatusWarning},
		{"error status with body", failing, types.StatusWarning},
		{"unreachable", down, types.StatusOffline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.in.report, tc.in.err); got != tc.want {
				t.Errorf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestInitialStatusIsChecking(t *testing.T) {
	m := NewMonitor(&scriptedChecker{script: []result{healthy}})
	if m.Status() != types.StatusChecking {
		t.Fatalf("Status = %s, want checking", m.Status())
	}
	if !m.LastCheck().IsZero() {
		t.Fatal("LastCheck should be zero before the first check")
	}
}

func TestStartChecksImmediatelyThenOnInterval(t *testing.T) {
	mock := clock.NewMock()
	checker := &scriptedChecker{script: []result{healthy, down, noModel}}
	mt := metrics.New()
	m := NewMonitor(checker, WithClock(mock), WithInterval(5*time.Second), WithMetrics(mt))

	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, "first check", func() bool { return m.Status() == types.StatusOnline })
	if checker.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", checker.calls.Load())
	}

	mock.Add(5 * time.Second)
	waitFor(t, "second check", func() bool { return m.Status() == types.StatusOffline })
	if m.LastError() == nil {
		t.Fatal("LastError should be set after a failed check")
	}

	mock.Add(5 * time.Second)
	waitFor(t, "third check", func() bool { return m.Status() == types.StatusWarning })

	if mt.HealthChecks.Load() != 3 || mt.HealthFailures.Load() != 1 {
		t.Fatalf("checks=%d failures=%d", mt.HealthChecks.Load(), mt.HealthFailures.Load())
	}
	if mt.SystemStatus.Load() != uint64(types.StatusWarning.Code()) {
		t.Fatalf("SystemStatus gauge = %d", mt.SystemStatus.Load())
	}
}

func TestStopEndsPolling(t *testing.T) {
	mock := clock.NewMock()
	checker := &scriptedChecker{script: []result{healthy}}
	m := NewMonitor(checker, WithClock(mock), WithInterval(time.Second))

	m.Start(context.Background())
	m.Start(context.Background())
	waitFor(t, "first check", func() bool { return checker.calls.Load() == 1 })
	m.Stop()
	m.Stop()

	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if n := checker.calls.Load(); n != 1 {
		t.Fatalf("calls after Stop = %d, want 1", n)
	}
}

func TestContextCancelEndsPolling(t *testing.T) {
	mock := clock.NewMock()
	checker := &scriptedChecker{script: []result{healthy}}
	m := NewMonitor(checker, WithClock(mock), WithInterval(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	waitFor(t, "first check", func() bool { return checker.calls.Load() == 1 })
	cancel()
	m.Stop()

	mock.Add(10 * time.Second)
	if n := checker.calls.Load(); n != 1 {
		t.Fatalf("calls after cancel = %d, want 1", n)
	}
}

func TestOnChangeFiresOnTransitions(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []types.SystemStatus
	)
	checker := &scriptedChecker{script: []result{healthy, healthy, down, down, healthy}}
	m := NewMonitor(checker, WithOnChange(func(s types.SystemStatus) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}))

	for i := 0; i < 5; i++ {
		m.CheckNow(context.Background())
	}

	want := []types.SystemStatus{types.StatusOnline, types.StatusOffline, types.StatusOnline}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
}

type hangingChecker struct{}

func (hangingChecker) Health(ctx context.Context) (detector.HealthReport, error) {
	<-ctx.Done()
	return detector.HealthReport{}, &detector.HealthError{Err: ctx.Err()}
}

func TestCheckBoundedByInterval(t *testing.T) {
	m := NewMonitor(hangingChecker{}, WithInterval(20*time.Millisecond))

	start := time.Now()
	if got := m.CheckNow(context.Background()); got != types.StatusOffline {
		t.Fatalf("CheckNow = %s, want offline", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("check took %v, should be bounded by the interval", elapsed)
	}
	if !errors.Is(m.LastError(), context.DeadlineExceeded) {
		t.Fatalf("LastError = %v, want deadline exceeded", m.LastError())
	}
}
