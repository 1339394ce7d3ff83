package webmonitor

import (
	"math"
	"time"

	"github.com/dj-oyu/ppe-monitor/internal/health"
	"github.com/dj-oyu/ppe-monitor/internal/overlay"
	"github.com/dj-oyu/ppe-monitor/internal/session"
	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

// Monitor assembles status payloads from the session and the health monitor.
// The health monitor is optional; without it the system status stays "checking".
type Monitor struct {
	session *session.Controller
	health  *health.Monitor
}

// NewMonitor creates a Monitor over a session and an optional health monitor.
func NewMonitor(sess *session.Controller, hm *health.Monitor) *Monitor {
	return &Monitor{session: sess, health: hm}
}

// Status returns the current status payload.
func (m *Monitor) Status() StatusPayload {
	return m.build(m.session.Snapshot())
}

// Health returns the current health payload.
func (m *Monitor) Health() HealthPayload {
	if m.health == nil {
		return HealthPayload{Status: types.StatusChecking}
	}
	payload := HealthPayload{Status: m.health.Status()}
	if last := m.health.LastCheck(); !last.IsZero() {
		payload.LastCheck = unixSeconds(last)
	}
	if err := m.health.LastError(); err != nil {
		payload.Error = err.Error()
	}
	return payload
}

func (m *Monitor) systemStatus() types.SystemStatus {
	if m.health == nil {
		return types.StatusChecking
	}
	return m.health.Status()
}

func (m *Monitor) build(snap session.Snapshot) StatusPayload {
	views := make([]DetectionView, len(snap.Detections))
	for i, det := range snap.Detections {
		views[i] = DetectionView{
			Class:      det.Class,
			Color:      overlay.ColorHex(det.Class),
			Confidence: int(math.Round(det.Confidence * 100)),
			X:          det.X,
			Y:          det.Y,
			W:          det.W,
			H:          det.H,
		}
	}

	notifications := snap.Notifications
	if notifications == nil {
		notifications = []types.Notification{}
	}

	payload := StatusPayload{
		SystemStatus:  m.systemStatus(),
		SessionID:     snap.SessionID,
		State:         snap.State.String(),
		SourceKind:    snap.SourceKind.String(),
		Playback:      snap.State.Playback(),
		Processing:    snap.RequestInFlight,
		File:          snap.File.Name,
		Stats:         snap.Stats,
		Notifications: notifications,
		Detections:    views,
		TotalDetected: len(snap.Detections),
		Cycles:        snap.Cycles,
		Timestamp:     unixSeconds(time.Now()),
	}
	if snap.LastError != nil {
		payload.LastError = snap.LastError.Error()
	}
	return payload
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
