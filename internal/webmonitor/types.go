package webmonitor

import "github.com/dj-oyu/ppe-monitor/pkg/types"

// DetectionView is one row of the detection list shown next to the stream.
type DetectionView struct {
	Class      string  `json:"class"`
	Color      string  `json:"color"`
	Confidence int     `json:"confidence"` // percent
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
}

// StatusPayload is the body of /api/status and of each status stream event.
type StatusPayload struct {
	SystemStatus  types.SystemStatus   `json:"system_status"`
	SessionID     string               `json:"session_id"`
	State         string               `json:"state"`
	SourceKind    string               `json:"source_kind"`
	Playback      string               `json:"playback"`
	Processing    bool                 `json:"processing"`
	File          string               `json:"file"`
	Stats         types.Stats          `json:"stats"`
	Notifications []types.Notification `json:"notifications"`
	Detections    []DetectionView      `json:"detections"`
	TotalDetected int                  `json:"total_detected"`
	Cycles        uint64               `json:"cycles"`
	LastError     string               `json:"last_error,omitempty"`
	Timestamp     float64              `json:"timestamp"`
}

// HealthPayload is the body of /api/health.
type HealthPayload struct {
	Status    types.SystemStatus `json:"status"`
	LastCheck float64            `json:"last_check,omitempty"`
	Error     string             `json:"error,omitempty"`
}
