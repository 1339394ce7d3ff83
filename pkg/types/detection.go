package types

// Detection is one object reported by the detection service for a single frame.
type Detection struct {
	Class      string  `json:"class"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"` // 0..1
}

// Stats is the compliance summary derived from one detection list.
type Stats struct {
	Violations int `json:"violations"`
	Compliant  int `json:"compliant"`
}

// Severity of a notification
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Notification is an alert derived from the latest detection list.
// ID is the deduplication key.
type Notification struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// SystemStatus reflects the availability of the detection service.
type SystemStatus string

const (
	StatusChecking SystemStatus = "checking"
	StatusOnline   SystemStatus = "online"
	StatusWarning  SystemStatus = "warning"
	StatusOffline  SystemStatus = "offline"
)

// Code returns a numeric form for gauges (0=checking, 1=online, 2=warning, 3=offline).
func (s SystemStatus) Code() int {
	switch s {
	case StatusOnline:
		return 1
	case StatusWarning:
		return 2
	case StatusOffline:
		return 3
	default:
		return 0
	}
}
