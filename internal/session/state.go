package session

import (
	"errors"
	"image"

	"github.com/dj-oyu/ppe-monitor/internal/frame"
	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")
	// ErrUnsupportedMedia is returned for files that are neither images nor videos.
	ErrUnsupportedMedia = errors.New("session: unsupported media type")
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("session: closed")
)

// State of a session.
type State int

const (
	Idle State = iota
	ImageLoaded
	VideoLoaded
	VideoPlaying
	VideoPaused
)

func (s State) String() string {
	switch s {
	case ImageLoaded:
		return "image_loaded"
	case VideoLoaded:
		return "video_loaded"
	case VideoPlaying:
		return "video_playing"
	case VideoPaused:
		return "video_paused"
	default:
		return "idle"
	}
}

// Playback reports "playing" for VideoPlaying and "stopped" otherwise.
func (s State) Playback() string {
	if s == VideoPlaying {
		return "playing"
	}
	return "stopped"
}

// File is a user-selected input.
type File struct {
	Name      string
	MediaType string // declared type, e.g. "video/mp4"
	Path      string
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	SessionID       string
	State           State
	File            File
	SourceKind      frame.Kind
	RequestInFlight bool
	Detections      []types.Detection
	Stats           types.Stats
	Notifications   []types.Notification
	Cycles          uint64 // applied cycles since the file was selected
	LastError       error  // error of the latest cycle, nil after a success
}

// Cause tells subscribers what produced an Update.
type Cause int

const (
	CauseSelected Cause = iota
	CauseStateChanged
	CauseResult
	CauseEnded
)

func (c Cause) String() string {
	switch c {
	case CauseSelected:
		return "selected"
	case CauseStateChanged:
		return "state"
	case CauseResult:
		return "result"
	case CauseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Update is delivered to subscribers after every change.
type Update struct {
	Cause    Cause
	Snapshot Snapshot
	// Frame is a private copy of the overlay surface, nil when no source is loaded.
	Frame *image.RGBA
}
