package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"image"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/ppe-monitor/internal/frame"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-monitor/internal/overlay"
	"github.com/dj-oyu/ppe-monitor/internal/session"
)

const placeholderText = "Upload an image or video to start detection"

// FrameBroadcaster encodes overlay frames published by the session and fans
// them out to MJPEG clients.
type FrameBroadcaster struct {
	mu          sync.Mutex
	clients     map[int]chan []byte
	nextID      int
	session     *session.Controller
	metrics     *metrics.Metrics
	quality     int
	placeholder []byte
	latest      *image.RGBA // nil while no source is loaded
	latestJPEG  []byte      // encoded lazily, only when someone is watching
	stop        chan struct{}
	stopped     bool
	skipCount   int // Count of frames skipped when no clients
}

// NewFrameBroadcaster creates a broadcaster for the overlay surface of sess.
func NewFrameBroadcaster(sess *session.Controller, quality int, m *metrics.Metrics) *FrameBroadcaster {
	placeholder, err := frame.Encode(overlay.Placeholder(640, 480, placeholderText), quality)
	if err != nil {
		logger.Error("FrameBroadcaster", "Failed to render placeholder: %v", err)
	}
	return &FrameBroadcaster{
		clients:     make(map[int]chan []byte),
		session:     sess,
		metrics:     m,
		quality:     quality,
		placeholder: placeholder,
		latest:      sess.Frame(),
		stop:        make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The current frame is queued right away.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch
	if data := fb.currentJPEGLocked(); data != nil {
		ch <- data
	}
	fb.metrics.StreamClients.Add(1)

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		fb.metrics.StreamClients.Add(-1)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - frame encoding will be skipped")
		}
	}
}

// Start begins forwarding session frames.
func (fb *FrameBroadcaster) Start() {
	id, updates := fb.session.Subscribe()
	go fb.run(id, updates)
}

// Stop halts the broadcaster.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if !fb.stopped {
		close(fb.stop)
		fb.stopped = true
	}
	fb.mu.Unlock()
}

func (fb *FrameBroadcaster) run(subID int, updates <-chan session.Update) {
	defer fb.session.Unsubscribe(subID)

	for {
		select {
		case <-fb.stop:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			fb.handle(u)
		}
	}
}

func (fb *FrameBroadcaster) handle(u session.Update) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.latest, fb.latestJPEG = u.Frame, nil

	if len(fb.clients) == 0 {
		fb.skipCount++
		if fb.skipCount%50 == 0 {
			logger.Debug("FrameBroadcaster", "No clients connected, skipped %d frames", fb.skipCount)
		}
		return
	}
	fb.skipCount = 0

	if data := fb.currentJPEGLocked(); data != nil {
		fb.broadcastLocked(data)
	}
}

func (fb *FrameBroadcaster) currentJPEGLocked() []byte {
	if fb.latest == nil {
		return fb.placeholder
	}
	if fb.latestJPEG == nil {
		data, err := frame.Encode(fb.latest, fb.quality)
		if err != nil {
			logger.Error("FrameBroadcaster", "JPEG encode error: %v", err)
			return nil
		}
		fb.latestJPEG = data
	}
	return fb.latestJPEG
}

func (fb *FrameBroadcaster) broadcastLocked(data []byte) {
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// StatusBroadcaster manages fanout of status events to multiple SSE clients.
// An event is sent after every session update, on health changes and
// periodically as a heartbeat.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent
	nextID   int
	monitor  *Monitor
	session  *session.Controller
	metrics  *metrics.Metrics
	interval time.Duration
	kick     chan struct{}
	stop     chan struct{}
	stopped  bool
}

// NewStatusBroadcaster creates a broadcaster for status events.
func NewStatusBroadcaster(monitor *Monitor, sess *session.Controller, interval time.Duration, m *metrics.Metrics) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		monitor:  monitor,
		session:  sess,
		metrics:  m,
		interval: interval,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client. The current status is queued right away.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	event, err := serializeStatus(sb.monitor.Status())

	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 4)
	sb.clients[id] = ch
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize error: %v", err)
	} else {
		ch <- event
	}
	sb.metrics.StatusClients.Add(1)

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		sb.metrics.StatusClients.Add(-1)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Notify requests an out-of-band status event, e.g. after a health change.
func (sb *StatusBroadcaster) Notify() {
	select {
	case sb.kick <- struct{}{}:
	default:
	}
}

// Start begins the broadcast loop.
func (sb *StatusBroadcaster) Start() {
	id, updates := sb.session.Subscribe()
	go sb.run(id, updates)
}

// Stop halts the broadcaster.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	if !sb.stopped {
		close(sb.stop)
		sb.stopped = true
	}
	sb.mu.Unlock()
}

func (sb *StatusBroadcaster) run(subID int, updates <-chan session.Update) {
	defer sb.session.Unsubscribe(subID)

	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			sb.publish(sb.monitor.build(u.Snapshot))
		case <-sb.kick:
			sb.publish(sb.monitor.Status())
		case <-ticker.C:
			sb.publish(sb.monitor.Status())
		}
	}
}

func (sb *StatusBroadcaster) publish(payload StatusPayload) {
	sb.mu.Lock()
	clientCount := len(sb.clients)
	sb.mu.Unlock()
	if clientCount == 0 {
		return
	}

	event, err := serializeStatus(payload)
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize error: %v", err)
		return
	}
	sb.broadcast(event)
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}

// serializeStatus encodes a payload as JSON and as a base64 protobuf Struct
// with the same field names.
func serializeStatus(payload StatusPayload) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, err
	}
	pbStatus, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(pbStatus)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
