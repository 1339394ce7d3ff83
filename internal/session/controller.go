// Package session drives the detection pipeline for one selected file: it owns
// the frame source, runs capture/detect/render cycles one at a time and keeps
// the latest detections and compliance summary.
package session

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dj-oyu/ppe-monitor/internal/compliance"
	"github.com/dj-oyu/ppe-monitor/internal/detector"
	"github.com/dj-oyu/ppe-monitor/internal/frame"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-monitor/internal/overlay"
	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

// DefaultFrameYield is the pause between video cycles, about one display frame.
const DefaultFrameYield = 16 * time.Millisecond

const subscriberBuffer = 16

// Detector submits one encoded frame for detection.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]types.Detection, error)
}

// Option configures a Controller.
type Option func(*Controller)

func WithOpener(o Opener) Option {
	return func(c *Controller) { c.opener = o }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithFrameYield sets the pause between consecutive video cycles.
func WithFrameYield(d time.Duration) Option {
	return func(c *Controller) { c.yield = d }
}

// WithDetectTimeout bounds each Detect call. Zero leaves calls unbounded.
func WithDetectTimeout(d time.Duration) Option {
	return func(c *Controller) { c.detectTimeout = d }
}

func WithJPEGQuality(q int) Option {
	return func(c *Controller) { c.quality = q }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller is the session state machine.
type Controller struct {
	id            string
	detector      Detector
	opener        Opener
	clock         clock.Clock
	yield         time.Duration
	detectTimeout time.Duration
	quality       int
	metrics       *metrics.Metrics
	log           logger.Module

	ctx    context.Context
	cancel context.CancelFunc

	// selectMu serializes SelectFile and Close.
	selectMu sync.Mutex

	mu            sync.Mutex
	state         State
	file          File
	source        frame.Source
	video         *frame.Video
	surface       *image.RGBA
	detections    []types.Detection
	stats         types.Stats
	notifications []types.Notification
	inFlight      bool
	cycles        uint64
	lastErr       error
	epoch         uint64 // bumped on every selection; stale results are dropped
	worker        *worker
	closed        bool

	subMu      sync.Mutex
	subs       map[int]chan Update
	nextSubID  int
	subsClosed bool
}

// New creates an idle controller.
func New(det Detector, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:       uuid.NewString(),
		detector: det,
		opener:   DiskOpener{},
		clock:    clock.New(),
		yield:    DefaultFrameYield,
		quality:  frame.DefaultQuality,
		log:      logger.Named("Session"),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	c.log.Debug("Created session %s", c.id)
	return c
}

// ID returns the unique id of this session.
func (c *Controller) ID() string { return c.id }

// SelectFile replaces the current source. Any running loop is stopped and an
// in-flight request is cancelled and its result dropped. Images get one
// detection cycle right away; videos wait for Play.
func (c *Controller) SelectFile(ctx context.Context, f File) error {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	w, old, err := c.detach(false)
	if err != nil {
		return err
	}
	c.release(w, old)

	kind := frame.KindOf(f.MediaType)
	opts := []frame.Option{frame.WithQuality(c.quality), frame.WithClock(c.clock)}

	var (
		src   frame.Source
		video *frame.Video
	)
	switch kind {
	case frame.KindImage:
		img, err := c.opener.OpenImage(f, opts...)
		if err != nil {
			return c.selectFailed(f, fmt.Errorf("open %s: %w", f.Name, err))
		}
		src = img
	case frame.KindVideo:
		v, err := c.opener.OpenVideo(c.ctx, f, opts...)
		if err != nil {
			return c.selectFailed(f, fmt.Errorf("open %s: %w", f.Name, err))
		}
		src, video = v, v
	default:
		return c.selectFailed(f, fmt.Errorf("%w: %q", ErrUnsupportedMedia, f.MediaType))
	}

	if err := ctx.Err(); err != nil {
		c.closeSource(src)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.closeSource(src)
		return ErrClosed
	}

	width, height := src.Dimensions()
	c.source, c.video, c.file = src, video, f
	c.surface = image.NewRGBA(image.Rect(0, 0, width, height))
	overlay.Render(c.surface, src.Capture(), nil)

	if kind == frame.KindImage {
		c.state = ImageLoaded
		epoch := c.epoch
		snap := c.beginCycleLocked()
		c.startLocked(func(ctx context.Context, _ *worker) {
			c.cycle(ctx, epoch, snap)
		})
	} else {
		c.state = VideoLoaded
	}

	c.log.Info("Selected %s (%s %dx%d)", f.Name, kind, width, height)
	c.emitLocked(CauseSelected)
	return nil
}

func (c *Controller) selectFailed(f File, err error) error {
	c.log.Warn("Cannot load %s: %v", f.Name, err)
	c.mu.Lock()
	c.emitLocked(CauseStateChanged)
	c.mu.Unlock()
	return err
}

// Play starts or resumes the detection loop of a loaded video.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != VideoLoaded && c.state != VideoPaused {
		return fmt.Errorf("%w: play while %s", ErrInvalidTransition, c.state)
	}
	if err := c.video.Play(); err != nil {
		return err
	}
	c.state = VideoPlaying

	// A loop that has not yet observed a quick pause/play keeps running.
	if c.worker == nil {
		epoch := c.epoch
		c.startLocked(func(ctx context.Context, w *worker) {
			c.runVideo(ctx, w, epoch)
		})
	}

	c.log.Info("Playing %s", c.file.Name)
	c.emitLocked(CauseStateChanged)
	return nil
}

// Pause stops issuing captures. A request already in flight completes and
// its result is applied.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != VideoPlaying {
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, c.state)
	}
	c.state = VideoPaused
	c.video.Pause()

	c.log.Info("Paused %s", c.file.Name)
	c.emitLocked(CauseStateChanged)
	return nil
}

// Toggle pauses a playing video and plays a loaded or paused one.
func (c *Controller) Toggle() error {
	if c.State() == VideoPlaying {
		return c.Pause()
	}
	return c.Play()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a consistent copy of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Frame returns a copy of the overlay surface, or nil when nothing is loaded.
func (c *Controller) Frame() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRGBA(c.surface)
}

// Subscribe registers an observer. Updates are dropped for subscribers that
// fall more than a few updates behind.
func (c *Controller) Subscribe() (int, <-chan Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Update, subscriberBuffer)
	if c.subsClosed {
		close(ch)
		return id, ch
	}
	c.subs[id] = ch
	c.log.Debug("Subscriber #%d added (total: %d)", id, len(c.subs))
	return id, ch
}

// Unsubscribe removes an observer and closes its channel.
func (c *Controller) Unsubscribe(id int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if ch, ok := c.subs[id]; ok {
		close(ch)
		delete(c.subs, id)
		c.log.Debug("Subscriber #%d removed (remaining: %d)", id, len(c.subs))
	}
}

// Close stops the loop, releases the source and closes all subscriber channels.
func (c *Controller) Close() error {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()

	w, src, err := c.detach(true)
	if err != nil {
		return nil
	}
	c.stop(w)
	var closeErr error
	if closer, ok := src.(io.Closer); ok {
		closeErr = closer.Close()
	}
	c.cancel()

	c.subMu.Lock()
	c.subsClosed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()

	c.log.Debug("Closed session %s", c.id)
	return closeErr
}

// detach clears the current selection and hands back what must be released.
func (c *Controller) detach(closing bool) (*worker, frame.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil, ErrClosed
	}
	c.closed = closing
	c.epoch++

	w, src := c.worker, c.source
	c.worker = nil
	c.source, c.video, c.surface = nil, nil, nil
	c.state = Idle
	c.file = File{}
	c.detections, c.stats, c.notifications = nil, types.Stats{}, nil
	c.inFlight, c.cycles, c.lastErr = false, 0, nil
	c.metrics.SetInFlight(false)
	return w, src, nil
}

func (c *Controller) release(w *worker, src frame.Source) {
	c.stop(w)
	c.closeSource(src)
}

func (c *Controller) stop(w *worker) {
	if w == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (c *Controller) closeSource(src frame.Source) {
	if closer, ok := src.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.log.Warn("Closing previous source: %v", err)
		}
	}
}

func (c *Controller) startLocked(run func(ctx context.Context, w *worker)) {
	ctx, cancel := context.WithCancel(c.ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	c.worker = w

	go func() {
		defer close(w.done)
		defer cancel()
		run(ctx, w)

		c.mu.Lock()
		if c.worker == w {
			c.worker = nil
		}
		c.mu.Unlock()
	}()
}

// runVideo performs cycles back to back while the session is playing.
func (c *Controller) runVideo(ctx context.Context, w *worker, epoch uint64) {
	for {
		c.mu.Lock()
		if c.epoch != epoch || c.state != VideoPlaying {
			if c.worker == w {
				c.worker = nil
			}
			c.mu.Unlock()
			return
		}
		if c.video.IsEnded() {
			c.state = VideoPaused
			if c.worker == w {
				c.worker = nil
			}
			c.log.Info("End of %s", c.file.Name)
			c.emitLocked(CauseEnded)
			c.mu.Unlock()
			return
		}
		// Capture under the lock so no frame is taken once Pause has returned.
		snap := c.beginCycleLocked()
		c.mu.Unlock()

		c.cycle(ctx, epoch, snap)

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.yield):
		}
	}
}

func (c *Controller) beginCycleLocked() image.Image {
	c.inFlight = true
	c.metrics.CyclesStarted.Add(1)
	c.metrics.SetInFlight(true)
	return c.source.Capture()
}

func (c *Controller) cycle(ctx context.Context, epoch uint64, snap image.Image) {
	start := c.clock.Now()
	detections, err := c.detect(ctx, snap)
	c.metrics.UpdateDetectLatency(c.clock.Since(start))
	c.apply(epoch, snap, detections, err)
}

func (c *Controller) detect(ctx context.Context, snap image.Image) ([]types.Detection, error) {
	data, err := frame.Encode(snap, c.quality)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if c.detectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.detectTimeout)
		defer cancel()
	}
	return c.detector.Detect(ctx, data)
}

func (c *Controller) apply(epoch uint64, snap image.Image, detections []types.Detection, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		c.metrics.CyclesDiscarded.Add(1)
		c.log.Debug("Dropped result of a replaced selection")
		return
	}
	c.inFlight = false
	c.metrics.SetInFlight(false)

	if err != nil {
		c.lastErr = err
		c.metrics.CyclesFailed.Add(1)
		switch {
		case detector.IsTransport(err):
			c.metrics.TransportErrors.Add(1)
		case detector.IsDecode(err):
			c.metrics.DecodeErrors.Add(1)
		}
		c.log.Warn("Detection failed: %v", err)
		// Keep the last good summary; only the frame moves on.
		overlay.Render(c.surface, snap, nil)
		c.emitLocked(CauseResult)
		return
	}

	c.lastErr = nil
	c.detections = detections
	c.stats, c.notifications = compliance.Summarize(detections)
	c.cycles++
	c.metrics.CyclesApplied.Add(1)
	c.metrics.UpdateSummary(len(detections), c.stats.Violations, c.stats.Compliant)
	overlay.Render(c.surface, snap, detections)
	c.emitLocked(CauseResult)
}

func (c *Controller) snapshotLocked() Snapshot {
	kind := frame.KindUnknown
	if c.source != nil {
		kind = c.source.Kind()
	}
	return Snapshot{
		SessionID:       c.id,
		State:           c.state,
		File:            c.file,
		SourceKind:      kind,
		RequestInFlight: c.inFlight,
		Detections:      c.detections,
		Stats:           c.stats,
		Notifications:   c.notifications,
		Cycles:          c.cycles,
		LastError:       c.lastErr,
	}
}

func (c *Controller) emitLocked(cause Cause) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if len(c.subs) == 0 {
		return
	}
	u := Update{Cause: cause, Snapshot: c.snapshotLocked(), Frame: cloneRGBA(c.surface)}
	for id, ch := range c.subs {
		select {
		case ch <- u:
		default:
			c.log.Debug("Subscriber #%d is behind, dropped %s update", id, cause)
		}
	}
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	if src == nil {
		return nil
	}
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}
