package frame

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/image/draw"

	"github.com/dj-oyu/ppe-monitor/internal/logger"
)

// DefaultFPS is used when a stream does not report its frame rate.
const DefaultFPS = 30.0

// Video is a time-advancing source. While playing, the current frame is
// replaced on every tick of the stream's frame interval; when paused the
// current frame stays put.
type Video struct {
	reader   FrameReader
	clock    clock.Clock
	interval time.Duration
	quality  int
	width    int
	height   int
	log      logger.Module

	mu      sync.Mutex
	current image.Image
	frames  uint64
	playing bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}

	ended   chan struct{}
	endOnce sync.Once
}

// NewVideo prepares a video from r, reading its first frame eagerly.
// The video starts paused. r is closed by Close, or here on failure.
func NewVideo(r FrameReader, fps float64, opts ...Option) (*Video, error) {
	first, err := r.ReadFrame()
	if err != nil {
		_ = r.Close()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoFrame
		}
		return nil, fmt.Errorf("read first frame: %w", err)
	}
	if fps <= 0 {
		fps = DefaultFPS
	}

	o := newOptions(opts)
	b := first.Bounds()
	return &Video{
		reader:   r,
		clock:    o.clock,
		interval: time.Duration(float64(time.Second) / fps),
		quality:  o.quality,
		width:    b.Dx(),
		height:   b.Dy(),
		log:      logger.Named("Video"),
		current:  first,
		frames:   1,
		ended:    make(chan struct{}),
	}, nil
}

func (v *Video) Kind() Kind { return KindVideo }

func (v *Video) Dimensions() (int, int) { return v.width, v.height }

// Interval returns the time between frames.
func (v *Video) Interval() time.Duration { return v.interval }

func (v *Video) Capture() image.Image {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// FrameNumber returns how many frames have been shown so far (1-based).
func (v *Video) FrameNumber() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frames
}

func (v *Video) DrawCurrentInto(dst draw.Image) {
	DrawScaled(dst, v.Capture())
}

func (v *Video) EncodeCurrentFrame() ([]byte, error) {
	return Encode(v.Capture(), v.quality)
}

// Ended is closed once the stream has no more frames.
func (v *Video) Ended() <-chan struct{} { return v.ended }

// IsEnded reports whether the stream has finished.
func (v *Video) IsEnded() bool {
	select {
	case <-v.ended:
		return true
	default:
		return false
	}
}

// Playing reports whether frames are advancing.
func (v *Video) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

// Play starts advancing frames. Playing an ended stream returns ErrEnded.
func (v *Video) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case v.closed:
		return ErrClosed
	case v.IsEnded():
		return ErrEnded
	case v.playing:
		return nil
	}

	v.playing = true
	v.stop = make(chan struct{})
	v.done = make(chan struct{})
	ticker := v.clock.Ticker(v.interval)
	go v.advance(ticker, v.stop, v.done)
	return nil
}

// Pause stops advancing frames. It returns once the playback goroutine has
// exited, so the current frame no longer changes afterwards.
func (v *Video) Pause() {
	v.mu.Lock()
	if !v.playing {
		v.mu.Unlock()
		return
	}
	v.playing = false
	stop, done := v.stop, v.done
	v.mu.Unlock()

	close(stop)
	<-done
}

// Close stops playback and releases the underlying reader.
func (v *Video) Close() error {
	v.Pause()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	done := v.done
	v.mu.Unlock()

	// Playback may have ended on its own; wait for it before closing the reader.
	if done != nil {
		<-done
	}
	return v.reader.Close()
}

func (v *Video) advance(t *clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		img, err := v.reader.ReadFrame()

		v.mu.Lock()
		if err != nil {
			v.playing = false
			v.mu.Unlock()
			v.endOnce.Do(func() { close(v.ended) })
			if !errors.Is(err, io.EOF) {
				v.log.Warn("Stream stopped after frame %d: %v", v.FrameNumber(), err)
			} else {
				v.log.Debug("End of stream after %d frames", v.FrameNumber())
			}
			return
		}
		v.current = img
		v.frames++
		v.mu.Unlock()
	}
}
