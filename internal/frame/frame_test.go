package frame

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

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

// sliceReader plays back a fixed list of frames.
type sliceReader struct {
	mu     sync.Mutex
	frames []image.Image
	closed bool
}

func (s *sliceReader) ReadFrame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *sliceReader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestKindOf(t *testing.T) {
	cases := map[string]Kind{
		"image/png":                KindImage,
		"IMAGE/JPEG":               KindImage,
		"video/mp4":                KindVideo,
		"video/webm; codecs=vp8":   KindVideo,
		"application/octet-stream": KindUnknown,
		"":                         KindUnknown,
	}
	for in, want := range cases {
		if got := KindOf(in); got != want {
			t.Errorf("KindOf(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(32, 16, color.RGBA{R: 200, A: 255})); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	img, err := DecodeImage(&buf)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if w, h := img.Dimensions(); w != 32 || h != 16 {
		t.Fatalf("Dimensions = %dx%d, want 32x16", w, h)
	}
	if img.Format() != "png" {
		t.Fatalf("Format = %q", img.Format())
	}

	data, err := img.EncodeCurrentFrame()
	if err != nil {
		t.Fatalf("EncodeCurrentFrame: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("encoded frame is not a JPEG: %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 16 {
		t.Fatalf("encoded size = %dx%d", cfg.Width, cfg.Height)
	}
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	if _, err := DecodeImage(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestQualityAffectsSize(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8(x ^ y), A: 255})
		}
	}
	low, err := NewImage(src, WithQuality(10)).EncodeCurrentFrame()
	if err != nil {
		t.Fatal(err)
	}
	high, err := NewImage(src, WithQuality(95)).EncodeCurrentFrame()
	if err != nil {
		t.Fatal(err)
	}
	if len(low) >= len(high) {
		t.Fatalf("quality 10 (%d bytes) should be smaller than quality 95 (%d bytes)", len(low), len(high))
	}
}

func TestDrawCurrentIntoScales(t *testing.T) {
	img := NewImage(solid(10, 10, color.RGBA{G: 255, A: 255}))
	dst := image.NewRGBA(image.Rect(0, 0, 40, 20))
	img.DrawCurrentInto(dst)

	got := dst.RGBAAt(39, 19)
	if got.G != 255 || got.R != 0 {
		t.Fatalf("scaled pixel = %+v, want green", got)
	}
}

func TestRawReader(t *testing.T) {
	frame := bytes.Repeat([]byte{1, 2, 3, 255}, 4) // 2x2
	data := append(append([]byte{}, frame...), frame[:5]...)

	rr := NewRawReader(bytes.NewReader(data), 2, 2)
	img, err := rr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got := img.(*image.RGBA).RGBAAt(1, 1); got != (color.RGBA{R: 1, G: 2, B: 3, A: 255}) {
		t.Fatalf("pixel = %+v", got)
	}
	if _, err := rr.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("truncated frame should read as EOF, got %v", err)
	}
}

func TestParseProbe(t *testing.T) {
	out := `{"streams":[
		{"codec_type":"audio"},
		{"codec_type":"video","width":1280,"height":720,"r_frame_rate":"30/1","avg_frame_rate":"30000/1001"}]}`
	info, err := parseProbe(out)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.Width != 1280 || info.Height != 720 {
		t.Fatalf("size = %dx%d", info.Width, info.Height)
	}
	if info.FPS < 29.96 || info.FPS > 29.98 {
		t.Fatalf("fps = %v", info.FPS)
	}

	if _, err := parseProbe(`{"streams":[{"codec_type":"audio"}]}`); err == nil {
		t.Fatal("expected error without a video stream")
	}
}

func TestParseRate(t *testing.T) {
	cases := map[string]float64{"25": 25, "30/1": 30, "0/0": 0, "x": 0, "": 0}
	for in, want := range cases {
		if got := parseRate(in); got != want {
			t.Errorf("parseRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func newTestVideo(t *testing.T, clk clock.Clock, frames ...image.Image) (*Video, *sliceReader) {
	t.Helper()
	r := &sliceReader{frames: frames}
	v, err := NewVideo(r, 10, WithClock(clk))
	if err != nil {
		t.Fatalf("NewVideo: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return v, r
}

func TestVideoPreparesFirstFrame(t *testing.T) {
	red := solid(4, 4, color.RGBA{R: 255, A: 255})
	v, _ := newTestVideo(t, clock.NewMock(), red, solid(4, 4, color.RGBA{B: 255, A: 255}))

	if v.Playing() {
		t.Fatal("video must start paused")
	}
	if v.Capture() != image.Image(red) {
		t.Fatal("first frame should be current")
	}
	if v.Interval() != 100*time.Millisecond {
		t.Fatalf("interval = %v", v.Interval())
	}
}

func TestVideoAdvancesOnlyWhilePlaying(t *testing.T) {
	mock := clock.NewMock()
	f1 := solid(4, 4, color.RGBA{R: 255, A: 255})
	f2 := solid(4, 4, color.RGBA{G: 255, A: 255})
	f3 := solid(4, 4, color.RGBA{B: 255, A: 255})
	v, _ := newTestVideo(t, mock, f1, f2, f3)

	mock.Add(time.Second)
	if v.FrameNumber() != 1 {
		t.Fatal("paused video must not advance")
	}

	if err := v.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	mock.Add(v.Interval())
	waitFor(t, "second frame", func() bool { return v.FrameNumber() == 2 })
	if v.Capture() != image.Image(f2) {
		t.Fatal("second frame should be current")
	}

	v.Pause()
	mock.Add(time.Second)
	if v.FrameNumber() != 2 || v.Capture() != image.Image(f2) {
		t.Fatal("frame changed after Pause returned")
	}
}

func TestVideoEndOfStream(t *testing.T) {
	mock := clock.NewMock()
	v, _ := newTestVideo(t, mock, solid(2, 2, color.RGBA{A: 255}))

	if err := v.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	mock.Add(v.Interval())

	select {
	case <-v.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("Ended was not closed")
	}
	waitFor(t, "playback stop", func() bool { return !v.Playing() })
	if err := v.Play(); !errors.Is(err, ErrEnded) {
		t.Fatalf("Play after end = %v, want ErrEnded", err)
	}
}

func TestVideoCloseReleasesReader(t *testing.T) {
	r := &sliceReader{frames: []image.Image{solid(2, 2, color.RGBA{A: 255})}}
	v, err := NewVideo(r, 0, WithClock(clock.NewMock()))
	if err != nil {
		t.Fatalf("NewVideo: %v", err)
	}
	fps := DefaultFPS
	if v.Interval() != time.Duration(float64(time.Second)/fps) {
		t.Fatalf("fps fallback not applied: %v", v.Interval())
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !r.closed {
		t.Fatal("reader not closed")
	}
	if err := v.Play(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Play after Close = %v, want ErrClosed", err)
	}
}

func TestNewVideoEmptyStream(t *testing.T) {
	r := &sliceReader{}
	if _, err := NewVideo(r, 30); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("NewVideo on empty stream = %v, want ErrNoFrame", err)
	}
	if !r.closed {
		t.Fatal("reader should be closed on failure")
	}
}
