// Package frame provides the visual inputs of a session: a decoded still
// image or a playing video stream.
package frame

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"

	"github.com/benbjohnson/clock"
	"golang.org/x/image/draw"
)

// DefaultQuality is the JPEG quality used for uploads.
const DefaultQuality = 80

var (
	// ErrNoFrame is returned when an input yields no decodable frame.
	ErrNoFrame = errors.New("frame: no frame available")
	// ErrEnded is returned by Play once the stream has finished.
	ErrEnded = errors.New("frame: video ended")
	// ErrClosed is returned by operations on a closed video.
	ErrClosed = errors.New("frame: video closed")
)

// Source is the current visual input of a session.
type Source interface {
	Kind() Kind
	// Dimensions returns the native frame size.
	Dimensions() (width, height int)
	// Capture returns the frame visible now. The returned image is never
	// modified afterwards.
	Capture() image.Image
	// DrawCurrentInto paints the current frame scaled to dst's bounds.
	DrawCurrentInto(dst draw.Image)
	// EncodeCurrentFrame returns the current frame as JPEG.
	EncodeCurrentFrame() ([]byte, error)
}

type options struct {
	quality int
	clock   clock.Clock
}

// Option configures a Source.
type Option func(*options)

// WithQuality sets the JPEG quality (1-100) used by EncodeCurrentFrame.
func WithQuality(q int) Option {
	return func(o *options) {
		if q >= 1 && q <= 100 {
			o.quality = q
		}
	}
}

// WithClock sets the clock that paces video playback.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		if clk != nil {
			o.clock = clk
		}
	}
}

func newOptions(opts []Option) options {
	o := options{quality: DefaultQuality, clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Encode compresses img as JPEG at the given quality.
func Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DrawScaled paints src over dst's bounds, scaling when the sizes differ.
func DrawScaled(dst draw.Image, src image.Image) {
	db, sb := dst.Bounds(), src.Bounds()
	if db.Size() == sb.Size() {
		draw.Draw(dst, db, src, sb.Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(dst, db, src, sb, draw.Src, nil)
}
