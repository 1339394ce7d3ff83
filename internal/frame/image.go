package frame

import (
	"fmt"
	"image"
	"io"

	"golang.org/x/image/draw"

	// Still formats accepted by the file input.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded still. It is captured once and never changes.
type Image struct {
	img     image.Image
	format  string
	quality int
}

// DecodeImage decodes a still image from r.
func DecodeImage(r io.Reader, opts ...Option) (*Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrNoFrame
	}
	im := NewImage(img, opts...)
	im.format = format
	return im, nil
}

// NewImage wraps an already decoded image.
func NewImage(img image.Image, opts ...Option) *Image {
	o := newOptions(opts)
	return &Image{img: img, quality: o.quality}
}

func (i *Image) Kind() Kind { return KindImage }

// Format returns the name of the decoder that read the image ("png", "webp", ...).
func (i *Image) Format() string { return i.format }

func (i *Image) Dimensions() (int, int) {
	b := i.img.Bounds()
	return b.Dx(), b.Dy()
}

func (i *Image) Capture() image.Image { return i.img }

func (i *Image) DrawCurrentInto(dst draw.Image) {
	DrawScaled(dst, i.img)
}

func (i *Image) EncodeCurrentFrame() ([]byte, error) {
	return Encode(i.img, i.quality)
}
