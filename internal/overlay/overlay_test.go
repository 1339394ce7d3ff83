package overlay

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

func newSurface() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 120, 100))
}

func TestLabel(t *testing.T) {
	cases := []struct {
		det  types.Detection
		want string
	}{
		{types.Detection{Class: "Hardhat", Confidence: 0.874}, "Hardhat 87%"},
		{types.Detection{Class: "NO-Mask", Confidence: 0.995}, "NO-Mask 100%"},
		{types.Detection{Class: "Person", Confidence: 0.005}, "Person 1%"},
	}
	for _, tc := range cases {
		if got := Label(tc.det); got != tc.want {
			t.Errorf("Label(%+v) = %q, want %q", tc.det, got, tc.want)
		}
	}
}

func TestColorFor(t *testing.T) {
	cases := map[string]string{
		"NO-Hardhat":    "#ef4444",
		"Fall-Detected": "#ef4444",
		"Safety Vest":   "#22c55e",
		"Safety Cone":   "#3b82f6",
		"Forklift":      "#3b82f6",
	}
	for class, want := range cases {
		if got := ColorHex(class); got != want {
			t.Errorf("ColorHex(%q) = %s, want %s", class, got, want)
		}
	}
}

func TestRenderBackgroundOnly(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i+2], src.Pix[i+3] = 255, 255
	}
	surface := newSurface()
	Render(surface, src, nil)
	if got := surface.RGBAAt(60, 50); got != (color.RGBA{B: 255, A: 255}) {
		t.Fatalf("scaled background pixel = %+v, want blue", got)
	}

	Render(surface, nil, nil)
	if got := surface.RGBAAt(60, 50); got != (color.RGBA{A: 255}) {
		t.Fatalf("nil background should clear to black, got %+v", got)
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	dets := []types.Detection{
		{Class: "NO-Hardhat", X: 10, Y: 30, W: 40, H: 50, Confidence: 0.91},
		{Class: "Safety Vest", X: 60, Y: 40, W: 30, H: 30, Confidence: 0.66},
	}
	a, b := newSurface(), newSurface()
	Render(a, nil, dets)
	Render(b, nil, dets)
	Render(b, nil, dets)

	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("rendering the same input twice produced different pixels")
	}
}

func TestRenderStrokeAndTag(t *testing.T) {
	surface := newSurface()
	Render(surface, nil, []types.Detection{
		{Class: "Hardhat", X: 20, Y: 50, W: 40, H: 40, Confidence: 0.8},
	})

	// Left edge of the box, below the tag.
	if got := surface.RGBAAt(20, 70); got != ColorFor("Hardhat") {
		t.Fatalf("stroke pixel = %+v, want %+v", got, ColorFor("Hardhat"))
	}
	// Inside the tag, left of the text.
	if got := surface.RGBAAt(21, 26); got != ColorFor("Hardhat") {
		t.Fatalf("tag pixel = %+v, want %+v", got, ColorFor("Hardhat"))
	}
	// Box interior is not filled.
	if got := surface.RGBAAt(40, 75); got != (color.RGBA{A: 255}) {
		t.Fatalf("interior pixel = %+v, want black", got)
	}
}

func TestRenderClampsTagToSurface(t *testing.T) {
	surface := newSurface()
	Render(surface, nil, []types.Detection{
		{Class: "NO-Mask", X: -15, Y: 4, W: 50, H: 50, Confidence: 0.5},
	})

	// The tag starts at the surface corner even though the box does not.
	if got := surface.RGBAAt(1, 1); got != ColorFor("NO-Mask") {
		t.Fatalf("clamped tag pixel = %+v, want %+v", got, ColorFor("NO-Mask"))
	}
}

func TestPlaceholder(t *testing.T) {
	img := Placeholder(200, 100, "Upload an image or video")
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 100 {
		t.Fatalf("size = %v", img.Bounds())
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}) {
		t.Fatalf("background = %+v", got)
	}
}
