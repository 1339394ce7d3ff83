// Package overlay paints detection boxes and labels over a frame.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/dj-oyu/ppe-monitor/internal/compliance"
	"github.com/dj-oyu/ppe-monitor/internal/frame"
	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

// Label geometry, in surface pixels.
const (
	lineWidth   = 3.0
	labelHeight = 26.0
	labelPad    = 8.0
	fontSize    = 14.0
	textRise    = 7.0  // baseline offset above the box top
	minBaseline = 18.0 // keeps the text inside the surface when the box touches the top
)

var (
	red   = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	green = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	blue  = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	black = color.RGBA{A: 0xff}

	// Fallback is used for classes missing from Palette.
	Fallback color.RGBA = blue

	// Palette maps detection classes to box colours.
	Palette = map[string]color.RGBA{
		compliance.ClassNoHardhat:    red,
		compliance.ClassNoSafetyVest: red,
		compliance.ClassNoMask:       red,
		compliance.ClassNoGloves:     red,
		compliance.ClassNoGoggles:    red,
		compliance.ClassHardhat:      green,
		compliance.ClassSafetyVest:   green,
		compliance.ClassMask:         green,
		compliance.ClassGloves:       green,
		compliance.ClassGoggles:      green,
		compliance.ClassFallDetected: red,
		compliance.ClassPerson:       blue,
		compliance.ClassLadder:       blue,
		compliance.ClassSafetyCone:   blue,
	}
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(gobold.TTF)
	if err != nil {
		panic(err)
	}
}

// ColorFor returns the palette colour of a class.
func ColorFor(class string) color.RGBA {
	if c, ok := Palette[class]; ok {
		return c
	}
	return Fallback
}

// ColorHex returns the palette colour of a class as "#rrggbb".
func ColorHex(class string) string {
	c := ColorFor(class)
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Label returns the tag text drawn above a detection, e.g. "Hardhat 87%".
func Label(det types.Detection) string {
	return fmt.Sprintf("%s %d%%", det.Class, int(math.Round(det.Confidence*100)))
}

// Render repaints surface with background scaled to its bounds, then draws
// every detection in list order. A nil background clears to black.
func Render(surface *image.RGBA, background image.Image, detections []types.Detection) {
	bounds := surface.Bounds()
	draw.Draw(surface, bounds, image.NewUniform(black), image.Point{}, draw.Src)
	if background != nil {
		frame.DrawScaled(surface, background)
	}
	if len(detections) == 0 {
		return
	}

	dc := gg.NewContextForRGBA(surface)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: fontSize}))

	for _, det := range detections {
		c := ColorFor(det.Class)

		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(det.X, det.Y, det.W, det.H)
		dc.Stroke()

		label := Label(det)
		textWidth, _ := dc.MeasureString(label)
		x := math.Max(0, det.X)
		dc.DrawRectangle(x, math.Max(0, det.Y-labelHeight), textWidth+labelPad, labelHeight)
		dc.Fill()

		dc.SetColor(white)
		dc.DrawString(label, x+labelPad/2, math.Max(minBaseline, det.Y-textRise))
	}
}

// Placeholder returns a dark frame with a centred message, shown while no
// source is loaded.
func Placeholder(width, height int, message string) *image.RGBA {
	surface := image.NewRGBA(image.Rect(0, 0, width, height))
	dc := gg.NewContextForRGBA(surface)
	dc.SetColor(color.RGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff})
	dc.Clear()
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: fontSize}))
	dc.SetColor(color.RGBA{R: 0x9c, G: 0xa3, B: 0xaf, A: 0xff})
	dc.DrawStringAnchored(message, float64(width)/2, float64(height)/2, 0.5, 0.5)
	return surface
}
