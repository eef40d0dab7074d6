// Package annotate renders violation evidence onto the triggering frame:
// hand box, ROI outline, timestamp and severity banner, producing a
// full-quality file copy and a smaller inline copy.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/storewatch/backend/internal/geometry"
)

const (
	fullQuality   = 85
	inlineQuality = 70

	inlineMaxWidth  = 800
	inlineMaxHeight = 600

	boxThickness = 3
	bannerHeight = 28
)

var (
	colorHand   = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	colorROI    = color.RGBA{R: 240, G: 220, B: 40, A: 255}
	colorText   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorShadow = color.RGBA{A: 255}

	severityColors = map[string]color.RGBA{
		"high":   {R: 190, G: 20, B: 20, A: 255},
		"medium": {R: 235, G: 140, B: 20, A: 255},
		"low":    {R: 30, G: 150, B: 40, A: 255},
	}
)

// Input describes what to draw on the frame.
type Input struct {
	JPEG       []byte
	HandBBox   geometry.BBox
	HandLabel  string
	ROIName    string
	ROIPolygon []geometry.Point
	Severity   string
	Timestamp  time.Time
}

// Output holds both encodings of the annotated frame.
type Output struct {
	Full   []byte // quality 85, original resolution
	Inline []byte // quality 70, resized to fit 800x600
}

// Render decodes the frame, draws the evidence overlay and re-encodes
// both copies.
func Render(in Input) (*Output, error) {
	src, _, err := image.Decode(bytes.NewReader(in.JPEG))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	drawPolygon(canvas, in.ROIPolygon, colorROI)
	if len(in.ROIPolygon) > 0 {
		bounds := geometry.BoundingBox(in.ROIPolygon)
		drawLabel(canvas, int(bounds.X), int(bounds.Y)-6, "ROI: "+in.ROIName)
	}

	drawRect(canvas, in.HandBBox, colorHand, boxThickness)
	drawLabel(canvas, int(in.HandBBox.X), int(in.HandBBox.Y)-6, in.HandLabel)

	drawLabel(canvas, 10, 20, in.Timestamp.UTC().Format("2006-01-02 15:04:05.000"))
	drawBanner(canvas, in.Severity)

	full, err := encode(canvas, fullQuality)
	if err != nil {
		return nil, fmt.Errorf("encode full frame: %w", err)
	}

	inline, err := encode(shrink(canvas), inlineQuality)
	if err != nil {
		return nil, fmt.Errorf("encode inline frame: %w", err)
	}

	return &Output{Full: full, Inline: inline}, nil
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// shrink scales the image down to fit the inline bounds, keeping aspect
// ratio. Images already small enough pass through untouched.
func shrink(img *image.RGBA) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= inlineMaxWidth && h <= inlineMaxHeight {
		return img
	}

	scale := float64(inlineMaxWidth) / float64(w)
	if s := float64(inlineMaxHeight) / float64(h); s < scale {
		scale = s
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// drawRect draws a rectangle outline of the given thickness.
func drawRect(img *image.RGBA, box geometry.BBox, c color.RGBA, thickness int) {
	x0, y0 := int(box.X), int(box.Y)
	x1, y1 := int(box.X+box.Width), int(box.Y+box.Height)

	for t := 0; t < thickness; t++ {
		for x := x0; x <= x1; x++ {
			img.SetRGBA(clampX(img, x), clampY(img, y0+t), c)
			img.SetRGBA(clampX(img, x), clampY(img, y1-t), c)
		}
		for y := y0; y <= y1; y++ {
			img.SetRGBA(clampX(img, x0+t), clampY(img, y), c)
			img.SetRGBA(clampX(img, x1-t), clampY(img, y), c)
		}
	}
}

// drawPolygon draws the closed outline through the polygon vertices.
func drawPolygon(img *image.RGBA, poly []geometry.Point, c color.RGBA) {
	n := len(poly)
	if n < 2 {
		return
	}
	for i := 0; i < n; i++ {
		a, b := poly[i], poly[(i+1)%n]
		drawSegment(img, int(a.X), int(a.Y), int(b.X), int(b.Y), c)
	}
}

// drawSegment draws a 2px line between two points (Bresenham).
func drawSegment(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	for {
		img.SetRGBA(clampX(img, x0), clampY(img, y0), c)
		img.SetRGBA(clampX(img, x0+1), clampY(img, y0), c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// drawLabel renders text with a 1px shadow for contrast.
func drawLabel(img *image.RGBA, x, y int, text string) {
	if text == "" {
		return
	}
	if y < 13 {
		y = 13
	}
	for _, off := range []struct{ dx, dy int }{{1, 1}, {0, 0}} {
		c := colorText
		if off.dx != 0 {
			c = colorShadow
		}
		d := font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(c),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(x+off.dx, y+off.dy),
		}
		d.DrawString(text)
	}
}

// drawBanner fills a severity-colored strip along the bottom edge.
func drawBanner(img *image.RGBA, severity string) {
	c, ok := severityColors[severity]
	if !ok {
		c = severityColors["low"]
	}

	b := img.Bounds()
	strip := image.Rect(b.Min.X, b.Max.Y-bannerHeight, b.Max.X, b.Max.Y)
	draw.Draw(img, strip, image.NewUniform(c), image.Point{}, draw.Src)

	drawLabel(img, b.Min.X+10, b.Max.Y-10, "VIOLATION: "+severity)
}

func clampX(img *image.RGBA, x int) int {
	b := img.Bounds()
	if x < b.Min.X {
		return b.Min.X
	}
	if x >= b.Max.X {
		return b.Max.X - 1
	}
	return x
}

func clampY(img *image.RGBA, y int) int {
	b := img.Bounds()
	if y < b.Min.Y {
		return b.Min.Y
	}
	if y >= b.Max.Y {
		return b.Max.Y - 1
	}
	return y
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
