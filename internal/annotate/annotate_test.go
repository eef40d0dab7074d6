package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/backend/internal/geometry"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testInput(frame []byte) Input {
	return Input{
		JPEG:       frame,
		HandBBox:   geometry.BBox{X: 490, Y: 390, Width: 60, Height: 60},
		HandLabel:  "no_scooper_detected (1.00)",
		ROIName:    "sauce_station",
		ROIPolygon: geometry.RectToPolygon(geometry.BBox{X: 400, Y: 300, Width: 300, Height: 250}),
		Severity:   "high",
		Timestamp:  time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderProducesBothCopies(t *testing.T) {
	out, err := Render(testInput(testJPEG(t, 1280, 720)))
	require.NoError(t, err)
	require.NotEmpty(t, out.Full)
	require.NotEmpty(t, out.Inline)

	full, _, err := image.Decode(bytes.NewReader(out.Full))
	require.NoError(t, err)
	assert.Equal(t, 1280, full.Bounds().Dx())
	assert.Equal(t, 720, full.Bounds().Dy())

	inline, _, err := image.Decode(bytes.NewReader(out.Inline))
	require.NoError(t, err)
	assert.LessOrEqual(t, inline.Bounds().Dx(), inlineMaxWidth)
	assert.LessOrEqual(t, inline.Bounds().Dy(), inlineMaxHeight)
}

func TestRenderSmallFrameNotUpscaled(t *testing.T) {
	out, err := Render(testInput(testJPEG(t, 640, 480)))
	require.NoError(t, err)

	inline, _, err := image.Decode(bytes.NewReader(out.Inline))
	require.NoError(t, err)
	assert.Equal(t, 640, inline.Bounds().Dx())
	assert.Equal(t, 480, inline.Bounds().Dy())
}

func TestRenderDrawsBanner(t *testing.T) {
	out, err := Render(testInput(testJPEG(t, 320, 240)))
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(out.Full))
	require.NoError(t, err)

	// Bottom strip should be dominated by the high-severity red.
	r, g, b, _ := img.At(160, 230).RGBA()
	assert.Greater(t, r>>8, uint32(120))
	assert.Less(t, g>>8, uint32(90))
	assert.Less(t, b>>8, uint32(90))
}

func TestRenderRejectsGarbage(t *testing.T) {
	_, err := Render(Input{JPEG: []byte("not a jpeg")})
	assert.Error(t, err)
}
