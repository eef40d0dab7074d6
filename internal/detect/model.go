// Package detect defines the object detection model and the HTTP client
// for the external detector service.
package detect

import (
	"log/slog"

	"github.com/storewatch/backend/internal/geometry"
)

// Class is a detector object class.
type Class string

const (
	ClassHand    Class = "hand"
	ClassPerson  Class = "person"
	ClassPizza   Class = "pizza"
	ClassScooper Class = "scooper"
)

// knownClasses gates what the pipeline will accept from the detector.
var knownClasses = map[Class]bool{
	ClassHand:    true,
	ClassPerson:  true,
	ClassPizza:   true,
	ClassScooper: true,
}

// Detection is a single detected object in a frame.
type Detection struct {
	Class      Class          `json:"class_name"`
	Confidence float64        `json:"confidence"`
	BBox       geometry.BBox  `json:"bbox"`
	Center     geometry.Point `json:"center"`
	Area       float64        `json:"area"`
}

// wireDetection matches the detector's response shape. Confidence arrives
// as a pointer because some detector builds omit it for low-score boxes.
type wireDetection struct {
	ClassName  string   `json:"class_name"`
	Confidence *float64 `json:"confidence"`
	BBox       wireBBox `json:"bbox"`
	Center     *wirePt  `json:"center"`
	Area       *float64 `json:"area"`
}

type wireBBox struct {
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type wirePt struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// decodeDetections converts wire detections into the internal model.
// Unknown classes are logged and skipped rather than failing the frame;
// a missing confidence coerces to 0.
func decodeDetections(raw []wireDetection) []Detection {
	out := make([]Detection, 0, len(raw))
	for _, w := range raw {
		class := Class(w.ClassName)
		if !knownClasses[class] {
			slog.Warn("[Detector] Skipping unknown class", "class", w.ClassName)
			continue
		}

		d := Detection{Class: class}
		if w.Confidence != nil {
			d.Confidence = *w.Confidence
		}

		width := w.BBox.Width
		height := w.BBox.Height
		if width == 0 {
			width = w.BBox.X2 - w.BBox.X1
		}
		if height == 0 {
			height = w.BBox.Y2 - w.BBox.Y1
		}
		d.BBox = geometry.BBox{X: w.BBox.X1, Y: w.BBox.Y1, Width: width, Height: height}

		if w.Center != nil {
			d.Center = geometry.Point{X: w.Center.X, Y: w.Center.Y}
		} else {
			d.Center = d.BBox.Center()
		}

		if w.Area != nil {
			d.Area = *w.Area
		} else {
			d.Area = d.BBox.Area()
		}

		out = append(out, d)
	}
	return out
}

// ByClass splits detections into per-class buckets.
func ByClass(dets []Detection) map[Class][]Detection {
	out := make(map[Class][]Detection)
	for _, d := range dets {
		out[d.Class] = append(out[d.Class], d)
	}
	return out
}

// CountByClass returns detection counts keyed by class name, used in the
// analysis summary.
func CountByClass(dets []Detection) map[string]int {
	out := make(map[string]int)
	for _, d := range dets {
		out[string(d.Class)]++
	}
	return out
}
