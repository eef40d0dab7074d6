// Package geometry provides the pixel-space primitives used by the analysis
// pipeline: points, axis-aligned bounding boxes, and containment tests for
// rectangular and polygonal regions.
package geometry

import "math"

// Point is a position in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the box.
func (b BBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Area returns the box area in square pixels.
func (b BBox) Area() float64 {
	return b.Width * b.Height
}

// Contains reports whether p lies inside the box, edges inclusive.
func (b BBox) Contains(p Point) bool {
	return p.X >= b.X && p.X <= b.X+b.Width &&
		p.Y >= b.Y && p.Y <= b.Y+b.Height
}

// IoU returns the intersection-over-union of two boxes in [0,1].
func (b BBox) IoU(o BBox) float64 {
	left := math.Max(b.X, o.X)
	top := math.Max(b.Y, o.Y)
	right := math.Min(b.X+b.Width, o.X+o.Width)
	bottom := math.Min(b.Y+b.Height, o.Y+o.Height)

	if right < left || bottom < top {
		return 0
	}

	inter := (right - left) * (bottom - top)
	union := b.Area() + o.Area() - inter
	if union == 0 {
		return 0
	}
	return inter / union
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// PointInPolygon reports whether p lies inside the polygon using the even-odd
// ray casting rule. Degenerate polygons with fewer than 3 vertices contain
// nothing.
func PointInPolygon(p Point, poly []Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	inside := false
	p1 := poly[0]
	for i := 1; i <= n; i++ {
		p2 := poly[i%n]
		if p.Y > math.Min(p1.Y, p2.Y) && p.Y <= math.Max(p1.Y, p2.Y) && p.X <= math.Max(p1.X, p2.X) {
			var xInters float64
			if p1.Y != p2.Y {
				xInters = (p.Y-p1.Y)*(p2.X-p1.X)/(p2.Y-p1.Y) + p1.X
			}
			if p1.X == p2.X || p.X <= xInters {
				inside = !inside
			}
		}
		p1 = p2
	}
	return inside
}

// RectToPolygon returns the four corners of a box as a closed polygon,
// clockwise from the top-left.
func RectToPolygon(b BBox) []Point {
	return []Point{
		{X: b.X, Y: b.Y},
		{X: b.X + b.Width, Y: b.Y},
		{X: b.X + b.Width, Y: b.Y + b.Height},
		{X: b.X, Y: b.Y + b.Height},
	}
}

// BoundingBox returns the smallest box enclosing all points. An empty slice
// yields the zero box.
func BoundingBox(points []Point) BBox {
	if len(points) == 0 {
		return BBox{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return BBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
