// Package roi models the monitored regions of interest and the client
// for the external ROI manager service.
package roi

import (
	"github.com/storewatch/backend/internal/geometry"
)

// Shape discriminates how an ROI's geometry was authored.
type Shape string

const (
	ShapePolygon   Shape = "polygon"
	ShapeRectangle Shape = "rectangle"
)

// ROI is a named region that hands are tracked against. Rectangle ROIs
// are normalized to their polygon form at decode time so containment has
// a single code path.
type ROI struct {
	Name            string           `json:"name"`
	Shape           Shape            `json:"shape"`
	Polygon         []geometry.Point `json:"polygon"`
	RequiresScooper bool             `json:"requires_scooper"`
	IngredientType  string           `json:"ingredient_type,omitempty"`
}

// Contains reports whether the point lies inside the region.
func (r ROI) Contains(p geometry.Point) bool {
	return geometry.PointInPolygon(p, r.Polygon)
}

// Bounds returns the ROI's axis-aligned bounding box, used when drawing
// the region outline on annotated frames.
func (r ROI) Bounds() geometry.BBox {
	return geometry.BoundingBox(r.Polygon)
}

// Set is an immutable snapshot of the ROI configuration at a point in
// time. The pipeline evaluates a whole frame against one snapshot.
type Set struct {
	ROIs []ROI
}

// Lookup returns the named ROI, if present.
func (s *Set) Lookup(name string) (ROI, bool) {
	for _, r := range s.ROIs {
		if r.Name == name {
			return r, true
		}
	}
	return ROI{}, false
}

// ContainingPoint returns every ROI that contains the point. A hand can
// sit inside overlapping regions and each one tracks its own sequence.
func (s *Set) ContainingPoint(p geometry.Point) []ROI {
	var out []ROI
	for _, r := range s.ROIs {
		if r.Contains(p) {
			out = append(out, r)
		}
	}
	return out
}
