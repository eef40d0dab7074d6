package pipeline

import (
	"encoding/json"
	"math"
	"time"

	"github.com/storewatch/backend/internal/geometry"
)

// Violation types and severities.
const (
	TypeNoScooper    = "no_scooper_detected"
	TypeNearbyUnused = "scooper_nearby_but_not_used"

	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Evidence is the observability record attached to a violation.
// ClosestScooperDistance is +Inf when no scooper was seen at all.
type Evidence struct {
	HandBBox               geometry.BBox      `json:"hand_bbox"`
	HandCenter             geometry.Point     `json:"hand_center"`
	ROIBounds              geometry.BBox      `json:"roi_bounds"`
	ClosestScooperDistance float64            `json:"closest_scooper_distance"`
	DecisionTier           string             `json:"decision_tier"`
	Scores                 map[string]float64 `json:"scores,omitempty"`
}

// MarshalJSON encodes the no-scooper +Inf sentinel as null, since JSON
// cannot carry infinities. Finite distances pass through unchanged.
func (e Evidence) MarshalJSON() ([]byte, error) {
	type wire struct {
		HandBBox               geometry.BBox      `json:"hand_bbox"`
		HandCenter             geometry.Point     `json:"hand_center"`
		ROIBounds              geometry.BBox      `json:"roi_bounds"`
		ClosestScooperDistance *float64           `json:"closest_scooper_distance"`
		DecisionTier           string             `json:"decision_tier"`
		Scores                 map[string]float64 `json:"scores,omitempty"`
	}
	w := wire{
		HandBBox:     e.HandBBox,
		HandCenter:   e.HandCenter,
		ROIBounds:    e.ROIBounds,
		DecisionTier: e.DecisionTier,
		Scores:       e.Scores,
	}
	if !math.IsInf(e.ClosestScooperDistance, 0) {
		d := e.ClosestScooperDistance
		w.ClosestScooperDistance = &d
	}
	return json.Marshal(w)
}

// ViolationEvent is one emitted violation, bound to exactly one work
// session. FrameID is always the sequence's entry frame.
type ViolationEvent struct {
	ViolationID     string       `json:"violation_id"`
	SessionID       string       `json:"session_id"`
	SequenceKey     SequenceKey  `json:"-"`
	SequenceID      string       `json:"sequence_id"`
	FrameID         string       `json:"frame_id"`
	FrameNumber     int          `json:"frame_number"`
	ROIName         string       `json:"roi_name"`
	HandIdentity    HandIdentity `json:"hand_identity"`
	WorkerID        int          `json:"worker_id,omitempty"`
	Type            string       `json:"violation_type"`
	Severity        string       `json:"severity"`
	Confidence      float64      `json:"confidence"`
	Description     string       `json:"description"`
	Evidence        Evidence     `json:"evidence"`
	MovementPattern string       `json:"movement_pattern,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`

	// FrameJPEG carries the raw entry-frame bytes to the persistence
	// sink. Never serialized with the event itself.
	FrameJPEG []byte `json:"-"`
	// ROIPolygon lets the annotator draw the region outline.
	ROIPolygon []geometry.Point `json:"-"`
}
