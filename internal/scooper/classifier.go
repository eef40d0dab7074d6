package scooper

import (
	"math"

	"github.com/storewatch/backend/internal/detect"
	"github.com/storewatch/backend/internal/geometry"
)

// Decision tiers recorded in violation evidence.
const (
	TierActive       = "tier1_strict"
	TierNearby       = "tier2_fallback"
	TierRichEvidence = "rich_evidence"
	TierRecentGrace  = "recent_frames_grace"
	TierNearbyUnused = "scooper_nearby_but_not_used"
	TierNoScooper    = "no_scooper_detected"
)

// Verdict is the classifier's per-hand answer.
type Verdict struct {
	Using           bool
	Confidence      float64
	ClosestDistance float64 // +Inf when no scooper was seen
	DecisionTier    string
	Evidence        map[string]float64
}

// Classifier decides whether a hand is actively using a scooper.
type Classifier interface {
	Classify(hand detect.Detection, scoopers []detect.Detection, history *FrameHistory) Verdict
}

// Thresholds carries the distance tiers shared by both classifier modes.
type Thresholds struct {
	ActiveMaxPx         float64
	NearbyMaxPx         float64
	AllowNearbyFallback bool
}

// closestDistance returns the minimum center-to-center distance from the
// hand to any scooper, +Inf when there are none.
func closestDistance(hand detect.Detection, scoopers []detect.Detection) float64 {
	closest := math.Inf(1)
	for _, s := range scoopers {
		if d := geometry.Distance(hand.Center, s.Center); d < closest {
			closest = d
		}
	}
	return closest
}

// Simple is the default distance-tier classifier.
type Simple struct {
	T Thresholds
}

// NewSimple creates the simple tiered classifier.
func NewSimple(t Thresholds) *Simple {
	return &Simple{T: t}
}

// Classify applies the distance tiers: active within ActiveMaxPx, nearby
// within NearbyMaxPx when the fallback is allowed, otherwise not using.
func (c *Simple) Classify(hand detect.Detection, scoopers []detect.Detection, _ *FrameHistory) Verdict {
	closest := closestDistance(hand, scoopers)

	switch {
	case math.IsInf(closest, 1):
		return Verdict{Using: false, Confidence: 1, ClosestDistance: closest, DecisionTier: TierNoScooper}
	case closest <= c.T.ActiveMaxPx:
		return Verdict{Using: true, Confidence: 1, ClosestDistance: closest, DecisionTier: TierActive}
	case closest <= c.T.NearbyMaxPx:
		if c.T.AllowNearbyFallback {
			return Verdict{Using: true, Confidence: 0.7, ClosestDistance: closest, DecisionTier: TierNearby}
		}
		// The nearby-but-unused tier is rich-mode vocabulary; with the
		// fallback disabled the simple mode treats this as no scooper.
		return Verdict{Using: false, Confidence: 0.7, ClosestDistance: closest, DecisionTier: TierNoScooper}
	default:
		return Verdict{Using: false, Confidence: 1, ClosestDistance: closest, DecisionTier: TierNoScooper}
	}
}
