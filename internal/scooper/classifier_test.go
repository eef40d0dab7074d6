package scooper

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/backend/internal/detect"
	"github.com/storewatch/backend/internal/geometry"
)

func defaultThresholds() Thresholds {
	return Thresholds{ActiveMaxPx: 50, NearbyMaxPx: 100, AllowNearbyFallback: true}
}

func handAt(x, y float64) detect.Detection {
	return detect.Detection{
		Class:  detect.ClassHand,
		BBox:   geometry.BBox{X: x - 30, Y: y - 30, Width: 60, Height: 60},
		Center: geometry.Point{X: x, Y: y},
		Area:   3600,
	}
}

func scooperAt(x, y float64) detect.Detection {
	return detect.Detection{
		Class:  detect.ClassScooper,
		BBox:   geometry.BBox{X: x - 20, Y: y - 10, Width: 40, Height: 20},
		Center: geometry.Point{X: x, Y: y},
		Area:   800,
	}
}

func TestSimpleTiers(t *testing.T) {
	c := NewSimple(defaultThresholds())
	hand := handAt(520, 420)

	tests := []struct {
		name     string
		scoopers []detect.Detection
		using    bool
		tier     string
	}{
		{"no scoopers", nil, false, TierNoScooper},
		{"active within 50px", []detect.Detection{scooperAt(530, 430)}, true, TierActive},
		{"nearby fallback", []detect.Detection{scooperAt(560, 460)}, true, TierNearby},
		{"beyond nearby", []detect.Detection{scooperAt(700, 600)}, false, TierNoScooper},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(hand, tt.scoopers, nil)
			assert.Equal(t, tt.using, v.Using)
			assert.Equal(t, tt.tier, v.DecisionTier)
		})
	}
}

func TestSimpleNoScoopersInfiniteDistance(t *testing.T) {
	c := NewSimple(defaultThresholds())
	v := c.Classify(handAt(100, 100), nil, nil)
	assert.True(t, math.IsInf(v.ClosestDistance, 1))
}

func TestSimpleFallbackDisabled(t *testing.T) {
	th := defaultThresholds()
	th.AllowNearbyFallback = false
	c := NewSimple(th)

	// Scooper at ~57px: nearby tier, but the fallback is off.
	v := c.Classify(handAt(520, 420), []detect.Detection{scooperAt(560, 460)}, nil)
	assert.False(t, v.Using)
	assert.Equal(t, TierNoScooper, v.DecisionTier)
	assert.InDelta(t, 56.57, v.ClosestDistance, 0.1)
}

func TestSimpleMultipleScoopersUsesClosest(t *testing.T) {
	c := NewSimple(defaultThresholds())
	v := c.Classify(handAt(520, 420), []detect.Detection{
		scooperAt(700, 600),
		scooperAt(530, 430),
	}, nil)
	assert.True(t, v.Using)
	assert.Equal(t, TierActive, v.DecisionTier)
	assert.InDelta(t, 14.14, v.ClosestDistance, 0.1)
}

func TestRichProximityGate(t *testing.T) {
	c := NewRich(defaultThresholds())

	// Scooper at ~57px: past the 40px gate, inside the nearby band.
	v := c.Classify(handAt(520, 420), []detect.Detection{scooperAt(560, 460)}, NewFrameHistory())
	assert.False(t, v.Using)
	assert.Equal(t, TierNearbyUnused, v.DecisionTier)
}

func TestRichOverlappingScooper(t *testing.T) {
	c := NewRich(defaultThresholds())
	history := NewFrameHistory()

	hand := handAt(520, 420)
	scooper := scooperAt(525, 425) // ~7px away, heavy bbox overlap

	// Build synchronized motion history so movement sync scores high.
	for i := 0; i < 6; i++ {
		dx := float64(i * 10)
		history.Push(FrameObservation{
			FrameID:   "f",
			Timestamp: time.Now(),
			Detections: []detect.Detection{
				handAt(460+dx, 420),
				scooperAt(465+dx, 425),
			},
		})
	}

	v := c.Classify(hand, []detect.Detection{scooper}, history)
	assert.True(t, v.Using)
	assert.Equal(t, TierRichEvidence, v.DecisionTier)
	assert.GreaterOrEqual(t, v.Confidence, decisionThreshold)
	require.NotNil(t, v.Evidence)
	assert.Contains(t, v.Evidence, "spatial_score")
	assert.Contains(t, v.Evidence, "movement_score")
	assert.Contains(t, v.Evidence, "temporal_score")
}

func TestRichNoHistoryIsNeutral(t *testing.T) {
	hand := handAt(520, 420)
	scooper := scooperAt(525, 425)

	assert.Equal(t, 0.5, movementSyncScore(hand, scooper, NewFrameHistory()))
}

func TestRichRecentFramesGrace(t *testing.T) {
	c := NewRich(defaultThresholds())
	history := NewFrameHistory()

	// Scooper visible two frames ago near the hand, gone now.
	history.Push(FrameObservation{Detections: []detect.Detection{scooperAt(540, 440)}})
	history.Push(FrameObservation{Detections: []detect.Detection{}})

	v := c.Classify(handAt(520, 420), nil, history)
	assert.True(t, v.Using)
	assert.Equal(t, TierRecentGrace, v.DecisionTier)
	assert.True(t, math.IsInf(v.ClosestDistance, 1))
}

func TestRichRecentFramesGraceOutOfRange(t *testing.T) {
	c := NewRich(defaultThresholds())
	history := NewFrameHistory()

	// Scooper seen recently but far beyond 1.5x the nearby threshold.
	history.Push(FrameObservation{Detections: []detect.Detection{scooperAt(900, 900)}})

	v := c.Classify(handAt(520, 420), nil, history)
	assert.False(t, v.Using)
	assert.Equal(t, TierNoScooper, v.DecisionTier)
}

func TestSizeRatioScore(t *testing.T) {
	hand := handAt(0, 0) // area 3600

	mk := func(area float64) detect.Detection {
		d := scooperAt(0, 0)
		d.Area = area
		return d
	}

	assert.Equal(t, 1.0, sizeRatioScore(hand, mk(1800)))  // 50%
	assert.Equal(t, 0.7, sizeRatioScore(hand, mk(400)))   // ~11%
	assert.Equal(t, 0.4, sizeRatioScore(hand, mk(7000)))  // ~194%
	assert.Equal(t, 0.0, sizeRatioScore(hand, mk(10000))) // ~278%
}

func TestFrameHistoryBounded(t *testing.T) {
	h := NewFrameHistory()
	for i := 0; i < historyCapacity+20; i++ {
		h.Push(FrameObservation{FrameID: "f"})
	}
	assert.Equal(t, historyCapacity, h.Len())
}

func TestTrackStopsWhenReIdentificationBreaks(t *testing.T) {
	h := NewFrameHistory()

	// Continuous path, then a jump beyond the re-id radius.
	h.Push(FrameObservation{Detections: []detect.Detection{handAt(1000, 1000)}})
	h.Push(FrameObservation{Detections: []detect.Detection{handAt(100, 100)}})
	h.Push(FrameObservation{Detections: []detect.Detection{handAt(110, 100)}})

	path := h.Track(detect.ClassHand, geometry.Point{X: 120, Y: 100}, 5)
	require.Len(t, path, 3) // current + two matched frames, jump excluded
	assert.Equal(t, geometry.Point{X: 100, Y: 100}, path[0])
	assert.Equal(t, geometry.Point{X: 120, Y: 100}, path[2])
}
