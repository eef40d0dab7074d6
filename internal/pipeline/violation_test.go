package pipeline

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/backend/internal/geometry"
)

func noScooperEvent() *ViolationEvent {
	return &ViolationEvent{
		ViolationID:  "v1",
		SessionID:    "session_1",
		SequenceID:   "seq_1",
		FrameID:      "frame_1",
		ROIName:      "sauce_station",
		HandIdentity: "hand_0",
		Type:         TypeNoScooper,
		Severity:     SeverityHigh,
		Confidence:   1,
		Evidence: Evidence{
			HandBBox:               geometry.BBox{X: 490, Y: 390, Width: 60, Height: 60},
			HandCenter:             geometry.Point{X: 520, Y: 420},
			ClosestScooperDistance: math.Inf(1),
			DecisionTier:           "no_scooper_detected",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestEvidenceEncodesInfiniteDistanceAsNull(t *testing.T) {
	payload, err := json.Marshal(noScooperEvent())
	require.NoError(t, err, "no-scooper events must serialize")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))

	evidence, ok := decoded["evidence"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, evidence["closest_scooper_distance"])
	assert.Equal(t, "no_scooper_detected", evidence["decision_tier"])
}

func TestEvidenceEncodesFiniteDistance(t *testing.T) {
	event := noScooperEvent()
	event.Evidence.ClosestScooperDistance = 56.57
	event.Evidence.Scores = map[string]float64{"distance": 56.57}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))

	evidence := decoded["evidence"].(map[string]any)
	assert.InDelta(t, 56.57, evidence["closest_scooper_distance"], 0.01)
	assert.Contains(t, evidence, "scores")
}
