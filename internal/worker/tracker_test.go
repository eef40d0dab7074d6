package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/backend/internal/geometry"
)

func TestClassifyIdle(t *testing.T) {
	positions := []geometry.Point{
		{X: 100, Y: 100}, {X: 102, Y: 100}, {X: 101, Y: 101}, {X: 103, Y: 100}, {X: 102, Y: 101},
	}
	assert.Equal(t, ActionIdle, classify(positions))
}

func TestClassifyGrabbing(t *testing.T) {
	// Fast, one-directional movement.
	positions := []geometry.Point{
		{X: 100, Y: 100}, {X: 130, Y: 100}, {X: 160, Y: 100}, {X: 190, Y: 100}, {X: 220, Y: 100},
	}
	assert.Equal(t, ActionGrabbing, classify(positions))
}

func TestClassifyCleaning(t *testing.T) {
	// Back-and-forth wiping with moderate steps.
	positions := []geometry.Point{
		{X: 100, Y: 100}, {X: 125, Y: 100}, {X: 100, Y: 100}, {X: 125, Y: 100}, {X: 100, Y: 100},
	}
	assert.Equal(t, ActionCleaning, classify(positions))
}

func TestClassifyNeedsTwoPositions(t *testing.T) {
	assert.Equal(t, ActionUnknown, classify([]geometry.Point{{X: 1, Y: 1}}))
	assert.Equal(t, ActionUnknown, classify(nil))
}

func TestObserveBoundsTrail(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < maxPositions+10; i++ {
		tr.Observe(1, geometry.Point{X: float64(i), Y: 0})
	}
	w := tr.workers[1]
	require.NotNil(t, w)
	assert.Len(t, w.Positions, maxPositions)
}

func TestPruneStaleWorkers(t *testing.T) {
	tr := NewTracker()
	base := time.Now()
	tr.now = func() time.Time { return base }

	tr.Observe(1, geometry.Point{X: 10, Y: 10})
	tr.Observe(2, geometry.Point{X: 20, Y: 20})
	require.Equal(t, 2, tr.Count())

	// Worker 2 keeps moving; worker 1 goes stale.
	tr.now = func() time.Time { return base.Add(pruneAfter / 2) }
	tr.Observe(2, geometry.Point{X: 21, Y: 20})

	tr.now = func() time.Time { return base.Add(pruneAfter + time.Second) }
	tr.Prune()

	assert.Equal(t, 1, tr.Count())
	snapshot := tr.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, 2, snapshot[0].ID)
}
