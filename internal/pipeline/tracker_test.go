package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/backend/internal/geometry"
)

func obsAt(frameID string, ts time.Time) Observation {
	return Observation{
		FrameID:   frameID,
		Timestamp: ts,
		Position:  geometry.Point{X: 520, Y: 420},
	}
}

func TestObserveOpensThenExtends(t *testing.T) {
	tr := NewTracker(30 * time.Second)
	key := SequenceKey{Hand: "hand_0_worker_1", ROI: "sauce_station"}
	base := time.Now()

	seq, opened := tr.Observe(key, 1, obsAt("frame_1", base))
	require.True(t, opened)
	assert.Equal(t, "frame_1", seq.EntryFrameID)
	assert.NotEmpty(t, seq.ID)

	seq2, opened := tr.Observe(key, 1, obsAt("frame_2", base.Add(100*time.Millisecond)))
	assert.False(t, opened)
	assert.Same(t, seq, seq2)
	assert.Len(t, seq.Observations, 2)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestObserveDuplicateFrameIsNoOp(t *testing.T) {
	tr := NewTracker(30 * time.Second)
	key := SequenceKey{Hand: "hand_0", ROI: "sauce_station"}
	base := time.Now()

	seq, opened := tr.Observe(key, 0, obsAt("frame_1", base))
	require.True(t, opened)

	_, opened = tr.Observe(key, 0, obsAt("frame_1", base))
	assert.False(t, opened)
	assert.Len(t, seq.Observations, 1)
}

func TestCloseAbsent(t *testing.T) {
	tr := NewTracker(30 * time.Second)
	keyA := SequenceKey{Hand: "hand_0", ROI: "a"}
	keyB := SequenceKey{Hand: "hand_1", ROI: "b"}
	base := time.Now()

	tr.Observe(keyA, 0, obsAt("frame_1", base))
	tr.Observe(keyB, 0, obsAt("frame_1", base))

	closed := tr.CloseAbsent(map[SequenceKey]bool{keyA: true}, "frame_2", base.Add(time.Second))
	require.Len(t, closed, 1)
	assert.Equal(t, keyB, closed[0].Key)
	assert.True(t, closed[0].Closed)
	assert.Equal(t, "frame_2", closed[0].ExitFrameID)
	assert.Equal(t, 1, tr.ActiveCount())
	assert.Len(t, tr.Completed(), 1)
}

func TestForceCloseStale(t *testing.T) {
	tr := NewTracker(30 * time.Second)
	key := SequenceKey{Hand: "hand_0", ROI: "a"}
	base := time.Now()
	tr.now = func() time.Time { return base }

	tr.Observe(key, 0, obsAt("frame_1", base))

	tr.now = func() time.Time { return base.Add(10 * time.Second) }
	assert.Empty(t, tr.ForceCloseStale())

	tr.now = func() time.Time { return base.Add(31 * time.Second) }
	closed := tr.ForceCloseStale()
	require.Len(t, closed, 1)
	assert.Equal(t, "frame_1", closed[0].ExitFrameID)
	assert.Zero(t, tr.ActiveCount())
}

func TestCompletedRingBounded(t *testing.T) {
	tr := NewTracker(30 * time.Second)
	base := time.Now()

	for i := 0; i < completedRingSize+15; i++ {
		key := SequenceKey{Hand: HandIdentity(fmt.Sprintf("hand_%d", i)), ROI: "a"}
		tr.Observe(key, 0, obsAt("frame_1", base))
		tr.CloseAbsent(nil, "frame_2", base.Add(time.Second))
	}
	assert.Len(t, tr.Completed(), completedRingSize)
}

func TestSequenceDerivedValues(t *testing.T) {
	base := time.Now()
	seq := &Sequence{
		EntryTime: base,
		Observations: []Observation{
			{FrameID: "f1", Timestamp: base, UsingScooper: true},
			{FrameID: "f2", Timestamp: base.Add(time.Second), UsingScooper: true},
			{FrameID: "f3", Timestamp: base.Add(2 * time.Second), UsingScooper: true},
			{FrameID: "f4", Timestamp: base.Add(3 * time.Second), UsingScooper: false},
		},
	}

	assert.Equal(t, 75.0, seq.UsagePercent())
	assert.True(t, seq.UsedProperly(70))
	assert.False(t, seq.UsedProperly(80))
	assert.Equal(t, 3*time.Second, seq.Duration())

	seq.Closed = true
	seq.ExitTime = base.Add(5 * time.Second)
	assert.Equal(t, 5*time.Second, seq.Duration())
}
