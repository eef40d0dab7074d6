package pipeline

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// completedRingSize bounds the retained completed-sequence history.
const completedRingSize = 50

// Tracker maintains the active and completed ROI sequences for one
// session. A single session worker owns it, so no locking.
type Tracker struct {
	active    map[SequenceKey]*Sequence
	completed []*Sequence
	staleness time.Duration

	now func() time.Time
}

// NewTracker creates a sequence tracker with the given staleness budget.
func NewTracker(staleness time.Duration) *Tracker {
	return &Tracker{
		active:    make(map[SequenceKey]*Sequence),
		staleness: staleness,
		now:       time.Now,
	}
}

// Observe records that the hand was inside the ROI this frame. It opens
// a new sequence on first sight and extends an existing one otherwise.
// A duplicate frame_id never extends twice and never re-opens: the
// second submission is a no-op on sequence state.
func (t *Tracker) Observe(key SequenceKey, workerID int, obs Observation) (*Sequence, bool) {
	if seq, ok := t.active[key]; ok {
		if last, ok := seq.lastObservation(); ok && last.FrameID == obs.FrameID {
			return seq, false
		}
		seq.Observations = append(seq.Observations, obs)
		return seq, false
	}

	seq := &Sequence{
		ID:           uuid.NewString(),
		Key:          key,
		WorkerID:     workerID,
		EntryFrameID: obs.FrameID,
		EntryTime:    obs.Timestamp,
		Observations: []Observation{obs},
	}
	t.active[key] = seq
	return seq, true
}

// CloseAbsent closes every active sequence whose key was not observed in
// the current frame. The exiting frame becomes the exit frame. Returns
// the closed sequences.
func (t *Tracker) CloseAbsent(seen map[SequenceKey]bool, frameID string, ts time.Time) []*Sequence {
	var closed []*Sequence
	for key, seq := range t.active {
		if seen[key] {
			continue
		}
		t.close(seq, frameID, ts)
		closed = append(closed, seq)
	}
	return closed
}

// ForceCloseStale closes sequences that have not been extended within
// the staleness budget. No violations are ever emitted from this path;
// it only prevents leaks when hands disappear mid-sequence.
func (t *Tracker) ForceCloseStale() []*Sequence {
	now := t.now()
	var closed []*Sequence
	for _, seq := range t.active {
		last, ok := seq.lastObservation()
		if !ok {
			continue
		}
		if now.Sub(last.Timestamp) > t.staleness {
			slog.Warn("[SequenceTracker] Force-closing stale sequence",
				"key", seq.Key.String(), "idle", now.Sub(last.Timestamp).Round(time.Second))
			t.close(seq, last.FrameID, last.Timestamp)
			closed = append(closed, seq)
		}
	}
	return closed
}

// CloseAll force-closes everything, used on session shutdown.
func (t *Tracker) CloseAll() []*Sequence {
	var closed []*Sequence
	for _, seq := range t.active {
		last, _ := seq.lastObservation()
		t.close(seq, last.FrameID, last.Timestamp)
		closed = append(closed, seq)
	}
	return closed
}

func (t *Tracker) close(seq *Sequence, frameID string, ts time.Time) {
	seq.ExitFrameID = frameID
	seq.ExitTime = ts
	seq.Closed = true
	delete(t.active, seq.Key)

	t.completed = append(t.completed, seq)
	if len(t.completed) > completedRingSize {
		t.completed = t.completed[len(t.completed)-completedRingSize:]
	}
}

// ActiveCount returns the number of open sequences.
func (t *Tracker) ActiveCount() int { return len(t.active) }

// Completed returns the bounded completed-sequence history, oldest first.
func (t *Tracker) Completed() []*Sequence { return t.completed }
