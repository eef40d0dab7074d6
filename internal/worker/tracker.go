// Package worker tracks per-worker hand movement and classifies it into
// coarse actions. The classification is telemetry only; it never gates
// violation decisions.
package worker

import (
	"math"
	"time"

	"github.com/storewatch/backend/internal/geometry"
)

// ActionType labels a worker's current hand motion pattern.
type ActionType string

const (
	ActionCleaning ActionType = "cleaning"
	ActionGrabbing ActionType = "grabbing"
	ActionIdle     ActionType = "idle"
	ActionUnknown  ActionType = "unknown"
)

const (
	// maxPositions bounds the retained movement trail per worker.
	maxPositions = 20

	// classifyWindow is how many recent positions the classifier reads.
	classifyWindow = 5

	// pruneAfter removes workers not seen for this long.
	pruneAfter = 30 * time.Second
)

// Worker is one tracked worker's telemetry state.
type Worker struct {
	ID        int
	Positions []geometry.Point
	Action    ActionType
	LastSeen  time.Time
}

// Tracker maintains worker telemetry for one session. A single session
// worker owns it, so no locking.
type Tracker struct {
	workers map[int]*Worker
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{workers: make(map[int]*Worker), now: time.Now}
}

// Observe records a worker's hand position for the current frame and
// refreshes the action classification.
func (t *Tracker) Observe(workerID int, pos geometry.Point) *Worker {
	w, ok := t.workers[workerID]
	if !ok {
		w = &Worker{ID: workerID, Action: ActionUnknown}
		t.workers[workerID] = w
	}

	w.Positions = append(w.Positions, pos)
	if len(w.Positions) > maxPositions {
		w.Positions = w.Positions[len(w.Positions)-maxPositions:]
	}
	w.LastSeen = t.now()
	w.Action = classify(w.Positions)
	return w
}

// Prune drops workers not observed within pruneAfter.
func (t *Tracker) Prune() {
	cutoff := t.now().Add(-pruneAfter)
	for id, w := range t.workers {
		if w.LastSeen.Before(cutoff) {
			delete(t.workers, id)
		}
	}
}

// Count returns the number of currently tracked workers.
func (t *Tracker) Count() int { return len(t.workers) }

// Snapshot returns the tracked workers for statistics reporting.
func (t *Tracker) Snapshot() []Worker {
	out := make([]Worker, 0, len(t.workers))
	for _, w := range t.workers {
		out = append(out, *w)
	}
	return out
}

// classify maps a movement trail to an action over the last
// classifyWindow positions:
//   - cleaning: at least 2 direction reversals with moderate steps
//   - idle: barely moving
//   - grabbing: fast, mostly one-directional
func classify(positions []geometry.Point) ActionType {
	if len(positions) > classifyWindow {
		positions = positions[len(positions)-classifyWindow:]
	}
	if len(positions) < 2 {
		return ActionUnknown
	}

	var totalStep float64
	steps := make([]geometry.Point, 0, len(positions)-1)
	for i := 1; i < len(positions); i++ {
		dx := positions[i].X - positions[i-1].X
		dy := positions[i].Y - positions[i-1].Y
		steps = append(steps, geometry.Point{X: dx, Y: dy})
		totalStep += math.Hypot(dx, dy)
	}
	avgStep := totalStep / float64(len(steps))

	reversals := 0
	for i := 1; i < len(steps); i++ {
		// A reversal is a direction flip: negative dot product of
		// consecutive step vectors.
		if steps[i].X*steps[i-1].X+steps[i].Y*steps[i-1].Y < 0 {
			reversals++
		}
	}

	switch {
	case reversals >= 2 && avgStep >= 15 && avgStep <= 40:
		return ActionCleaning
	case avgStep < 8:
		return ActionIdle
	case avgStep > 12 && reversals <= 1:
		return ActionGrabbing
	default:
		return ActionUnknown
	}
}
