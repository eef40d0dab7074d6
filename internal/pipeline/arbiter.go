package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// cooldownMaxAge is how long a cooldown entry survives after its last
// write before the janitor drops it.
const cooldownMaxAge = 60 * time.Second

// Arbiter enforces the one-violation guarantees: at most one violation
// per open sequence, and at most one per key within the work-session
// cooldown window. A single session worker owns it, so the check-and-set
// in Reserve is naturally atomic.
type Arbiter struct {
	sequenceViolations  map[SequenceKey]string
	violationTimestamps map[SequenceKey]time.Time
	cooldown            time.Duration

	now func() time.Time
}

// NewArbiter creates an arbiter with the given work-session cooldown.
func NewArbiter(cooldown time.Duration) *Arbiter {
	return &Arbiter{
		sequenceViolations:  make(map[SequenceKey]string),
		violationTimestamps: make(map[SequenceKey]time.Time),
		cooldown:            cooldown,
	}
}

func (a *Arbiter) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

// Reserve attempts to claim a violation slot for the key. On success it
// returns a fresh violation id and records both the per-sequence claim
// and the cooldown timestamp in one step. It fails when the sequence
// already produced a violation or the key is inside its cooldown window.
func (a *Arbiter) Reserve(key SequenceKey) (string, bool) {
	if _, exists := a.sequenceViolations[key]; exists {
		return "", false
	}
	now := a.clock()
	if last, exists := a.violationTimestamps[key]; exists && now.Sub(last) < a.cooldown {
		return "", false
	}

	id := uuid.NewString()
	a.sequenceViolations[key] = id
	a.violationTimestamps[key] = now
	return id, true
}

// Release clears the per-sequence claim when a sequence closes. The
// cooldown timestamp deliberately survives until the janitor ages it
// out: a hand that exits and re-enters within the cooldown window is
// the same work session and must not produce a second violation.
func (a *Arbiter) Release(key SequenceKey) {
	delete(a.sequenceViolations, key)
}

// Expire drops cooldown entries older than cooldownMaxAge.
func (a *Arbiter) Expire() {
	cutoff := a.clock().Add(-cooldownMaxAge)
	for key, ts := range a.violationTimestamps {
		if ts.Before(cutoff) {
			delete(a.violationTimestamps, key)
		}
	}
}

// Reset drops all state, used on session shutdown.
func (a *Arbiter) Reset() {
	a.sequenceViolations = make(map[SequenceKey]string)
	a.violationTimestamps = make(map[SequenceKey]time.Time)
}

// CooldownEntries returns the live cooldown count, for statistics.
func (a *Arbiter) CooldownEntries() int { return len(a.violationTimestamps) }
