// Package pipeline is the per-frame stateful engine: it tracks hand
// entry-exit sequences per ROI, arbitrates violations with per-sequence
// and per-work-session deduplication, and orchestrates the per-session
// analysis loop.
package pipeline

import (
	"fmt"
	"time"

	"github.com/storewatch/backend/internal/geometry"
)

// HandIdentity is a best-effort cross-frame label for a hand, derived
// from its index in the frame and its associated worker. There is no
// real tracker behind it; detection order must be stable for it to
// correlate.
type HandIdentity string

// NewHandIdentity builds the identity label. workerID 0 means the hand
// could not be associated with any person.
func NewHandIdentity(handIndex, workerID int) HandIdentity {
	if workerID > 0 {
		return HandIdentity(fmt.Sprintf("hand_%d_worker_%d", handIndex, workerID))
	}
	return HandIdentity(fmt.Sprintf("hand_%d", handIndex))
}

// SequenceKey identifies one hand's presence inside one ROI.
type SequenceKey struct {
	Hand HandIdentity
	ROI  string
}

func (k SequenceKey) String() string {
	return string(k.Hand) + "|" + k.ROI
}

// Observation is one frame's worth of evidence inside a sequence.
type Observation struct {
	FrameID         string
	FrameNumber     int
	Timestamp       time.Time
	Position        geometry.Point
	UsingScooper    bool
	ScooperDistance float64
}

// Sequence is one uninterrupted presence of a hand inside an ROI, from
// entry to exit. Once closed it is immutable.
type Sequence struct {
	ID           string
	Key          SequenceKey
	WorkerID     int
	EntryFrameID string
	ExitFrameID  string
	EntryTime    time.Time
	ExitTime     time.Time
	Observations []Observation
	Closed       bool
}

// Duration returns the elapsed time from entry to the last observation
// (or exit once closed).
func (s *Sequence) Duration() time.Duration {
	if s.Closed {
		return s.ExitTime.Sub(s.EntryTime)
	}
	if n := len(s.Observations); n > 0 {
		return s.Observations[n-1].Timestamp.Sub(s.EntryTime)
	}
	return 0
}

// UsagePercent is the share of observed frames with the scooper in use.
func (s *Sequence) UsagePercent() float64 {
	if len(s.Observations) == 0 {
		return 0
	}
	using := 0
	for _, o := range s.Observations {
		if o.UsingScooper {
			using++
		}
	}
	return float64(using) / float64(len(s.Observations)) * 100
}

// UsedProperly reports whether usage met the required percentage. This
// is informational only; it never emits late violations.
func (s *Sequence) UsedProperly(requiredPercent float64) bool {
	return s.UsagePercent() >= requiredPercent
}

// lastObservation returns the most recent observation, if any.
func (s *Sequence) lastObservation() (Observation, bool) {
	if len(s.Observations) == 0 {
		return Observation{}, false
	}
	return s.Observations[len(s.Observations)-1], true
}
