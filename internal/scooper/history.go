// Package scooper decides, per hand per frame, whether the hand is
// actively using a scooper. Two classifiers exist: a simple distance-tier
// mode (default) and a rich-evidence mode combining spatial, movement and
// temporal sub-scores.
package scooper

import (
	"time"

	"github.com/storewatch/backend/internal/detect"
	"github.com/storewatch/backend/internal/geometry"
)

const (
	// historyCapacity bounds the per-session frame buffer.
	historyCapacity = 100

	// reIdentifyMaxPx is the nearest-match re-identification radius
	// between consecutive frames.
	reIdentifyMaxPx = 100
)

// FrameObservation holds one analyzed frame's detections. JPEG bytes are
// never retained here.
type FrameObservation struct {
	FrameID    string
	Timestamp  time.Time
	Detections []detect.Detection
}

// FrameHistory is a bounded per-session buffer of recent analyzed frames,
// newest last. A single session worker owns it, so no locking.
type FrameHistory struct {
	frames []FrameObservation
}

// NewFrameHistory returns an empty history.
func NewFrameHistory() *FrameHistory {
	return &FrameHistory{frames: make([]FrameObservation, 0, historyCapacity)}
}

// Push appends a frame, evicting the oldest past capacity.
func (h *FrameHistory) Push(obs FrameObservation) {
	h.frames = append(h.frames, obs)
	if len(h.frames) > historyCapacity {
		h.frames = h.frames[len(h.frames)-historyCapacity:]
	}
}

// Len returns the number of buffered frames.
func (h *FrameHistory) Len() int { return len(h.frames) }

// Recent returns up to n of the most recent frames, newest last.
func (h *FrameHistory) Recent(n int) []FrameObservation {
	if n >= len(h.frames) {
		return h.frames
	}
	return h.frames[len(h.frames)-n:]
}

// Track re-identifies an object of the given class backwards through the
// last maxFrames buffered frames, starting from its current center. The
// match in each step is the nearest same-class detection within
// reIdentifyMaxPx of the previous position. Returns centers in
// chronological order, current position last; the walk stops at the first
// frame with no match.
func (h *FrameHistory) Track(class detect.Class, current geometry.Point, maxFrames int) []geometry.Point {
	var reversed []geometry.Point
	reversed = append(reversed, current)

	pos := current
	frames := h.Recent(maxFrames)
	for i := len(frames) - 1; i >= 0; i-- {
		match, ok := nearestOfClass(frames[i].Detections, class, pos)
		if !ok || geometry.Distance(match.Center, pos) > reIdentifyMaxPx {
			break
		}
		reversed = append(reversed, match.Center)
		pos = match.Center
	}

	// Reverse into chronological order.
	out := make([]geometry.Point, len(reversed))
	for i, p := range reversed {
		out[len(reversed)-1-i] = p
	}
	return out
}

func nearestOfClass(dets []detect.Detection, class detect.Class, to geometry.Point) (detect.Detection, bool) {
	var best detect.Detection
	bestDist := -1.0
	for _, d := range dets {
		if d.Class != class {
			continue
		}
		dist := geometry.Distance(d.Center, to)
		if bestDist < 0 || dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return best, bestDist >= 0
}
