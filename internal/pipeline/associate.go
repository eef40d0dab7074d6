package pipeline

import (
	"github.com/storewatch/backend/internal/detect"
	"github.com/storewatch/backend/internal/geometry"
)

// HandAssociation binds a hand detection to its best-guess worker.
// WorkerID is a 1-based index over the frame's person detections, 0 when
// no person is close enough. Ids are not stable across frames.
type HandAssociation struct {
	Index    int
	Hand     detect.Detection
	WorkerID int
	Identity HandIdentity
}

// AssociateWorkers assigns each hand to the nearest person within maxPx.
func AssociateWorkers(hands, persons []detect.Detection, maxPx float64) []HandAssociation {
	out := make([]HandAssociation, 0, len(hands))
	for i, hand := range hands {
		workerID := 0
		best := -1.0
		for j, person := range persons {
			d := geometry.Distance(hand.Center, person.Center)
			if d > maxPx {
				continue
			}
			if best < 0 || d < best {
				best = d
				workerID = j + 1
			}
		}
		out = append(out, HandAssociation{
			Index:    i,
			Hand:     hand,
			WorkerID: workerID,
			Identity: NewHandIdentity(i, workerID),
		})
	}
	return out
}
