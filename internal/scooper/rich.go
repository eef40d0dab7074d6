package scooper

import (
	"math"

	"github.com/storewatch/backend/internal/detect"
	"github.com/storewatch/backend/internal/geometry"
)

const (
	// proximityGatePx rejects scoopers too far from the hand before any
	// sub-score is computed.
	proximityGatePx = 40.0

	// alignmentRewardPx is the distance inside which the directional and
	// temporal proximity scores earn full credit.
	alignmentRewardPx = 60.0

	// movementWindow and temporalWindow bound how far back the sub-scores
	// look in the frame history.
	movementWindow = 5
	temporalWindow = 10

	// graceWindow is how many recent frames a vanished scooper may still
	// be credited from, at graceFactor times the nearby threshold.
	graceWindow = 5
	graceFactor = 1.5

	// decisionThreshold is the combined score needed to call active use.
	decisionThreshold = 0.6
)

// Rich is the rich-evidence classifier: spatial, movement-sync and
// temporal-consistency sub-scores combined 0.4/0.4/0.2.
type Rich struct {
	T Thresholds
}

// NewRich creates the rich-evidence classifier.
func NewRich(t Thresholds) *Rich {
	return &Rich{T: t}
}

// Classify evaluates every scooper against the hand and keeps the
// maximum-confidence result. With no scooper in the current frame, a
// scooper seen in the last few buffered frames close enough to the hand
// still counts as use.
func (c *Rich) Classify(hand detect.Detection, scoopers []detect.Detection, history *FrameHistory) Verdict {
	closest := closestDistance(hand, scoopers)

	if len(scoopers) == 0 {
		if history != nil && c.recentFramesHaveScooper(hand, history) {
			return Verdict{
				Using:           true,
				Confidence:      0.5,
				ClosestDistance: closest,
				DecisionTier:    TierRecentGrace,
			}
		}
		return Verdict{Using: false, Confidence: 1, ClosestDistance: closest, DecisionTier: TierNoScooper}
	}

	best := Verdict{Using: false, Confidence: 0, ClosestDistance: closest, DecisionTier: TierNoScooper}
	for _, s := range scoopers {
		v := c.evaluate(hand, s, history)
		v.ClosestDistance = closest
		if v.Confidence > best.Confidence {
			best = v
		}
	}

	if !best.Using && closest <= c.T.NearbyMaxPx {
		best.DecisionTier = TierNearbyUnused
	}
	return best
}

// evaluate scores one hand/scooper pair.
func (c *Rich) evaluate(hand, scooper detect.Detection, history *FrameHistory) Verdict {
	dist := geometry.Distance(hand.Center, scooper.Center)
	if dist > proximityGatePx {
		return Verdict{Using: false, Confidence: 0, DecisionTier: TierNoScooper,
			Evidence: map[string]float64{"distance": dist}}
	}

	spatial := spatialScore(hand, scooper, dist)
	movement := movementSyncScore(hand, scooper, history)
	temporal := temporalConsistencyScore(hand, scooper, history)

	combined := spatial*0.4 + movement*0.4 + temporal*0.2
	return Verdict{
		Using:        combined >= decisionThreshold,
		Confidence:   combined,
		DecisionTier: TierRichEvidence,
		Evidence: map[string]float64{
			"distance":       dist,
			"spatial_score":  spatial,
			"movement_score": movement,
			"temporal_score": temporal,
			"combined_score": combined,
		},
	}
}

// recentFramesHaveScooper scans the last graceWindow buffered frames for
// a scooper within graceFactor times the nearby threshold of the hand's
// current center.
func (c *Rich) recentFramesHaveScooper(hand detect.Detection, history *FrameHistory) bool {
	limit := c.T.NearbyMaxPx * graceFactor
	for _, frame := range history.Recent(graceWindow) {
		for _, d := range frame.Detections {
			if d.Class != detect.ClassScooper {
				continue
			}
			if geometry.Distance(hand.Center, d.Center) <= limit {
				return true
			}
		}
	}
	return false
}

// spatialScore combines bbox overlap, directional alignment and size
// plausibility 0.5/0.3/0.2.
func spatialScore(hand, scooper detect.Detection, dist float64) float64 {
	iou := hand.BBox.IoU(scooper.BBox)
	alignment := alignmentScore(hand.Center, scooper.Center, dist)
	size := sizeRatioScore(hand, scooper)
	return 0.5*iou + 0.3*alignment + 0.2*size
}

// alignmentScore rewards a scooper sitting along a cardinal-ish extension
// of the hand, with extra credit for short distances.
func alignmentScore(hand, scooper geometry.Point, dist float64) float64 {
	angle := math.Atan2(scooper.Y-hand.Y, scooper.X-hand.X)

	// Deviation from the nearest cardinal direction, normalized so a
	// perfect diagonal scores 0.
	deg := math.Mod(math.Abs(angle)*180/math.Pi, 90)
	deviation := math.Min(deg, 90-deg)
	angleScore := 1 - deviation/45

	distScore := math.Max(0, 1-dist/alignmentRewardPx)
	return 0.6*angleScore + 0.4*distScore
}

// sizeRatioScore rates how plausible the scooper's area is relative to
// the hand's.
func sizeRatioScore(hand, scooper detect.Detection) float64 {
	if hand.Area <= 0 {
		return 0
	}
	ratio := scooper.Area / hand.Area
	switch {
	case ratio >= 0.20 && ratio <= 0.80:
		return 1.0
	case ratio >= 0.10 && ratio <= 1.20:
		return 0.7
	case ratio >= 0.05 && ratio <= 2.00:
		return 0.4
	default:
		return 0
	}
}

// movementSyncScore compares hand and scooper motion over the last few
// frames: cosine similarity of the motion vectors (0.7) plus magnitude
// similarity (0.3), averaged over consecutive pairs. Insufficient history
// is neutral.
func movementSyncScore(hand, scooper detect.Detection, history *FrameHistory) float64 {
	if history == nil {
		return 0.5
	}

	handPath := history.Track(detect.ClassHand, hand.Center, movementWindow)
	scooperPath := history.Track(detect.ClassScooper, scooper.Center, movementWindow)

	steps := len(handPath) - 1
	if len(scooperPath)-1 < steps {
		steps = len(scooperPath) - 1
	}
	if steps < 1 {
		return 0.5
	}

	// Align both paths on their most recent steps.
	handPath = handPath[len(handPath)-steps-1:]
	scooperPath = scooperPath[len(scooperPath)-steps-1:]

	var total float64
	for i := 0; i < steps; i++ {
		hv := vec(handPath[i], handPath[i+1])
		sv := vec(scooperPath[i], scooperPath[i+1])
		total += 0.7*cosineTo01(hv, sv) + 0.3*magnitudeSimilarity(hv, sv)
	}
	return total / float64(steps)
}

// temporalConsistencyScore rates how consistently the pair stayed close
// over the last temporalWindow frames: 0.7·mean + 0.3·(1 − variance) of
// per-frame proximity scores max(0, 1 − d/60).
func temporalConsistencyScore(hand, scooper detect.Detection, history *FrameHistory) float64 {
	if history == nil {
		return 0.5
	}

	handPath := history.Track(detect.ClassHand, hand.Center, temporalWindow)
	scooperPath := history.Track(detect.ClassScooper, scooper.Center, temporalWindow)

	n := len(handPath)
	if len(scooperPath) < n {
		n = len(scooperPath)
	}
	if n == 0 {
		return 0.5
	}

	handPath = handPath[len(handPath)-n:]
	scooperPath = scooperPath[len(scooperPath)-n:]

	scores := make([]float64, n)
	var mean float64
	for i := 0; i < n; i++ {
		d := geometry.Distance(handPath[i], scooperPath[i])
		scores[i] = math.Max(0, 1-d/alignmentRewardPx)
		mean += scores[i]
	}
	mean /= float64(n)

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(n)

	return 0.7*mean + 0.3*(1-variance)
}

func vec(from, to geometry.Point) geometry.Point {
	return geometry.Point{X: to.X - from.X, Y: to.Y - from.Y}
}

// cosineTo01 maps cosine similarity from [-1,1] to [0,1]. Two stationary
// objects count as fully synchronized.
func cosineTo01(a, b geometry.Point) float64 {
	ma := math.Hypot(a.X, a.Y)
	mb := math.Hypot(b.X, b.Y)
	if ma == 0 && mb == 0 {
		return 1
	}
	if ma == 0 || mb == 0 {
		return 0.5
	}
	cos := (a.X*b.X + a.Y*b.Y) / (ma * mb)
	return (cos + 1) / 2
}

// magnitudeSimilarity is the ratio of the smaller motion magnitude to the
// larger one.
func magnitudeSimilarity(a, b geometry.Point) float64 {
	ma := math.Hypot(a.X, a.Y)
	mb := math.Hypot(b.X, b.Y)
	if ma == 0 && mb == 0 {
		return 1
	}
	if math.Max(ma, mb) == 0 {
		return 0
	}
	return math.Min(ma, mb) / math.Max(ma, mb)
}
