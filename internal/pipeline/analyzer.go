package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storewatch/backend/internal/detect"
	"github.com/storewatch/backend/internal/metrics"
	"github.com/storewatch/backend/internal/roi"
	"github.com/storewatch/backend/internal/scooper"
	"github.com/storewatch/backend/internal/worker"
)

// ErrPersistenceFatal marks an irrecoverable persistence failure after
// retry exhaustion. The affected session halts; others continue.
var ErrPersistenceFatal = errors.New("violation persistence failed irrecoverably")

// Detector is the object detector dependency.
type Detector interface {
	Detect(ctx context.Context, req detect.Request) (*detect.Response, error)
}

// ROISource supplies the current ROI snapshot.
type ROISource interface {
	Current(ctx context.Context) (*roi.Set, error)
}

// Sink receives emitted violations for annotation, persistence and
// publication. A return wrapping ErrPersistenceFatal halts the session.
type Sink interface {
	Handle(ctx context.Context, event *ViolationEvent) error
}

// Frame is one ingested frame to analyze.
type Frame struct {
	FrameID     string
	SessionID   string
	Timestamp   time.Time
	JPEG        []byte
	FrameNumber int
	SourceInfo  map[string]any
}

// FrameResult summarizes one analyzed frame.
type FrameResult struct {
	FrameID         string         `json:"frame_id"`
	Skipped         bool           `json:"skipped,omitempty"`
	DetectionCounts map[string]int `json:"detections"`
	ViolationsFound int            `json:"violations_found"`
	WorkersTracked  int            `json:"workers_tracked"`
}

// Config carries the policy knobs the analyzer needs.
type Config struct {
	Staleness            time.Duration
	Cooldown             time.Duration
	AssocMaxPx           float64
	UsageRequiredPercent float64
}

// Analyzer holds all mutable analysis state for one session. It is owned
// by a single session worker goroutine; none of its state is shared.
type Analyzer struct {
	sessionID  string
	detector   Detector
	rois       ROISource
	classifier scooper.Classifier
	sink       Sink
	metrics    *metrics.Metrics

	cfg     Config
	tracker *Tracker
	arbiter *Arbiter
	history *scooper.FrameHistory
	workers *worker.Tracker
}

// NewAnalyzer creates the per-session analysis engine.
func NewAnalyzer(sessionID string, detector Detector, rois ROISource, classifier scooper.Classifier, sink Sink, m *metrics.Metrics, cfg Config) *Analyzer {
	return &Analyzer{
		sessionID:  sessionID,
		detector:   detector,
		rois:       rois,
		classifier: classifier,
		sink:       sink,
		metrics:    m,
		cfg:        cfg,
		tracker:    NewTracker(cfg.Staleness),
		arbiter:    NewArbiter(cfg.Cooldown),
		history:    scooper.NewFrameHistory(),
		workers:    worker.NewTracker(),
	}
}

// ProcessFrame runs one frame through the pipeline: fetch detections and
// ROIs concurrently, classify scooper usage per hand, advance sequences,
// arbitrate, and hand any violation to the sink. A detector failure
// degrades to an empty detection list; an ROI failure skips the frame.
func (a *Analyzer) ProcessFrame(ctx context.Context, frame Frame) (*FrameResult, error) {
	var (
		wg      sync.WaitGroup
		dets    []detect.Detection
		roiSet  *roi.Set
		detErr  error
		roiErr  error
		started = time.Now()
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		resp, err := a.detector.Detect(ctx, detect.Request{
			FrameID:    frame.FrameID,
			FrameData:  base64.StdEncoding.EncodeToString(frame.JPEG),
			Timestamp:  float64(frame.Timestamp.UnixMilli()) / 1000,
			SourceInfo: frame.SourceInfo,
		})
		if err != nil {
			detErr = err
			return
		}
		dets = resp.Detections
	}()
	go func() {
		defer wg.Done()
		roiSet, roiErr = a.rois.Current(ctx)
	}()
	wg.Wait()

	if a.metrics != nil {
		a.metrics.DetectorLatency.Observe(time.Since(started).Seconds())
	}

	if roiErr != nil {
		slog.Warn("[Analyzer] Skipping frame, no ROI snapshot",
			"session_id", a.sessionID, "frame_id", frame.FrameID, "error", roiErr)
		if a.metrics != nil {
			a.metrics.FramesSkipped.Inc()
		}
		return &FrameResult{FrameID: frame.FrameID, Skipped: true}, nil
	}
	if detErr != nil {
		// Empty detections produce zero violations, never false ones.
		slog.Warn("[Analyzer] Detector failed, treating frame as empty",
			"session_id", a.sessionID, "frame_id", frame.FrameID, "error", detErr)
		dets = nil
	}

	byClass := detect.ByClass(dets)
	hands := byClass[detect.ClassHand]
	scoopers := byClass[detect.ClassScooper]
	persons := byClass[detect.ClassPerson]

	associations := AssociateWorkers(hands, persons, a.cfg.AssocMaxPx)
	for _, assoc := range associations {
		if assoc.WorkerID > 0 {
			a.workers.Observe(assoc.WorkerID, assoc.Hand.Center)
		}
	}
	a.workers.Prune()

	result := &FrameResult{
		FrameID:         frame.FrameID,
		DetectionCounts: detect.CountByClass(dets),
		WorkersTracked:  a.workers.Count(),
	}

	seen := make(map[SequenceKey]bool)
	for _, assoc := range associations {
		verdict := a.classifier.Classify(assoc.Hand, scoopers, a.history)

		for _, region := range roiSet.ContainingPoint(assoc.Hand.Center) {
			key := SequenceKey{Hand: assoc.Identity, ROI: region.Name}
			seen[key] = true

			obs := Observation{
				FrameID:         frame.FrameID,
				FrameNumber:     frame.FrameNumber,
				Timestamp:       frame.Timestamp,
				Position:        assoc.Hand.Center,
				UsingScooper:    verdict.Using,
				ScooperDistance: verdict.ClosestDistance,
			}
			seq, opened := a.tracker.Observe(key, assoc.WorkerID, obs)
			if !opened {
				continue
			}

			// Violations are evaluated at sequence entry only.
			if verdict.Using || !region.RequiresScooper {
				continue
			}
			if err := a.emit(ctx, frame, assoc, region, seq, verdict, result); err != nil {
				return result, err
			}
		}
	}

	// Buffer this frame only after classification: the history must hold
	// prior frames, or the cross-frame scores would match the current
	// detections against themselves.
	a.history.Push(scooper.FrameObservation{
		FrameID:    frame.FrameID,
		Timestamp:  frame.Timestamp,
		Detections: dets,
	})

	for _, seq := range a.tracker.CloseAbsent(seen, frame.FrameID, frame.Timestamp) {
		a.finishSequence(seq)
	}
	for _, seq := range a.tracker.ForceCloseStale() {
		a.finishSequence(seq)
	}
	a.arbiter.Expire()

	if a.metrics != nil {
		a.metrics.FramesAnalyzed.Inc()
		a.metrics.ActiveSequences.Set(float64(a.tracker.ActiveCount()))
	}
	return result, nil
}

// emit arbitrates and, when the slot is free, builds the violation and
// hands it to the sink.
func (a *Analyzer) emit(ctx context.Context, frame Frame, assoc HandAssociation, region roi.ROI, seq *Sequence, verdict scooper.Verdict, result *FrameResult) error {
	violationID, ok := a.arbiter.Reserve(seq.Key)
	if !ok {
		slog.Debug("[Arbiter] Violation suppressed",
			"session_id", a.sessionID, "key", seq.Key.String(), "frame_id", frame.FrameID)
		return nil
	}

	vtype, severity := TypeNoScooper, SeverityHigh
	if verdict.DecisionTier == scooper.TierNearbyUnused {
		vtype, severity = TypeNearbyUnused, SeverityMedium
	}

	event := &ViolationEvent{
		ViolationID:  violationID,
		SessionID:    a.sessionID,
		SequenceKey:  seq.Key,
		SequenceID:   seq.ID,
		FrameID:      frame.FrameID,
		FrameNumber:  frame.FrameNumber,
		ROIName:      region.Name,
		HandIdentity: assoc.Identity,
		WorkerID:     assoc.WorkerID,
		Type:         vtype,
		Severity:     severity,
		Confidence:   verdict.Confidence,
		Description: fmt.Sprintf("Hand %s entered %s without a scooper",
			assoc.Identity, region.Name),
		Evidence: Evidence{
			HandBBox:               assoc.Hand.BBox,
			HandCenter:             assoc.Hand.Center,
			ROIBounds:              region.Bounds(),
			ClosestScooperDistance: verdict.ClosestDistance,
			DecisionTier:           verdict.DecisionTier,
			Scores:                 verdict.Evidence,
		},
		CreatedAt:  time.Now().UTC(),
		FrameJPEG:  frame.JPEG,
		ROIPolygon: region.Polygon,
	}
	if assoc.WorkerID > 0 {
		if w, ok := a.workerSnapshot(assoc.WorkerID); ok {
			event.MovementPattern = string(w.Action)
		}
	}

	slog.Info("[Arbiter] Violation emitted",
		"session_id", a.sessionID, "violation_id", violationID,
		"key", seq.Key.String(), "roi", region.Name,
		"type", vtype, "severity", severity, "frame_id", frame.FrameID)

	result.ViolationsFound++
	if a.metrics != nil {
		a.metrics.Violations.WithLabelValues(severity, region.Name).Inc()
	}

	if err := a.sink.Handle(ctx, event); err != nil {
		if errors.Is(err, ErrPersistenceFatal) {
			return fmt.Errorf("session %s: %w", a.sessionID, err)
		}
		slog.Error("[Analyzer] Violation sink failed",
			"session_id", a.sessionID, "violation_id", violationID, "error", err)
	}
	return nil
}

// finishSequence logs the completed-sequence report and releases the
// arbiter's per-sequence claim. The report is informational; no late
// violations are emitted here.
func (a *Analyzer) finishSequence(seq *Sequence) {
	a.arbiter.Release(seq.Key)
	slog.Info("[SequenceTracker] Sequence completed",
		"session_id", a.sessionID,
		"key", seq.Key.String(),
		"duration", seq.Duration().Round(time.Millisecond),
		"frames", len(seq.Observations),
		"usage_percent", fmt.Sprintf("%.1f", seq.UsagePercent()),
		"used_properly", seq.UsedProperly(a.cfg.UsageRequiredPercent))
}

func (a *Analyzer) workerSnapshot(workerID int) (worker.Worker, bool) {
	for _, w := range a.workers.Snapshot() {
		if w.ID == workerID {
			return w, true
		}
	}
	return worker.Worker{}, false
}

// Close force-closes all active sequences and drops cooldown state. No
// violations are emitted from this path.
func (a *Analyzer) Close() {
	for _, seq := range a.tracker.CloseAll() {
		a.finishSequence(seq)
	}
	a.arbiter.Reset()
}

// Stats reports the session's current engine state.
func (a *Analyzer) Stats() SessionStats {
	workers := a.workers.Snapshot()
	ws := make([]WorkerStats, 0, len(workers))
	for _, w := range workers {
		ws = append(ws, WorkerStats{ID: w.ID, Action: string(w.Action), LastSeen: w.LastSeen})
	}
	return SessionStats{
		SessionID:          a.sessionID,
		ActiveSequences:    a.tracker.ActiveCount(),
		CompletedSequences: len(a.tracker.Completed()),
		CooldownEntries:    a.arbiter.CooldownEntries(),
		FramesBuffered:     a.history.Len(),
		Workers:            ws,
	}
}

// SessionStats is one session's slice of the /statistics payload.
type SessionStats struct {
	SessionID          string        `json:"session_id"`
	ActiveSequences    int           `json:"active_sequences"`
	CompletedSequences int           `json:"completed_sequences"`
	CooldownEntries    int           `json:"cooldown_entries"`
	FramesBuffered     int           `json:"frames_buffered"`
	Workers            []WorkerStats `json:"workers"`
}

// WorkerStats is one tracked worker's telemetry snapshot.
type WorkerStats struct {
	ID       int       `json:"id"`
	Action   string    `json:"action"`
	LastSeen time.Time `json:"last_seen"`
}
