package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storewatch/backend/internal/annotate"
	"github.com/storewatch/backend/internal/events"
	"github.com/storewatch/backend/internal/metrics"
	"github.com/storewatch/backend/internal/pipeline"
)

const (
	// retryWindow bounds how long a failed record write is retried
	// before the store is declared lost.
	retryWindow = 60 * time.Second

	retryInterval  = 5 * time.Second
	retryQueueSize = 256
)

// Sink is the violation persistence pipeline: annotate the triggering
// frame, write the file copy, post the record, publish the event. It
// implements pipeline.Sink.
type Sink struct {
	files   *FileStore
	records RecordWriter
	bus     events.Bus
	metrics *metrics.Metrics

	mu    sync.Mutex
	queue []pendingWrite
	fatal atomic.Bool

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

type pendingWrite struct {
	rec         Record
	firstFailed time.Time
}

// NewSink wires the persistence pipeline. files, records and bus may
// each be nil to disable that leg. Starts the background retrier.
func NewSink(files *FileStore, records RecordWriter, bus events.Bus, m *metrics.Metrics) *Sink {
	s := &Sink{
		files:   files,
		records: records,
		bus:     bus,
		metrics: m,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go s.retrier()
	return s
}

// Handle persists one violation. Record write failures are queued for
// retry; once the store has been unreachable past the retry window the
// sink turns fatal and the owning session halts.
func (s *Sink) Handle(ctx context.Context, event *pipeline.ViolationEvent) error {
	if s.fatal.Load() {
		return fmt.Errorf("violation store lost: %w", pipeline.ErrPersistenceFatal)
	}

	framePath, inline := s.persistFrame(event)

	rec := BuildRecord(event, framePath, inline)
	if s.records != nil {
		if err := s.records.Write(ctx, rec); err != nil {
			slog.Warn("[Sink] Record write failed, queuing for retry",
				"violation_id", event.ViolationID, "error", err)
			s.enqueue(rec)
		}
	}

	s.publish(ctx, event)
	return nil
}

// persistFrame annotates and writes the frame file. Annotation failures
// degrade to persisting the raw frame; file failures are logged and the
// record is still written without a path.
func (s *Sink) persistFrame(event *pipeline.ViolationEvent) (string, []byte) {
	if len(event.FrameJPEG) == 0 || s.files == nil {
		return "", nil
	}

	full, inline := event.FrameJPEG, event.FrameJPEG
	out, err := annotate.Render(annotate.Input{
		JPEG:       event.FrameJPEG,
		HandBBox:   event.Evidence.HandBBox,
		HandLabel:  fmt.Sprintf("%s (%.2f)", event.Type, event.Confidence),
		ROIName:    event.ROIName,
		ROIPolygon: event.ROIPolygon,
		Severity:   event.Severity,
		Timestamp:  event.CreatedAt,
	})
	if err != nil {
		slog.Warn("[Sink] Annotation failed, persisting raw frame",
			"violation_id", event.ViolationID, "error", err)
	} else {
		full, inline = out.Full, out.Inline
	}

	path, err := s.files.Write(event, full)
	if err != nil {
		slog.Error("[Sink] Frame file write failed",
			"violation_id", event.ViolationID, "error", err)
		return "", inline
	}
	return path, inline
}

func (s *Sink) publish(ctx context.Context, event *pipeline.ViolationEvent) {
	if s.bus == nil {
		return
	}
	ev, err := events.NewEvent(events.TopicViolationDetected, events.PriorityHigh, event)
	if err != nil {
		slog.Warn("[Sink] Event encode failed", "violation_id", event.ViolationID, "error", err)
		return
	}

	outcome := "ok"
	if err := s.bus.Publish(ctx, ev); err != nil {
		outcome = "error"
		slog.Warn("[Sink] Event publish failed", "violation_id", event.ViolationID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.BusPublishes.WithLabelValues(outcome).Inc()
	}
}

func (s *Sink) enqueue(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= retryQueueSize {
		slog.Error("[Sink] Retry queue full, dropping oldest record")
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, pendingWrite{rec: rec, firstFailed: s.now()})
}

func (s *Sink) retrier() {
	defer close(s.done)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.flush()
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush retries every queued write once. Entries that keep failing past
// the retry window mark the sink fatal.
func (s *Sink) flush() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(queue) == 0 || s.records == nil {
		return
	}

	for _, p := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.records.Write(ctx, p.rec)
		cancel()

		if err == nil {
			continue
		}
		if s.now().Sub(p.firstFailed) > retryWindow {
			slog.Error("[Sink] Record write abandoned after retry window",
				"session_id", p.rec.SessionID, "error", err)
			if s.metrics != nil {
				s.metrics.StoreFailures.Inc()
			}
			s.fatal.Store(true)
			continue
		}
		s.mu.Lock()
		s.queue = append(s.queue, p)
		s.mu.Unlock()
	}
}

// Close flushes pending writes and stops the retrier.
func (s *Sink) Close() {
	close(s.stop)
	<-s.done
}
