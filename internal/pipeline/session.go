package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/storewatch/backend/internal/metrics"
)

// Session submission errors.
var (
	ErrSessionHalted = errors.New("session halted after fatal persistence failure")
	ErrQueueFull     = errors.New("session frame queue is full")
	ErrManagerClosed = errors.New("session manager is shut down")
)

// sessionQueueSize bounds the per-session backlog of unprocessed frames.
const sessionQueueSize = 64

// Outcome is the result of one submitted frame.
type Outcome struct {
	Result *FrameResult
	Err    error
}

type job struct {
	frame Frame
	out   chan Outcome // buffered 1, may be nil for fire-and-forget
}

// session is one per-source worker. Its goroutine exclusively owns the
// analyzer; nothing else touches that state.
type session struct {
	id        string
	jobs      chan job
	halted    atomic.Bool
	lastStats atomic.Value // SessionStats
}

// Manager fans frames out to per-session workers. Frames within a
// session are processed in submission order; sessions run independently.
type Manager struct {
	newAnalyzer func(sessionID string) *Analyzer
	metrics     *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a session manager. newAnalyzer builds the engine
// for each new session id.
func NewManager(newAnalyzer func(sessionID string) *Analyzer, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		newAnalyzer: newAnalyzer,
		metrics:     m,
		sessions:    make(map[string]*session),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Submit queues a frame for its session. The returned channel yields the
// frame's outcome once processed; callers free to ignore it may pass it
// to the void. Submission fails when the session's queue is full, the
// session has halted, or the manager is shut down.
func (m *Manager) Submit(frame Frame) (<-chan Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	s, ok := m.sessions[frame.SessionID]
	if !ok {
		s = &session{id: frame.SessionID, jobs: make(chan job, sessionQueueSize)}
		m.sessions[frame.SessionID] = s
		m.wg.Add(1)
		go m.run(s)
		if m.metrics != nil {
			m.metrics.ActiveSessions.Inc()
		}
		slog.Info("[SessionManager] Session started", "session_id", frame.SessionID)
	}

	if s.halted.Load() {
		return nil, ErrSessionHalted
	}

	// The send stays under the lock so it cannot race Shutdown closing
	// the jobs channel; the select keeps it non-blocking.
	out := make(chan Outcome, 1)
	select {
	case s.jobs <- job{frame: frame, out: out}:
		return out, nil
	default:
		slog.Warn("[SessionManager] Dropping frame, queue full",
			"session_id", frame.SessionID, "frame_id", frame.FrameID)
		return nil, ErrQueueFull
	}
}

func (m *Manager) run(s *session) {
	defer m.wg.Done()

	analyzer := m.newAnalyzer(s.id)
	defer func() {
		analyzer.Close()
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
		slog.Info("[SessionManager] Session stopped", "session_id", s.id)
	}()

	for j := range s.jobs {
		if s.halted.Load() {
			j.deliver(Outcome{Err: ErrSessionHalted})
			continue
		}

		result, err := analyzer.ProcessFrame(m.ctx, j.frame)
		s.lastStats.Store(analyzer.Stats())
		j.deliver(Outcome{Result: result, Err: err})

		if errors.Is(err, ErrPersistenceFatal) {
			s.halted.Store(true)
			slog.Error("[SessionManager] Halting session",
				"session_id", s.id, "error", err)
		}
	}
}

func (j job) deliver(o Outcome) {
	if j.out != nil {
		j.out <- o
	}
}

// Stats returns the latest per-session engine snapshots.
func (m *Manager) Stats() []SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionStats, 0, len(m.sessions))
	for _, s := range m.sessions {
		if v := s.lastStats.Load(); v != nil {
			out = append(out, v.(SessionStats))
		} else {
			out = append(out, SessionStats{SessionID: s.id})
		}
	}
	return out
}

// Shutdown drains inflight frames, force-closes every session's active
// sequences and drops cooldown state. Blocks until workers finish or the
// context expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, s := range m.sessions {
		close(s.jobs)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
}
