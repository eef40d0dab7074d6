package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/backend/internal/detect"
)

type orderSink struct {
	mu     sync.Mutex
	frames []string
}

func (s *orderSink) Handle(_ context.Context, e *ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, e.FrameID)
	return nil
}

func newTestManager(sink Sink) *Manager {
	det := &scriptedDetector{fn: func(string) []detect.Detection {
		return []detect.Detection{handDet(520, 420)}
	}}
	rois := &staticROIs{set: sauceStation()}
	return NewManager(func(sessionID string) *Analyzer {
		return newTestAnalyzerForSession(sessionID, det, rois, sink)
	}, nil)
}

func newTestAnalyzerForSession(sessionID string, det Detector, rois ROISource, sink Sink) *Analyzer {
	a := newTestAnalyzer(det, rois, sink, true)
	a.sessionID = sessionID
	return a
}

func TestManagerProcessesInOrder(t *testing.T) {
	sink := &captureSink{}
	m := newTestManager(sink)

	base := time.Now()
	var outs []<-chan Outcome
	for n := 1; n <= 5; n++ {
		out, err := m.Submit(frameN(n, base))
		require.NoError(t, err)
		outs = append(outs, out)
	}

	for i, out := range outs {
		o := <-out
		require.NoError(t, o.Err)
		assert.Equal(t, fmt.Sprintf("frame_%d", i+1), o.Result.FrameID)
	}

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Len(t, sink.events, 1)
}

func TestManagerIsolatesSessions(t *testing.T) {
	sink := &orderSink{}
	m := newTestManager(sink)

	base := time.Now()
	var outs []<-chan Outcome
	for _, sid := range []string{"session_a", "session_b"} {
		f := frameN(1, base)
		f.SessionID = sid
		out, err := m.Submit(f)
		require.NoError(t, err)
		outs = append(outs, out)
	}
	for _, out := range outs {
		require.NoError(t, (<-out).Err)
	}

	// Same key in two sessions: no shared cooldown state, one violation each.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.frames, 2)

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManagerHaltsSessionOnFatalSink(t *testing.T) {
	sink := &captureSink{err: fmt.Errorf("store gone: %w", ErrPersistenceFatal)}
	m := newTestManager(sink)

	out, err := m.Submit(frameN(1, time.Now()))
	require.NoError(t, err)
	o := <-out
	require.ErrorIs(t, o.Err, ErrPersistenceFatal)

	// The halted session rejects further frames once the halt is visible;
	// frames already queued get an error outcome.
	require.Eventually(t, func() bool {
		_, err := m.Submit(frameN(2, time.Now()))
		return err == ErrSessionHalted
	}, time.Second, 10*time.Millisecond)

	// Other sessions keep working.
	okSink := frameN(1, time.Now())
	okSink.SessionID = "session_2"
	out2, err := m.Submit(okSink)
	require.NoError(t, err)
	o2 := <-out2
	require.ErrorIs(t, o2.Err, ErrPersistenceFatal) // same sink, still fatal, but accepted and processed

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManagerRejectsAfterShutdown(t *testing.T) {
	m := newTestManager(&captureSink{})
	require.NoError(t, m.Shutdown(context.Background()))

	_, err := m.Submit(frameN(1, time.Now()))
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestSubmitDuringShutdownDoesNotPanic(t *testing.T) {
	m := newTestManager(&captureSink{})

	// Prime a session so Shutdown has a jobs channel to close.
	out, err := m.Submit(frameN(1, time.Now()))
	require.NoError(t, err)
	require.NoError(t, (<-out).Err)

	// Hammer Submit from several goroutines while Shutdown closes the
	// session channels; every submission must resolve to an error or an
	// outcome, never a send on a closed channel.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for n := 0; ; n++ {
				f := frameN(n+2, time.Now())
				f.FrameID = fmt.Sprintf("frame_%d_%d", worker, n)
				if _, err := m.Submit(f); err == ErrManagerClosed {
					return
				}
			}
		}(i)
	}

	require.NoError(t, m.Shutdown(context.Background()))
	wg.Wait()
}

func TestManagerStats(t *testing.T) {
	m := newTestManager(&captureSink{})

	out, err := m.Submit(frameN(1, time.Now()))
	require.NoError(t, err)
	require.NoError(t, (<-out).Err)

	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "session_1", stats[0].SessionID)
	assert.Equal(t, 1, stats[0].ActiveSequences)

	require.NoError(t, m.Shutdown(context.Background()))
}
