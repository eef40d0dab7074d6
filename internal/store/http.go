package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/storewatch/backend/internal/circuitbreaker"
)

const (
	writeMaxRetries   = 2
	writeRetryBackoff = 200 * time.Millisecond
)

// HTTPStore posts violation records to the violation store service.
type HTTPStore struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewHTTPStore creates the client. breaker may be nil.
func NewHTTPStore(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Write posts the record, retrying transient failures.
func (s *HTTPStore) Write(ctx context.Context, rec Record) error {
	call := func(ctx context.Context) error {
		return s.writeOnce(ctx, rec)
	}
	run := func(ctx context.Context) error {
		if s.breaker != nil {
			return s.breaker.Execute(ctx, call)
		}
		return call(ctx)
	}

	var lastErr error
	for attempt := 0; attempt <= writeMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(writeRetryBackoff):
			}
			slog.Warn("[ViolationStore] Retrying write", "session_id", rec.SessionID, "attempt", attempt, "error", lastErr)
		}
		lastErr = run(ctx)
		if lastErr == nil {
			return nil
		}
		if lastErr == circuitbreaker.ErrCircuitOpen {
			break
		}
	}
	return fmt.Errorf("violation store write: %w", lastErr)
}

func (s *HTTPStore) writeOnce(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/violations", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post violations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("violation store returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// Close is a no-op; the underlying transport needs no teardown.
func (s *HTTPStore) Close() error { return nil }
