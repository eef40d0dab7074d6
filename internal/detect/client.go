package detect

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
	maxRetries   = 2
	retryBackoff = 200 * time.Millisecond
)

// Request is the payload sent to the detector's /detect endpoint.
type Request struct {
	FrameID    string         `json:"frame_id"`
	FrameData  string         `json:"frame_data"` // base64 JPEG
	Timestamp  float64        `json:"timestamp"`
	SourceInfo map[string]any `json:"source_info,omitempty"`
}

// Response is the detector's reply.
type Response struct {
	Detections       []Detection
	ProcessingTimeMs float64
}

type wireResponse struct {
	Detections       []wireDetection `json:"detections"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
}

// Client calls the external object detector service.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewClient creates a detector client. breaker may be nil, in which case
// calls are not circuit-protected.
func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Detect submits a frame and returns the decoded detections. Transient
// failures are retried up to maxRetries times with a short backoff; the
// caller decides what degraded behavior looks like when the final attempt
// fails.
func (c *Client) Detect(ctx context.Context, req Request) (*Response, error) {
	var resp *Response

	call := func(ctx context.Context) error {
		var err error
		resp, err = c.detectOnce(ctx, req)
		return err
	}

	run := func(ctx context.Context) error {
		if c.breaker != nil {
			return c.breaker.Execute(ctx, call)
		}
		return call(ctx)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff):
			}
			slog.Warn("[Detector] Retrying detect call", "frame_id", req.FrameID, "attempt", attempt, "error", lastErr)
		}

		lastErr = run(ctx)
		if lastErr == nil {
			return resp, nil
		}
		// An open breaker will not recover within our retry budget.
		if lastErr == circuitbreaker.ErrCircuitOpen {
			break
		}
	}
	return nil, fmt.Errorf("detector call failed for frame %s: %w", req.FrameID, lastErr)
}

func (c *Client) detectOnce(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal detect request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("detector returned %d: %s", httpResp.StatusCode, snippet)
	}

	var wire wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	return &Response{
		Detections:       decodeDetections(wire.Detections),
		ProcessingTimeMs: wire.ProcessingTimeMs,
	}, nil
}
