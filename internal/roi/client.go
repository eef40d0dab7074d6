package roi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/storewatch/backend/internal/circuitbreaker"
	"github.com/storewatch/backend/internal/geometry"
)

// ErrNoSnapshot is returned when the ROI manager is unreachable and no
// cached snapshot is fresh enough to reuse. The frame must be skipped.
var ErrNoSnapshot = errors.New("roi manager unavailable and no usable snapshot")

// snapshotMaxAge bounds how long a stale snapshot may substitute for a
// live fetch before frames are skipped instead.
const snapshotMaxAge = 60 * time.Second

// wireROI matches the ROI manager's response entries. Coordinates is
// polymorphic: a point list for polygons, an object for rectangles.
type wireROI struct {
	Name            string          `json:"name"`
	Shape           string          `json:"shape"`
	Coordinates     json.RawMessage `json:"coordinates"`
	RequiresScooper bool            `json:"requires_scooper"`
	IngredientType  string          `json:"ingredient_type"`
}

type wireRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type wireROIList struct {
	Data []wireROI `json:"data"`
}

// Client fetches ROI snapshots from the ROI manager.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker

	mu         sync.RWMutex
	snapshot   *Set
	snapshotAt time.Time

	now func() time.Time
}

// NewClient creates an ROI manager client. breaker may be nil.
func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		now:     time.Now,
	}
}

// Current returns the ROI set to evaluate a frame against: a live fetch
// when possible, the cached snapshot while it is younger than
// snapshotMaxAge, and ErrNoSnapshot otherwise.
func (c *Client) Current(ctx context.Context) (*Set, error) {
	set, err := c.fetch(ctx)
	if err == nil {
		c.mu.Lock()
		c.snapshot = set
		c.snapshotAt = c.now()
		c.mu.Unlock()
		return set, nil
	}

	c.mu.RLock()
	snapshot, at := c.snapshot, c.snapshotAt
	c.mu.RUnlock()

	if snapshot != nil && c.now().Sub(at) <= snapshotMaxAge {
		slog.Warn("[ROIStore] Fetch failed, reusing cached snapshot",
			"age", c.now().Sub(at).Round(time.Millisecond), "error", err)
		return snapshot, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
}

func (c *Client) fetch(ctx context.Context) (*Set, error) {
	var set *Set

	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rois", nil)
		if err != nil {
			return fmt.Errorf("build rois request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("rois request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("roi manager returned %d: %s", resp.StatusCode, snippet)
		}

		var wire wireROIList
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return fmt.Errorf("decode rois response: %w", err)
		}

		set = decodeSet(wire)
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(ctx, call); err != nil {
			return nil, err
		}
		return set, nil
	}
	if err := call(ctx); err != nil {
		return nil, err
	}
	return set, nil
}

func decodeSet(wire wireROIList) *Set {
	set := &Set{ROIs: make([]ROI, 0, len(wire.Data))}
	for _, w := range wire.Data {
		polygon, shape, err := decodeGeometry(w)
		if err != nil {
			slog.Warn("[ROIStore] Skipping ROI with unusable geometry", "name", w.Name, "error", err)
			continue
		}
		set.ROIs = append(set.ROIs, ROI{
			Name:            w.Name,
			Shape:           shape,
			Polygon:         polygon,
			RequiresScooper: w.RequiresScooper,
			IngredientType:  w.IngredientType,
		})
	}
	return set
}

func decodeGeometry(w wireROI) ([]geometry.Point, Shape, error) {
	if len(w.Coordinates) == 0 {
		return nil, "", errors.New("missing coordinates")
	}

	if w.Shape == string(ShapeRectangle) || w.Coordinates[0] == '{' {
		var rect wireRect
		if err := json.Unmarshal(w.Coordinates, &rect); err != nil {
			return nil, "", fmt.Errorf("decode rectangle: %w", err)
		}
		if rect.Width <= 0 || rect.Height <= 0 {
			return nil, "", errors.New("degenerate rectangle")
		}
		poly := geometry.RectToPolygon(geometry.BBox{
			X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height,
		})
		return poly, ShapeRectangle, nil
	}

	var points [][]float64
	if err := json.Unmarshal(w.Coordinates, &points); err != nil {
		return nil, "", fmt.Errorf("decode polygon: %w", err)
	}
	if len(points) < 3 {
		return nil, "", fmt.Errorf("polygon has %d points", len(points))
	}

	poly := make([]geometry.Point, len(points))
	for i, pt := range points {
		if len(pt) < 2 {
			return nil, "", fmt.Errorf("polygon point %d malformed", i)
		}
		poly[i] = geometry.Point{X: pt[0], Y: pt[1]}
	}
	return poly, ShapePolygon, nil
}
