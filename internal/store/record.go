// Package store persists emitted violations: annotated frame files on
// disk, and violation records in the violation store service or directly
// in Postgres.
package store

import (
	"context"
	"encoding/base64"
	"math"

	"github.com/storewatch/backend/internal/geometry"
	"github.com/storewatch/backend/internal/pipeline"
)

// Record is the violation store write payload.
type Record struct {
	SessionID       string         `json:"session_id"`
	WorkerID        *int           `json:"worker_id,omitempty"`
	ROIZoneID       string         `json:"roi_zone_id"`
	FrameNumber     int            `json:"frame_number"`
	FramePath       string         `json:"frame_path,omitempty"`
	FrameBase64     string         `json:"frame_base64,omitempty"`
	ViolationType   string         `json:"violation_type"`
	Confidence      float64        `json:"confidence"`
	Severity        string         `json:"severity"`
	Description     string         `json:"description"`
	BoundingBoxes   []geometry.BBox `json:"bounding_boxes"`
	HandPosition    geometry.Point `json:"hand_position"`
	ScooperPresent  bool           `json:"scooper_present"`
	ScooperDistance *float64       `json:"scooper_distance,omitempty"`
	MovementPattern string         `json:"movement_pattern,omitempty"`
}

// RecordWriter persists one violation record.
type RecordWriter interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// BuildRecord maps an emitted violation onto the store payload. framePath
// and inlineJPEG come from the annotation step and may be empty in
// analyze-only mode.
func BuildRecord(event *pipeline.ViolationEvent, framePath string, inlineJPEG []byte) Record {
	rec := Record{
		SessionID:       event.SessionID,
		ROIZoneID:       event.ROIName,
		FrameNumber:     event.FrameNumber,
		FramePath:       framePath,
		ViolationType:   event.Type,
		Confidence:      event.Confidence,
		Severity:        event.Severity,
		Description:     event.Description,
		BoundingBoxes:   []geometry.BBox{event.Evidence.HandBBox},
		HandPosition:    event.Evidence.HandCenter,
		ScooperPresent:  false,
		MovementPattern: event.MovementPattern,
	}
	if event.WorkerID > 0 {
		id := event.WorkerID
		rec.WorkerID = &id
	}
	if len(inlineJPEG) > 0 {
		rec.FrameBase64 = base64.StdEncoding.EncodeToString(inlineJPEG)
	}
	if d := event.Evidence.ClosestScooperDistance; !math.IsInf(d, 0) {
		rec.ScooperPresent = true
		rec.ScooperDistance = &d
	}
	return rec
}
