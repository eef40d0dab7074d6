package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore writes violation records straight into Postgres, for
// deployments that skip the violation store service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection pool and verifies it.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

const insertViolation = `
INSERT INTO violations (
	session_id, worker_id, roi_zone_id, frame_number, frame_path,
	violation_type, confidence, severity, description,
	bounding_boxes, hand_position, scooper_present, scooper_distance,
	movement_pattern, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())`

// Write inserts one violation row. The inline frame copy is not stored
// in the database; the frame_path column points at the file store.
func (s *PostgresStore) Write(ctx context.Context, rec Record) error {
	boxes, err := json.Marshal(rec.BoundingBoxes)
	if err != nil {
		return fmt.Errorf("marshal bounding boxes: %w", err)
	}
	position, err := json.Marshal(rec.HandPosition)
	if err != nil {
		return fmt.Errorf("marshal hand position: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertViolation,
		rec.SessionID,
		rec.WorkerID,
		rec.ROIZoneID,
		rec.FrameNumber,
		rec.FramePath,
		rec.ViolationType,
		rec.Confidence,
		rec.Severity,
		rec.Description,
		boxes,
		position,
		rec.ScooperPresent,
		rec.ScooperDistance,
		nullableString(rec.MovementPattern),
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
