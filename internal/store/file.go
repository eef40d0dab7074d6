package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/storewatch/backend/internal/pipeline"
)

// FileStore writes annotated violation frames and their evidence
// sidecars under a per-session directory tree:
//
//	<base>/<session_id>/violation_<frame_id>_<yyyymmdd_hhmmss_mmm>.jpg
//	<base>/<session_id>/violation_<frame_id>_<yyyymmdd_hhmmss_mmm>.jpg.json
type FileStore struct {
	base string
	now  func() time.Time
}

// NewFileStore creates the store rooted at base.
func NewFileStore(base string) *FileStore {
	return &FileStore{base: base, now: time.Now}
}

// Write persists the annotated JPEG and its sidecar evidence record.
// Returns the frame file path.
func (s *FileStore) Write(event *pipeline.ViolationEvent, annotated []byte) (string, error) {
	dir := filepath.Join(s.base, event.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	stamp := s.now().UTC().Format("20060102_150405.000")
	stamp = strings.Replace(stamp, ".", "_", 1)
	name := fmt.Sprintf("violation_%s_%s.jpg", event.FrameID, stamp)
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, annotated, 0o644); err != nil {
		return "", fmt.Errorf("write frame file: %w", err)
	}

	// The frame file is the primary evidence; a sidecar failure must not
	// discard the path already on disk.
	if sidecar, err := json.MarshalIndent(event, "", "  "); err != nil {
		slog.Error("[FileStore] Sidecar encode failed",
			"violation_id", event.ViolationID, "error", err)
	} else if err := os.WriteFile(path+".json", sidecar, 0o644); err != nil {
		slog.Error("[FileStore] Sidecar write failed",
			"violation_id", event.ViolationID, "path", path+".json", "error", err)
	}
	return path, nil
}

// CleanupOldFrames removes frame files and sidecars older than maxAge.
// Returns the number of files removed.
func (s *FileStore) CleanupOldFrames(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				slog.Warn("[FileStore] Cleanup failed to remove file", "path", path, "error", err)
				return nil
			}
			removed++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, fmt.Errorf("cleanup walk: %w", err)
	}
	return removed, nil
}

// Stats summarizes the on-disk footprint.
type Stats struct {
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
}

// Stats walks the tree and counts frame files and bytes.
func (s *FileStore) Stats() (Stats, error) {
	var st Stats
	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		st.Files++
		st.TotalBytes += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return st, fmt.Errorf("stats walk: %w", err)
	}
	return st, nil
}
