// Package resume persists per-task segment state so an interrupted
// download can continue across process restarts.
package resume

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
	"github.com/IsaacGridGainsDev/torrentlite/internal/utils"
)

var (
	// ErrNotFound means no record exists for the task id.
	ErrNotFound = errors.New("resume record not found")

	// ErrCorrupt means the persisted record exists but cannot be
	// parsed. Callers treat the task as unresumable and restart from
	// scratch rather than guess at partial state.
	ErrCorrupt = errors.New("resume record corrupt")
)

const recordExt = ".json"

// Store keeps one JSON record per task id in a directory. Writes are
// atomic (temp file then rename) so a crash mid-write never corrupts a
// previously good record.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) a record directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create resume directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) recordPath(taskID string) string {
	return filepath.Join(s.dir, taskID+recordExt)
}

// Save persists the record atomically, stamping UpdatedAt.
func (s *Store) Save(rec *types.ResumeRecord) error {
	if rec.TaskID == "" {
		return fmt.Errorf("resume record has no task id")
	}
	rec.Version = types.RecordVersion
	rec.UpdatedAt = time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = rec.UpdatedAt
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resume record: %w", err)
	}

	path := s.recordPath(rec.TaskID)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write resume record: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to commit resume record: %w", err)
	}
	return nil
}

// Load reads the record for a task id. Unknown JSON fields are ignored
// so newer records stay readable by older binaries.
func (s *Store) Load(taskID string) (*types.ResumeRecord, error) {
	data, err := os.ReadFile(s.recordPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read resume record: %w", err)
	}

	var rec types.ResumeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.TaskID == "" || rec.URL == "" || len(rec.Segments) == 0 {
		return nil, fmt.Errorf("%w: missing required fields", ErrCorrupt)
	}
	return &rec, nil
}

// Delete removes the record for a task id. Missing records are not an
// error: delete is called on completion and cancel paths alike.
func (s *Store) Delete(taskID string) error {
	if err := os.Remove(s.recordPath(taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete resume record: %w", err)
	}
	return nil
}

// List scans the directory and returns every readable record, skipping
// (and logging) corrupt ones.
func (s *Store) List() ([]*types.ResumeRecord, error) {
	log := utils.GetLogger("resume")

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan resume directory: %w", err)
	}

	var records []*types.ResumeRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		taskID := strings.TrimSuffix(name, recordExt)
		rec, err := s.Load(taskID)
		if err != nil {
			log.Warn().Str("task", taskID).Err(err).Msg("skipping unreadable resume record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
