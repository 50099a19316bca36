package cache

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// StatusFile is the file name of the sync status, relative to the store directory.
const StatusFile = "sync_status.json"

// SyncStatus is the outcome of the last synchronization of a tier.
type SyncStatus struct {
	Tier      Tier          `json:"tier"`
	SyncID    string        `json:"sync_id"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Fetched   int           `json:"fetched"`
	Valid     int           `json:"valid"`
	Dropped   int           `json:"dropped"`
}

// WriteStatus saves the status of a tier, keeping the statuses of other tiers.
// It returns false if the file could not be written.
func (s *Store) WriteStatus(st SyncStatus) bool {
	s.statusLock.Lock()
	defer s.statusLock.Unlock()

	if s.dir == "" {
		s.status[st.Tier] = st
		return true
	}

	m, err := s.readStatusFile()
	if err != nil {
		s.log.Warnw("overwriting unreadable sync status", "error", err)
		m = map[Tier]SyncStatus{}
	}
	m[st.Tier] = st

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		s.handleError(err, "failed to encode sync status")
		return false
	}

	if err := writeFileAtomic(s.path(StatusFile), data); err != nil {
		s.handleError(err, "failed to write sync status")
		return false
	}
	return true
}

// ReadStatus returns the last status of every tier.
// For a store with a directory it reads the file, so it also sees statuses written by other processes.
func (s *Store) ReadStatus() (map[Tier]SyncStatus, error) {
	s.statusLock.Lock()
	defer s.statusLock.Unlock()

	if s.dir == "" {
		m := make(map[Tier]SyncStatus, len(s.status))
		for k, v := range s.status {
			m[k] = v
		}
		return m, nil
	}

	return s.readStatusFile()
}

func (s *Store) readStatusFile() (map[Tier]SyncStatus, error) {
	data, err := os.ReadFile(s.path(StatusFile))
	if errors.Is(err, os.ErrNotExist) {
		return map[Tier]SyncStatus{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read sync status: %w", err)
	}

	var m map[Tier]SyncStatus
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse sync status: %w", err)
	}
	if m == nil {
		m = map[Tier]SyncStatus{}
	}
	return m, nil
}
