package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/tcmartin/upgraderunner/pkg/models"
)

// Errors returned by the storage providers
var (
	ErrRunNotFound = errors.New("run not found")
)

// MemoryProvider implements the StorageProvider interface using in-memory storage
type MemoryProvider struct {
	runStore *MemoryRunStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		runStore: NewMemoryRunStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// GetRunStore returns a store for run records
func (p *MemoryProvider) GetRunStore() RunStore {
	return p.runStore
}

// MemoryRunStore implements the RunStore interface using in-memory storage
type MemoryRunStore struct {
	runs map[string]models.RunRecord
	logs map[string][]models.RunLog
	mu   sync.RWMutex
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]models.RunRecord),
		logs: make(map[string][]models.RunLog),
	}
}

// SaveRun persists a run record
func (s *MemoryRunStore) SaveRun(run models.RunRecord) error {
	if run.ID == "" {
		return errors.New("run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run record
func (s *MemoryRunStore) GetRun(runID string) (models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return models.RunRecord{}, ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first
func (s *MemoryRunStore) ListRuns(limit int) ([]models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]models.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// DeleteRun removes a run record and its logs
func (s *MemoryRunStore) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return ErrRunNotFound
	}
	delete(s.runs, runID)
	delete(s.logs, runID)
	return nil
}

// SaveRunLog appends a log entry to a run
func (s *MemoryRunStore) SaveRunLog(runID string, log models.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[runID] = append(s.logs[runID], log)
	return nil
}

// GetRunLogs retrieves the log entries for a run
func (s *MemoryRunStore) GetRunLogs(runID string) ([]models.RunLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]models.RunLog, len(s.logs[runID]))
	copy(logs, s.logs[runID])
	return logs, nil
}
