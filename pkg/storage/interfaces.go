// Package storage provides interfaces for persistent run history storage.
package storage

import (
	"github.com/tcmartin/upgraderunner/pkg/models"
)

// StorageProvider defines the interface for persistence backends
type StorageProvider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetRunStore returns a store for run records
	GetRunStore() RunStore
}

// RunStore manages run record persistence
type RunStore interface {
	// SaveRun persists a run record, overwriting any previous state for
	// the same run ID
	SaveRun(run models.RunRecord) error

	// GetRun retrieves a run record
	GetRun(runID string) (models.RunRecord, error)

	// ListRuns returns the most recent runs, newest first. A limit of 0
	// returns all runs.
	ListRuns(limit int) ([]models.RunRecord, error)

	// DeleteRun removes a run record and its logs
	DeleteRun(runID string) error

	// SaveRunLog appends a log entry to a run
	SaveRunLog(runID string, log models.RunLog) error

	// GetRunLogs retrieves the log entries for a run in append order
	GetRunLogs(runID string) ([]models.RunLog, error)
}
