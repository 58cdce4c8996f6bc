// Package models defines the persisted shapes shared by the API and the
// storage backends.
package models

import (
	"encoding/json"
	"time"
)

// Run status values persisted to the run store.
const (
	RunStatusRunning   = "running"
	RunStatusPaused    = "paused"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// RunRecord is one persisted upgrade run.
type RunRecord struct {
	// ID of the run
	ID string `json:"id"`

	// Status of the run
	Status string `json:"status"`

	// StartTime is when the run started
	StartTime time.Time `json:"start_time"`

	// EndTime is when the run finished, zero while it is still going
	EndTime time.Time `json:"end_time,omitempty"`

	// Error message if the run failed
	Error string `json:"error,omitempty"`

	// Snapshot is the engine state at the time the record was written,
	// stored opaque so schema changes in the engine never require a
	// storage migration
	Snapshot json.RawMessage `json:"snapshot,omitempty"`

	// UpdatedAt is when the record was last written
	UpdatedAt time.Time `json:"updated_at"`
}

// RunLog is one log entry attached to a run.
type RunLog struct {
	// Timestamp of the log entry
	Timestamp time.Time `json:"timestamp"`

	// ItemID is the timeline item that produced the entry, empty for
	// run-level entries
	ItemID string `json:"item_id,omitempty"`

	// Level of the log entry
	Level string `json:"level"`

	// Message is the log message
	Message string `json:"message"`

	// Data is additional context for the log entry
	Data map[string]interface{} `json:"data,omitempty"`
}
