package manager

// Task status values reported by the manager's task endpoint.
const (
	TaskStatusActive   = "active"
	TaskStatusComplete = "complete"
	TaskStatusError    = "error"
	TaskStatusAborting = "aborting"
)

// Migration status values reported by the manager's migration endpoint.
const (
	MigrationStatusPending  = "pending"
	MigrationStatusActive   = "active"
	MigrationStatusComplete = "complete"
	MigrationStatusError    = "error"
)

// TaskDescriptor describes a task to submit to the manager's single task slot.
type TaskDescriptor struct {
	// Name identifies the task, e.g. "manager/self-update" or "composer/update".
	Name string `json:"name"`

	// Config carries task-specific options.
	Config map[string]interface{} `json:"config,omitempty"`
}

// TaskStatus is the state of the outstanding manager task.
type TaskStatus struct {
	// Status of the task
	Status string `json:"status"`

	// Console is the accumulated console output of the task
	Console string `json:"console,omitempty"`

	// Operations are the individual operations of the task
	Operations []TaskOperation `json:"operations,omitempty"`
}

// TaskOperation is a single operation within a task.
type TaskOperation struct {
	// Summary is a one-line description of the operation
	Summary string `json:"summary"`

	// Status of the operation
	Status string `json:"status,omitempty"`

	// Console is the console output of the operation
	Console string `json:"console,omitempty"`
}

// MigrationDescriptor describes a migration task. An empty Hash requests a
// dry-run check; a confirmed hash executes the pending migrations.
type MigrationDescriptor struct {
	// Hash is the confirmation hash from a previous check
	Hash string `json:"hash,omitempty"`

	// WithDeletes executes DROP statements as well
	WithDeletes bool `json:"withDeletes,omitempty"`
}

// MigrationStatus is the state of the outstanding migration task.
type MigrationStatus struct {
	// Status of the migration task
	Status string `json:"status"`

	// Type of the migration task
	Type string `json:"type,omitempty"`

	// Hash confirms the set of pending operations. Empty when nothing is
	// pending.
	Hash string `json:"hash,omitempty"`

	// Operations are the pending or executed statements
	Operations []MigrationOperation `json:"operations,omitempty"`
}

// MigrationOperation is a single migration statement.
type MigrationOperation struct {
	// Name is the statement or migration name
	Name string `json:"name"`

	// Status of the operation
	Status string `json:"status,omitempty"`

	// Message carries error details for failed operations
	Message string `json:"message,omitempty"`
}

// SelfUpdateStatus reports the installed and latest manager versions.
type SelfUpdateStatus struct {
	// CurrentVersion is the running manager version
	CurrentVersion string `json:"current_version"`

	// LatestVersion is the newest available manager version
	LatestVersion string `json:"latest_version"`

	// Channel is the release channel
	Channel string `json:"channel,omitempty"`
}

// VersionInfo is the refreshed version information of the installation.
type VersionInfo struct {
	// Success indicates whether the refresh succeeded
	Success bool `json:"success"`

	// VersionInfo carries the refreshed version data
	VersionInfo map[string]interface{} `json:"versionInfo,omitempty"`
}
