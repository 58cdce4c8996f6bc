package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/tcmartin/upgraderunner/pkg/models"
)

// PostgreSQLProvider implements the StorageProvider interface using PostgreSQL
type PostgreSQLProvider struct {
	db       *sql.DB
	runStore *PostgreSQLRunStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgreSQLProvider{
		db:       db,
		runStore: NewPostgreSQLRunStore(db),
	}, nil
}

// Initialize sets up the storage backend
func (p *PostgreSQLProvider) Initialize() error {
	if err := p.runStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize run store: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetRunStore returns a store for run records
func (p *PostgreSQLProvider) GetRunStore() RunStore {
	return p.runStore
}

// PostgreSQLRunStore implements the RunStore interface using PostgreSQL
type PostgreSQLRunStore struct {
	db *sql.DB
}

// NewPostgreSQLRunStore creates a new PostgreSQL run store
func NewPostgreSQLRunStore(db *sql.DB) *PostgreSQLRunStore {
	return &PostgreSQLRunStore{db: db}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLRunStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			error TEXT,
			snapshot JSONB,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS runs_start_time_idx ON runs (start_time DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_logs (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			entry JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS run_logs_run_id_idx ON run_logs (run_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create run_logs table: %w", err)
	}

	return nil
}

// SaveRun persists a run record
func (s *PostgreSQLRunStore) SaveRun(run models.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}

	var endTime interface{}
	if !run.EndTime.IsZero() {
		endTime = run.EndTime
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, status, error, snapshot, start_time, end_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			snapshot = EXCLUDED.snapshot,
			end_time = EXCLUDED.end_time,
			updated_at = EXCLUDED.updated_at`,
		run.ID, run.Status, run.Error, []byte(run.Snapshot), run.StartTime, endTime, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record
func (s *PostgreSQLRunStore) GetRun(runID string) (models.RunRecord, error) {
	var run models.RunRecord
	var errMsg sql.NullString
	var snapshot []byte
	var endTime sql.NullTime

	err := s.db.QueryRow(
		"SELECT run_id, status, error, snapshot, start_time, end_time, updated_at FROM runs WHERE run_id = $1",
		runID,
	).Scan(&run.ID, &run.Status, &errMsg, &snapshot, &run.StartTime, &endTime, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return models.RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}

	run.Error = errMsg.String
	run.Snapshot = json.RawMessage(snapshot)
	if endTime.Valid {
		run.EndTime = endTime.Time
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first
func (s *PostgreSQLRunStore) ListRuns(limit int) ([]models.RunRecord, error) {
	query := "SELECT run_id, status, error, snapshot, start_time, end_time, updated_at FROM runs ORDER BY start_time DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var run models.RunRecord
		var errMsg sql.NullString
		var snapshot []byte
		var endTime sql.NullTime

		if err := rows.Scan(&run.ID, &run.Status, &errMsg, &snapshot, &run.StartTime, &endTime, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Error = errMsg.String
		run.Snapshot = json.RawMessage(snapshot)
		if endTime.Valid {
			run.EndTime = endTime.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run record and its logs
func (s *PostgreSQLRunStore) DeleteRun(runID string) error {
	result, err := s.db.Exec("DELETE FROM runs WHERE run_id = $1", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}

	if _, err := s.db.Exec("DELETE FROM run_logs WHERE run_id = $1", runID); err != nil {
		return fmt.Errorf("failed to delete run logs: %w", err)
	}
	return nil
}

// SaveRunLog appends a log entry to a run
func (s *PostgreSQLRunStore) SaveRunLog(runID string, log models.RunLog) error {
	entry, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO run_logs (run_id, entry, created_at) VALUES ($1, $2, $3)",
		runID, entry, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save log entry: %w", err)
	}
	return nil
}

// GetRunLogs retrieves the log entries for a run
func (s *PostgreSQLRunStore) GetRunLogs(runID string) ([]models.RunLog, error) {
	rows, err := s.db.Query(
		"SELECT entry FROM run_logs WHERE run_id = $1 ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get run logs: %w", err)
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var entry []byte
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		var log models.RunLog
		if err := json.Unmarshal(entry, &log); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
