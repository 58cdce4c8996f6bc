package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/tcmartin/upgraderunner/pkg/models"
)

// Redis key layout: one JSON value per run, one list per run's logs, and a
// sorted set indexing run IDs by start time for newest-first listing.
const (
	redisRunKeyPrefix = "run:"
	redisRunLogPrefix = "runlog:"
	redisRunIndexKey  = "runs:by-start-time"
)

// RedisProvider implements the StorageProvider interface using Redis
type RedisProvider struct {
	client   *redis.Client
	runStore *RedisRunStore
}

// RedisProviderConfig contains configuration for the Redis provider
type RedisProviderConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisProvider creates a new Redis storage provider
func NewRedisProvider(config RedisProviderConfig) (*RedisProvider, error) {
	if config.Address == "" {
		config.Address = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisProvider{
		client:   client,
		runStore: NewRedisRunStore(client),
	}, nil
}

// Initialize sets up the storage backend
func (p *RedisProvider) Initialize() error {
	// Nothing to initialize for Redis
	return nil
}

// Close cleans up resources
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// GetRunStore returns a store for run records
func (p *RedisProvider) GetRunStore() RunStore {
	return p.runStore
}

// RedisRunStore implements the RunStore interface using Redis
type RedisRunStore struct {
	client *redis.Client
}

// NewRedisRunStore creates a new Redis run store
func NewRedisRunStore(client *redis.Client) *RedisRunStore {
	return &RedisRunStore{client: client}
}

// SaveRun persists a run record
func (s *RedisRunStore) SaveRun(run models.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	ctx := context.Background()
	if err := s.client.Set(ctx, redisRunKeyPrefix+run.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	err = s.client.ZAdd(ctx, redisRunIndexKey, &redis.Z{
		Score:  float64(run.StartTime.UnixNano()),
		Member: run.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record
func (s *RedisRunStore) GetRun(runID string) (models.RunRecord, error) {
	data, err := s.client.Get(context.Background(), redisRunKeyPrefix+runID).Bytes()
	if err == redis.Nil {
		return models.RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return models.RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}

	var run models.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return models.RunRecord{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first
func (s *RedisRunStore) ListRuns(limit int) ([]models.RunRecord, error) {
	ctx := context.Background()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, redisRunIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]models.RunRecord, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(id)
		if err == ErrRunNotFound {
			// Index entry outlived the record; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// DeleteRun removes a run record and its logs
func (s *RedisRunStore) DeleteRun(runID string) error {
	ctx := context.Background()

	deleted, err := s.client.Del(ctx, redisRunKeyPrefix+runID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if deleted == 0 {
		return ErrRunNotFound
	}

	if err := s.client.ZRem(ctx, redisRunIndexKey, runID).Err(); err != nil {
		return fmt.Errorf("failed to unindex run: %w", err)
	}
	if err := s.client.Del(ctx, redisRunLogPrefix+runID).Err(); err != nil {
		return fmt.Errorf("failed to delete run logs: %w", err)
	}
	return nil
}

// SaveRunLog appends a log entry to a run
func (s *RedisRunStore) SaveRunLog(runID string, log models.RunLog) error {
	entry, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	err = s.client.RPush(context.Background(), redisRunLogPrefix+runID, entry).Err()
	if err != nil {
		return fmt.Errorf("failed to save log entry: %w", err)
	}
	return nil
}

// GetRunLogs retrieves the log entries for a run
func (s *RedisRunStore) GetRunLogs(runID string) ([]models.RunLog, error) {
	entries, err := s.client.LRange(context.Background(), redisRunLogPrefix+runID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run logs: %w", err)
	}

	logs := make([]models.RunLog, 0, len(entries))
	for _, entry := range entries {
		var log models.RunLog
		if err := json.Unmarshal([]byte(entry), &log); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, nil
}
