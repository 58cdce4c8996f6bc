package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/upgraderunner/pkg/models"
)

// testRunStore exercises the RunStore contract shared by all providers.
func testRunStore(t *testing.T, store RunStore) {
	t.Helper()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SaveAndGet", func(t *testing.T) {
		run := models.RunRecord{
			ID:        "run-1",
			Status:    models.RunStatusRunning,
			StartTime: base,
			Snapshot:  json.RawMessage(`{"current_index":0}`),
		}
		require.NoError(t, store.SaveRun(run))

		got, err := store.GetRun("run-1")
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusRunning, got.Status)
		assert.JSONEq(t, `{"current_index":0}`, string(got.Snapshot))
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		run := models.RunRecord{
			ID:        "run-1",
			Status:    models.RunStatusCompleted,
			StartTime: base,
			EndTime:   base.Add(5 * time.Minute),
		}
		require.NoError(t, store.SaveRun(run))

		got, err := store.GetRun("run-1")
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, got.Status)
		assert.False(t, got.EndTime.IsZero())
	})

	t.Run("MissingRunID", func(t *testing.T) {
		require.Error(t, store.SaveRun(models.RunRecord{Status: models.RunStatusRunning}))
	})

	t.Run("GetUnknownRun", func(t *testing.T) {
		_, err := store.GetRun("no-such-run")
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		for i := 2; i <= 4; i++ {
			require.NoError(t, store.SaveRun(models.RunRecord{
				ID:        fmt.Sprintf("run-%d", i),
				Status:    models.RunStatusCompleted,
				StartTime: base.Add(time.Duration(i) * time.Hour),
			}))
		}

		runs, err := store.ListRuns(0)
		require.NoError(t, err)
		require.Len(t, runs, 4)
		assert.Equal(t, "run-4", runs[0].ID)
		assert.Equal(t, "run-1", runs[3].ID)

		limited, err := store.ListRuns(2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, "run-4", limited[0].ID)
		assert.Equal(t, "run-3", limited[1].ID)
	})

	t.Run("Logs", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, store.SaveRunLog("run-1", models.RunLog{
				Timestamp: base.Add(time.Duration(i) * time.Second),
				Level:     "info",
				Message:   fmt.Sprintf("entry %d", i),
			}))
		}

		logs, err := store.GetRunLogs("run-1")
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.Equal(t, "entry 0", logs[0].Message)
		assert.Equal(t, "entry 2", logs[2].Message)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteRun("run-1"))

		_, err := store.GetRun("run-1")
		assert.ErrorIs(t, err, ErrRunNotFound)

		logs, err := store.GetRunLogs("run-1")
		require.NoError(t, err)
		assert.Empty(t, logs)

		assert.ErrorIs(t, store.DeleteRun("run-1"), ErrRunNotFound)

		runs, err := store.ListRuns(0)
		require.NoError(t, err)
		assert.Len(t, runs, 3, "index no longer contains the deleted run")
	})
}

func TestMemoryRunStore(t *testing.T) {
	testRunStore(t, NewMemoryRunStore())
}

func TestRedisRunStore(t *testing.T) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	testRunStore(t, NewRedisRunStore(client))
}

func TestPostgreSQLRunStore(t *testing.T) {
	host := os.Getenv("POSTGRES_TEST_HOST")
	if host == "" {
		t.Skip("POSTGRES_TEST_HOST not set, skipping PostgreSQL storage test")
	}

	port := 5432
	if p := os.Getenv("POSTGRES_TEST_PORT"); p != "" {
		parsed, err := strconv.Atoi(p)
		require.NoError(t, err)
		port = parsed
	}

	provider, err := NewPostgreSQLProvider(PostgreSQLProviderConfig{
		Host:     host,
		Port:     port,
		User:     envOr("POSTGRES_TEST_USER", "postgres"),
		Password: envOr("POSTGRES_TEST_PASSWORD", "postgres"),
		Database: envOr("POSTGRES_TEST_DB", "upgraderunner_test"),
	})
	require.NoError(t, err)
	defer provider.Close()

	require.NoError(t, provider.Initialize())

	// Start from a clean slate.
	_, err = provider.db.Exec("DELETE FROM run_logs; DELETE FROM runs;")
	require.NoError(t, err)

	testRunStore(t, provider.GetRunStore())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
