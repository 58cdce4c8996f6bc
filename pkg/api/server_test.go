package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/upgraderunner/pkg/config"
	"github.com/tcmartin/upgraderunner/pkg/manager"
	"github.com/tcmartin/upgraderunner/pkg/services"
	"github.com/tcmartin/upgraderunner/pkg/storage"
	"github.com/tcmartin/upgraderunner/pkg/workflow"
)

// idleManager answers every manager call with an empty, up-to-date system so
// workflow runs complete without pausing anywhere except the dry run.
type idleManager struct{}

func (m *idleManager) SubmitTask(ctx context.Context, task manager.TaskDescriptor) error { return nil }
func (m *idleManager) GetTaskStatus(ctx context.Context) (*manager.TaskStatus, error)    { return nil, nil }
func (m *idleManager) DeleteTask(ctx context.Context) error                              { return nil }
func (m *idleManager) PatchTaskStatus(ctx context.Context, status string) error          { return nil }
func (m *idleManager) SubmitMigration(ctx context.Context, migration manager.MigrationDescriptor) error {
	return nil
}
func (m *idleManager) GetMigrationStatus(ctx context.Context) (*manager.MigrationStatus, error) {
	return nil, nil
}
func (m *idleManager) DeleteMigrationTask(ctx context.Context) error { return nil }
func (m *idleManager) GetSelfUpdateStatus(ctx context.Context) (*manager.SelfUpdateStatus, error) {
	return &manager.SelfUpdateStatus{CurrentVersion: "1.0.0", LatestVersion: "1.0.0"}, nil
}
func (m *idleManager) UpdateVersionInfo(ctx context.Context) (*manager.VersionInfo, error) {
	return &manager.VersionInfo{Success: true}, nil
}

type testServer struct {
	http  *httptest.Server
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := services.HashPassword("hunter2")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Auth.Username = "admin"
	cfg.Auth.PasswordHash = hash
	cfg.Auth.JWTSecret = "test-secret"

	auth := services.NewAuthService(cfg.Auth.Username, cfg.Auth.PasswordHash, cfg.Auth.JWTSecret, 1)
	workflows := services.NewWorkflowService(&idleManager{}, storage.NewMemoryRunStore(), nil)

	server := NewServer(cfg, workflows, auth, nil)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	token, err := auth.GenerateToken("admin")
	require.NoError(t, err)

	return &testServer{http: ts, token: token}
}

func (ts *testServer) request(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) workflow.Snapshot {
	t.Helper()
	defer resp.Body.Close()

	var snap workflow.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func waitForAPI(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestLoginEndpoint(t *testing.T) {
	ts := newTestServer(t)

	t.Run("ValidCredentials", func(t *testing.T) {
		resp, err := http.Post(ts.http.URL+"/api/v1/login", "application/json",
			strings.NewReader(`{"username":"admin","password":"hunter2"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body["token"])
	})

	t.Run("WrongPassword", func(t *testing.T) {
		resp, err := http.Post(ts.http.URL+"/api/v1/login", "application/json",
			strings.NewReader(`{"username":"admin","password":"guess"}`))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestWorkflowEndpointsRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/api/v1/workflow")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWorkflowLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Before any run the snapshot is empty.
	snap := decodeSnapshot(t, ts.request(t, http.MethodGet, "/api/v1/workflow", nil))
	assert.Empty(t, snap.RunID)

	// Start the default plan with fast polling.
	plan := `
metadata:
  name: test upgrade
steps:
  - type: check-tasks
  - type: check-manager
  - type: composer-dry-run
    params: {interval: 10ms, timeout: 2s}
  - type: composer-update
    params: {interval: 10ms, timeout: 2s}
  - type: update-versions
`
	resp := ts.request(t, http.MethodPost, "/api/v1/workflow/start", map[string]string{"plan": plan})
	snap = decodeSnapshot(t, resp)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, snap.RunID)
	runID := snap.RunID

	// Starting again while running conflicts.
	resp = ts.request(t, http.MethodPost, "/api/v1/workflow/start", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The dry run suspends for confirmation.
	waitForAPI(t, func() bool {
		return decodeSnapshot(t, ts.request(t, http.MethodGet, "/api/v1/workflow", nil)).IsPaused
	}, "dry run did not pause")

	snap = decodeSnapshot(t, ts.request(t, http.MethodGet, "/api/v1/workflow", nil))
	require.NotEmpty(t, snap.PendingActions)
	assert.Equal(t, "confirm-update", snap.PendingActions[0].ID)

	// Unknown action is rejected.
	resp = ts.request(t, http.MethodPost, "/api/v1/workflow/actions/no-such-action", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Confirm and wait for completion.
	resp = ts.request(t, http.MethodPost, "/api/v1/workflow/actions/confirm-update", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	waitForAPI(t, func() bool {
		return decodeSnapshot(t, ts.request(t, http.MethodGet, "/api/v1/workflow", nil)).IsComplete
	}, "run did not complete")

	// History of the live run.
	resp = ts.request(t, http.MethodGet, "/api/v1/workflow/history", nil)
	var history []workflow.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	resp.Body.Close()
	assert.NotEmpty(t, history)

	// The run was persisted.
	resp = ts.request(t, http.MethodGet, "/api/v1/runs", nil)
	var runs []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	resp.Body.Close()
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0]["id"])
	assert.Equal(t, "completed", runs[0]["status"])

	resp = ts.request(t, http.MethodGet, "/api/v1/runs/"+runID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.request(t, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s/logs", runID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.request(t, http.MethodGet, "/api/v1/runs/unknown-run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestWorkflowControlPreconditions(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"pause", "resume", "retry", "skip", "cancel"} {
		resp := ts.request(t, http.MethodPost, "/api/v1/workflow/"+path, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
	}
}

func TestStartRejectsBadPlan(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/api/v1/workflow/start", map[string]string{
		"plan": "metadata:\n  name: bad\nsteps:\n  - type: reboot-server\n",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "reboot-server")
}

func TestWebSocketStream(t *testing.T) {
	ts := newTestServer(t)

	t.Run("RequiresToken", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("DeliversSnapshotAndEvents", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws?token=" + ts.token
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		defer conn.Close()

		// First message is always the current snapshot.
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var first map[string]interface{}
		require.NoError(t, conn.ReadJSON(&first))
		assert.Equal(t, "snapshot", first["type"])

		// Start a run and expect live events.
		respStart := ts.request(t, http.MethodPost, "/api/v1/workflow/start", map[string]string{
			"plan": "metadata:\n  name: ws test\nsteps:\n  - type: check-tasks\n  - type: update-versions\n",
		})
		respStart.Body.Close()
		require.Equal(t, http.StatusAccepted, respStart.StatusCode)

		sawRunStarted := false
		for i := 0; i < 20 && !sawRunStarted; i++ {
			conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			var msg struct {
				Type  string          `json:"type"`
				Event *workflow.Event `json:"event"`
			}
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Type == "event" && msg.Event != nil && msg.Event.Type == workflow.EventRunStarted {
				sawRunStarted = true
			}
		}
		assert.True(t, sawRunStarted, "expected a run.started event on the socket")
	})
}

func TestSSEStreamRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
