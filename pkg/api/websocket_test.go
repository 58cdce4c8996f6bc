package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/upgraderunner/pkg/workflow"
)

func dialHub(t *testing.T, hub *WebSocketHub) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleConnection(w, r, workflow.Snapshot{})
	}))
	t.Cleanup(ts.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Broadcasts arrive from the engine's run loop and from control handlers at
// the same time; every write to one connection must be serialized.
func TestWebSocketHubConcurrentBroadcasts(t *testing.T) {
	hub := NewWebSocketHub(nil)
	defer hub.Close()

	conn := dialHub(t, hub)

	// First message is the snapshot.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var first wsMessage
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "snapshot", first.Type)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				hub.Broadcast(workflow.Event{Type: workflow.EventItemProgress})
			}
		}()
	}
	wg.Wait()

	// Every message must arrive intact; interleaved frames would fail the
	// read loop long before the count is reached.
	for i := 0; i < writers*perWriter; i++ {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, "event", msg.Type)
	}

	assert.Equal(t, 1, hub.ConnectedClients())
}

func TestWebSocketHubDisconnectCleanup(t *testing.T) {
	hub := NewWebSocketHub(nil)
	defer hub.Close()

	conn := dialHub(t, hub)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var first wsMessage
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, 1, hub.ConnectedClients())

	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && hub.ConnectedClients() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, hub.ConnectedClients())
}
