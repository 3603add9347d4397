package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	go hub.Run()
	return hub
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := testHub(t)
	conn := dialHub(t, hub)

	waitForClients(t, hub, 1)

	status := 200
	hub.Broadcast(AttemptUpdate{
		Kind:           "delivered",
		AttemptID:      "att-1",
		SubscriptionID: "sub-1",
		EventType:      "intervention_created",
		Attempt:        1,
		HTTPStatus:     &status,
		ResponseTimeMs: 42,
		Timestamp:      time.Now().UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var update AttemptUpdate
	require.NoError(t, json.Unmarshal(message, &update))
	assert.Equal(t, "delivered", update.Kind)
	assert.Equal(t, "att-1", update.AttemptID)
	require.NotNil(t, update.HTTPStatus)
	assert.Equal(t, 200, *update.HTTPStatus)
}

func TestHub_BroadcastWithoutClientsNeverBlocks(t *testing.T) {
	hub := testHub(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast(AttemptUpdate{Kind: "failed", Attempt: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked with no connected clients")
	}
}

func TestHub_DisconnectUpdatesClientCount(t *testing.T) {
	hub := testHub(t)
	conn := dialHub(t, hub)

	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d, have %d", want, hub.ClientCount())
}
