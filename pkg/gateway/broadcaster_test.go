package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBroadcaster_BroadcastAssignsTypeAndSequence(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	registry := NewClientRegistry()
	registry.Add(&Client{ID: "client-1", Conn: serverConn, Authenticated: true})

	broadcaster := NewEventBroadcaster(registry, zerolog.Nop())
	broadcaster.Broadcast(EventTick, map[string]interface{}{"status": "alive"})
	broadcaster.BroadcastMessage(EventMessage{Event: EventShutdown, TraceID: "trace-1"})

	first := readEvent(t, clientConn)
	second := readEvent(t, clientConn)

	assert.Equal(t, "event", first.Type)
	assert.Equal(t, EventTick, first.Event)
	assert.NotZero(t, first.Timestamp)
	assert.Equal(t, EventShutdown, second.Event)
	assert.Equal(t, "trace-1", second.TraceID)
	assert.Equal(t, first.Seq+1, second.Seq)
	assert.Equal(t, second.Seq, broadcaster.Seq())
}

func TestEventBroadcaster_SkipsUnauthenticatedClients(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	registry := NewClientRegistry()
	registry.Add(&Client{ID: "client-1", Conn: serverConn})

	broadcaster := NewEventBroadcaster(registry, zerolog.Nop())
	broadcaster.Broadcast(EventTick, nil)
	assert.EqualValues(t, 1, broadcaster.Seq())

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := clientConn.ReadMessage()
	assert.Error(t, err)
}

func TestEventBroadcaster_QueueObserver(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	registry := NewClientRegistry()
	registry.Add(&Client{ID: "client-1", Conn: serverConn, Authenticated: true})
	broadcaster := NewEventBroadcaster(registry, zerolog.Nop())

	q := commandqueue.New()
	q.AddObserver(broadcaster.QueueObserver())
	id, err := q.AddToTail(newIdleCommand("idle"))
	require.NoError(t, err)

	ev := readEvent(t, clientConn)
	assert.Equal(t, EventQueueChanged, ev.Event)
	data := ev.Data.(map[string]interface{})
	assert.Equal(t, "added", data["type"])
	assert.Equal(t, []interface{}{string(id)}, data["ids"])
	assert.EqualValues(t, 1, data["size"])
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	var event EventMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func websocketConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	errCh := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- err
			return
		}
		serverConnCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConnCh:
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server websocket connection")
	}

	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
		srv.Close()
	}

	return serverConn, clientConn, cleanup
}
