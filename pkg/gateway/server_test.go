package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/harun/cmdq/pkg/history"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// idleCommand checkpoints until aborted or paused
type idleCommand struct {
	*commandqueue.Base
}

func newIdleCommand(description string) *idleCommand {
	return &idleCommand{Base: commandqueue.NewBase(description)}
}

func (c *idleCommand) Run(ctx context.Context) error {
	if err := c.BeginRun(); err != nil {
		return err
	}
	for {
		if err := c.Checkpoint(ctx); err != nil {
			return err
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type stubHistory struct {
	runs  []history.Run
	limit int
}

func (h *stubHistory) Recent(_ context.Context, limit int) ([]history.Run, error) {
	h.limit = limit
	return h.runs, nil
}

type testServer struct {
	*Server
	queue     *commandqueue.Queue
	processor *commandqueue.Processor
	history   *stubHistory
	baseURL   string
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	q := commandqueue.New()
	p := commandqueue.NewProcessor(q)
	h := &stubHistory{}

	srv, err := NewServer(Config{
		Host:         "127.0.0.1",
		Port:         0,
		SharedSecret: testSecret,
		Processor:    p,
		History:      h,
		StartTimeout: time.Second,
		StopTimeout:  time.Second,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		_ = srv.Stop()
		_ = p.Close(context.Background())
	})

	return &testServer{
		Server:    srv,
		queue:     q,
		processor: p,
		history:   h,
		baseURL:   "http://" + srv.Addr(),
	}
}

func (ts *testServer) call(t *testing.T, method string, params map[string]interface{}) RPCResponse {
	t.Helper()

	body, err := json.Marshal(RPCRequest{ID: "1", Method: method, Params: params, JSONRPC: "2.0"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.baseURL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(SecretHeader, testSecret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNewServer_Validation(t *testing.T) {
	p := commandqueue.NewProcessor(commandqueue.New())
	defer p.Close(context.Background())

	_, err := NewServer(Config{Port: -1, SharedSecret: "s", Processor: p})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 1, Processor: p})
	assert.ErrorContains(t, err, "shared secret")

	_, err = NewServer(Config{Port: 1, SharedSecret: "s"})
	assert.ErrorContains(t, err, "processor")
}

func TestServer_Healthz(t *testing.T) {
	ts := startTestServer(t)

	resp, err := http.Get(ts.baseURL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RPCRequiresSecret(t *testing.T) {
	ts := startTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.baseURL+"/rpc", strings.NewReader(`{"id":"1","method":"queue.list"}`))
	require.NoError(t, err)
	req.Header.Set(SecretHeader, "wrong")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_QueueMethods(t *testing.T) {
	ts := startTestServer(t)

	resp := ts.call(t, "queue.add", map[string]interface{}{
		"spec": []interface{}{
			map[string]interface{}{"kind": "wait", "duration": "1h", "description": "first"},
			map[string]interface{}{"kind": "shell", "command": "echo hi", "description": "second"},
			map[string]interface{}{"kind": "wait", "duration": "1h", "description": "third"},
		},
	})
	require.Nil(t, resp.Error)
	rawIDs := resp.Result.(map[string]interface{})["ids"].([]interface{})
	require.Len(t, rawIDs, 3)
	first, second, third := rawIDs[0].(string), rawIDs[1].(string), rawIDs[2].(string)

	resp = ts.call(t, "queue.moveBefore", map[string]interface{}{"target": first, "ids": []string{third}})
	require.Nil(t, resp.Error)
	assert.Equal(t, []string{"third", "first", "second"}, queueDescriptions(ts.queue))

	resp = ts.call(t, "queue.moveToTail", map[string]interface{}{"ids": []string{third}})
	require.Nil(t, resp.Error)
	assert.Equal(t, []string{"first", "second", "third"}, queueDescriptions(ts.queue))

	resp = ts.call(t, "queue.details", map[string]interface{}{"id": second})
	require.Nil(t, resp.Error)
	assert.Equal(t, "echo hi", resp.Result.(map[string]interface{})["text"])

	resp = ts.call(t, "queue.setDetails", map[string]interface{}{"id": second, "text": "echo bye"})
	require.Nil(t, resp.Error)
	details, err := ts.queue.CommandDetails(commandqueue.CommandID(second))
	require.NoError(t, err)
	assert.Equal(t, "echo bye", details.Text)

	resp = ts.call(t, "queue.setDetails", map[string]interface{}{"id": first, "text": "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, Conflict, resp.Error.Code)

	resp = ts.call(t, "queue.replace", map[string]interface{}{
		"id":   first,
		"spec": map[string]interface{}{"kind": "wait", "duration": "2h", "description": "replaced"},
	})
	require.Nil(t, resp.Error)

	resp = ts.call(t, "queue.summary", map[string]interface{}{"id": first})
	require.Nil(t, resp.Error)
	assert.Equal(t, "replaced", resp.Result.(map[string]interface{})["description"])

	resp = ts.call(t, "queue.remove", map[string]interface{}{"id": second})
	require.Nil(t, resp.Error)

	resp = ts.call(t, "queue.list", nil)
	require.Nil(t, resp.Error)
	items := resp.Result.(map[string]interface{})["items"].([]interface{})
	assert.Len(t, items, 2)

	resp = ts.call(t, "queue.remove", map[string]interface{}{"id": second})
	require.NotNil(t, resp.Error)
	assert.Equal(t, NotFound, resp.Error.Code)
}

func TestServer_QueueAddRejectsInvalidSpec(t *testing.T) {
	ts := startTestServer(t)

	resp := ts.call(t, "queue.add", map[string]interface{}{
		"spec": map[string]interface{}{"kind": "teleport"},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
	assert.Zero(t, ts.queue.Len())

	resp = ts.call(t, "queue.add", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func TestServer_ProcessorMethods(t *testing.T) {
	ts := startTestServer(t)

	_, err := ts.queue.AddToTail(newIdleCommand("idle"))
	require.NoError(t, err)

	resp := ts.call(t, "processor.state", nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, string(commandqueue.ProcessorWaitingStart), resp.Result.(map[string]interface{})["state"])

	resp = ts.call(t, "processor.start", map[string]interface{}{"timeoutMs": 1000})
	require.Nil(t, resp.Error)
	state := resp.Result.(map[string]interface{})
	assert.Equal(t, string(commandqueue.ProcessorRunning), state["state"])
	assert.Equal(t, "idle", state["current"].(map[string]interface{})["description"])

	resp = ts.call(t, "processor.stop", map[string]interface{}{"timeoutMs": 1000})
	require.Nil(t, resp.Error)
	assert.Equal(t, string(commandqueue.ProcessorWaitingStart), resp.Result.(map[string]interface{})["state"])

	resp = ts.call(t, "processor.skip", map[string]interface{}{"timeoutMs": 1000})
	require.Nil(t, resp.Error)
	_, busy := ts.processor.CurrentItem()
	assert.False(t, busy)
}

func TestServer_HistoryList(t *testing.T) {
	ts := startTestServer(t)
	ts.history.runs = []history.Run{{ID: 1, CommandID: "abc", Description: "done", State: "COMPLETED"}}

	resp := ts.call(t, "history.list", map[string]interface{}{"limit": 5})
	require.Nil(t, resp.Error)
	runs := resp.Result.(map[string]interface{})["runs"].([]interface{})
	require.Len(t, runs, 1)
	assert.Equal(t, "abc", runs[0].(map[string]interface{})["commandId"])
	assert.Equal(t, 5, ts.history.limit)

	resp = ts.call(t, "history.list", map[string]interface{}{"limit": 0})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func TestServer_WebSocketAuthAndEvents(t *testing.T) {
	ts := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ts.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var challenge AuthChallenge
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, "auth.challenge", challenge.Event)

	require.NoError(t, conn.WriteJSON(map[string]string{"method": "queue.list", "id": "early"}))
	var denied RPCResponse
	require.NoError(t, conn.ReadJSON(&denied))
	require.NotNil(t, denied.Error)
	assert.Equal(t, AuthenticationRequired, denied.Error.Code)

	require.NoError(t, conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: Sign(testSecret, challenge.Challenge)}))
	var result AuthResult
	require.NoError(t, conn.ReadJSON(&result))
	require.True(t, result.Success)

	clients := ts.call(t, "gateway.clients", nil)
	require.Nil(t, clients.Error)
	listed := clients.Result.(map[string]interface{})["clients"].([]interface{})
	require.Len(t, listed, 1)
	assert.Equal(t, true, listed[0].(map[string]interface{})["authenticated"])

	_, err = ts.queue.AddToTail(newIdleCommand("pushed"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev EventMessage
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventQueueChanged, ev.Event)

	require.NoError(t, conn.WriteJSON(RPCRequest{ID: "7", Method: "queue.list"}))
	var resp RPCResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "7", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestServer_WebSocketDropsAfterFailedAuth(t *testing.T) {
	ts := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ts.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var challenge AuthChallenge
	require.NoError(t, conn.ReadJSON(&challenge))

	for i := 0; i < maxAuthAttempts; i++ {
		require.NoError(t, conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: "bad"}))
		var result AuthResult
		require.NoError(t, conn.ReadJSON(&result))
		assert.False(t, result.Success)
	}

	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func queueDescriptions(q *commandqueue.Queue) []string {
	list := q.SummaryList()
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = item.Summary.Description
	}
	return out
}
