package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetProcessorState(t *testing.T) {
	SetProcessorState("RUNNING")

	m := getMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processorState.WithLabelValues("RUNNING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.processorState.WithLabelValues("WAITING_QUEUE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.processorState.WithLabelValues("WAITING_START")))

	SetProcessorState("WAITING_START")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.processorState.WithLabelValues("RUNNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processorState.WithLabelValues("WAITING_START")))
}

func TestRecordQueueMutation(t *testing.T) {
	m := getMetrics()
	before := testutil.ToFloat64(m.queueMutations.WithLabelValues("added"))

	RecordQueueMutation("added", 3)

	assert.Equal(t, before+1, testutil.ToFloat64(m.queueMutations.WithLabelValues("added")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueSize))

	SetQueueSize(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueSize))
}

func TestRecordCounters(t *testing.T) {
	m := getMetrics()

	spoolBefore := testutil.ToFloat64(m.spoolFiles.WithLabelValues("error"))
	RecordSpoolFile(false)
	assert.Equal(t, spoolBefore+1, testutil.ToFloat64(m.spoolFiles.WithLabelValues("error")))

	schedBefore := testutil.ToFloat64(m.scheduleTriggers.WithLabelValues("nightly", "success"))
	RecordScheduleTrigger("nightly", true)
	assert.Equal(t, schedBefore+1, testutil.ToFloat64(m.scheduleTriggers.WithLabelValues("nightly", "success")))

	rpcBefore := testutil.ToFloat64(m.rpcRequests.WithLabelValues("queue.list", "success"))
	RecordRPCRequest("queue.list", true)
	assert.Equal(t, rpcBefore+1, testutil.ToFloat64(m.rpcRequests.WithLabelValues("queue.list", "success")))

	outcomeBefore := testutil.ToFloat64(m.commandOutcomes.WithLabelValues("COMPLETED"))
	RecordCommandOutcome("COMPLETED", 150*time.Millisecond)
	assert.Equal(t, outcomeBefore+1, testutil.ToFloat64(m.commandOutcomes.WithLabelValues("COMPLETED")))

	SetWSClients(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.wsClients))
}

func TestMetricsHandler(t *testing.T) {
	SetQueueSize(7)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cmdq_queue_size 7")
}

func TestAuditLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() { _ = GetAuditLogger().Close() })

	RecordCommandAudit(context.Background(), "cmd-1", "run", "COMPLETED", map[string]interface{}{"duration_ms": 12})
	RecordControlAudit(context.Background(), "processor.stop", "rpc", "ok", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "command", entry["type"])
	assert.Equal(t, "cmd-1", entry["actor"])
	assert.Equal(t, "COMPLETED", entry["status"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "control", entry["type"])
	assert.Equal(t, "processor.stop", entry["action"])
}

func TestAuditLogger_CloseFallsBackToStderr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))

	audit := GetAuditLogger()
	require.NoError(t, audit.Close())
	require.NoError(t, audit.Close())

	assert.NotPanics(t, func() {
		RecordSecurityAudit(context.Background(), "auth", "127.0.0.1", "denied", nil)
	})
}
