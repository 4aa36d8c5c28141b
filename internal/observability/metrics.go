package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize      prometheus.Gauge
	queueMutations *prometheus.CounterVec

	commandOutcomes *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	processorState *prometheus.GaugeVec

	spoolFiles       *prometheus.CounterVec
	scheduleTriggers *prometheus.CounterVec
	rpcRequests      *prometheus.CounterVec
	wsClients        prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

// processorStates are the label values of the processor state gauge
var processorStates = []string{"WAITING_START", "WAITING_QUEUE", "RUNNING"}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "cmdq_queue_size",
					Help: "Current number of queued commands.",
				},
			),
			queueMutations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cmdq_queue_mutations_total",
					Help: "Total queue mutations by type.",
				},
				[]string{"type"},
			),
			commandOutcomes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cmdq_command_outcomes_total",
					Help: "Total finished command runs by terminal state.",
				},
				[]string{"state"},
			),
			commandDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "cmdq_command_duration_seconds",
					Help:    "Command run duration in seconds by terminal state.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"state"},
			),
			processorState: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "cmdq_processor_state",
					Help: "Processor state (1 for the current state, 0 otherwise).",
				},
				[]string{"state"},
			),
			spoolFiles: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cmdq_spool_files_total",
					Help: "Total spool files ingested by status.",
				},
				[]string{"status"},
			),
			scheduleTriggers: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cmdq_schedule_triggers_total",
					Help: "Total schedule firings by schedule name and status.",
				},
				[]string{"schedule", "status"},
			),
			rpcRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cmdq_rpc_requests_total",
					Help: "Total gateway RPC requests by method and status.",
				},
				[]string{"method", "status"},
			),
			wsClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "cmdq_ws_clients",
					Help: "Current connected websocket clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.queueMutations,
			m.commandOutcomes,
			m.commandDuration,
			m.processorState,
			m.spoolFiles,
			m.scheduleTriggers,
			m.rpcRequests,
			m.wsClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueMutation(kind string, queueSize int) {
	m := getMetrics()
	m.queueMutations.WithLabelValues(kind).Inc()
	m.queueSize.Set(float64(queueSize))
}

func SetQueueSize(queueSize int) {
	m := getMetrics()
	m.queueSize.Set(float64(queueSize))
}

func RecordCommandOutcome(state string, duration time.Duration) {
	m := getMetrics()
	m.commandOutcomes.WithLabelValues(state).Inc()
	m.commandDuration.WithLabelValues(state).Observe(duration.Seconds())
}

func SetProcessorState(state string) {
	m := getMetrics()
	for _, s := range processorStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		m.processorState.WithLabelValues(s).Set(value)
	}
}

func RecordSpoolFile(success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.spoolFiles.WithLabelValues(status).Inc()
}

func RecordScheduleTrigger(schedule string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.scheduleTriggers.WithLabelValues(schedule, status).Inc()
}

func RecordRPCRequest(method string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.rpcRequests.WithLabelValues(method, status).Inc()
}

func SetWSClients(count int) {
	m := getMetrics()
	m.wsClients.Set(float64(count))
}
