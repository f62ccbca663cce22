package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the kernel's operational counters.
//
// The kernel tracks:
//   - Task flow: submissions, dispatch outcomes per agent
//   - Tick activity and latency
//   - Tool execution patterns per tool
//   - Policy blocks per rule
//   - Queue depth for backlog visibility
type Metrics struct {
	// TasksSubmitted counts accepted submissions.
	// Labels: agent_id
	TasksSubmitted *prometheus.CounterVec

	// TasksFinished counts terminal dispatch outcomes.
	// Labels: agent_id, status (completed|failed)
	TasksFinished *prometheus.CounterVec

	// Ticks counts kernel ticks by what they found.
	// Labels: outcome (dispatched|idle)
	Ticks *prometheus.CounterVec

	// TickDuration measures the dispatch time of non-idle ticks in seconds.
	// Buckets: 1ms .. 60s
	TickDuration prometheus.Histogram

	// ToolExecutions counts registry executions.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// PolicyBlocks counts invocations denied by the safety rules.
	// Labels: tool, rule_id
	PolicyBlocks *prometheus.CounterVec

	// QueueDepth is the number of tasks waiting for dispatch.
	QueueDepth prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default
// Prometheus registry. Call once per process.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with the given registerer. Tests
// pass a fresh prometheus.NewRegistry so kernels can be built repeatedly
// in one process.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibe_tasks_submitted_total",
				Help: "Total number of tasks accepted for dispatch",
			},
			[]string{"agent_id"},
		),

		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibe_tasks_finished_total",
				Help: "Total number of tasks that reached a terminal state",
			},
			[]string{"agent_id", "status"},
		),

		Ticks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibe_ticks_total",
				Help: "Total number of kernel ticks by outcome",
			},
			[]string{"outcome"},
		),

		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vibe_tick_duration_seconds",
				Help:    "Duration of ticks that dispatched a task",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibe_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vibe_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),

		PolicyBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibe_policy_blocks_total",
				Help: "Total number of tool invocations denied by safety rules",
			},
			[]string{"tool", "rule_id"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vibe_queue_depth",
				Help: "Number of tasks waiting for dispatch",
			},
		),
	}
}
