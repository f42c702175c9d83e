package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	TasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_tasks_submitted_total",
			Help: "Total number of tasks submitted by class",
		},
		[]string{"class"},
	)

	TasksAcked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_tasks_acked_total",
			Help: "Total number of tasks acknowledged by class",
		},
		[]string{"class"},
	)

	TasksFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_tasks_failed_total",
			Help: "Total number of failed task attempts by class",
		},
		[]string{"class"},
	)

	TasksDead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_tasks_dead_total",
			Help: "Total number of tasks that exhausted their attempts by class",
		},
		[]string{"class"},
	)

	TasksRedelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_tasks_redelivered_total",
			Help: "Total number of tasks returned to the queue after lease expiry",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sweep_queue_depth",
			Help: "Number of pending tasks by queue",
		},
		[]string{"queue"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sweep_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	// Orchestration metrics
	DedupDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_dedup_dropped_total",
			Help: "Total number of tuples skipped because their cache key was already seen",
		},
		[]string{"partition"},
	)

	ReducerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_reducer_runs_total",
			Help: "Total number of reducer executions by kind",
		},
		[]string{"kind"},
	)

	ExperimentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sweep_experiment_state",
			Help: "Current experiment state (1 for the active state)",
		},
		[]string{"state"},
	)

	// Kernel metrics
	KernelDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_kernel_duration_seconds",
			Help:    "Kernel execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_reconcile_cycles_total",
			Help: "Total number of lease reaper cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_reconcile_duration_seconds",
			Help:    "Lease reaper cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_raft_is_leader",
			Help: "Whether this coordinator is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksSubmitted)
	prometheus.MustRegister(TasksAcked)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(TasksDead)
	prometheus.MustRegister(TasksRedelivered)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(DedupDropped)
	prometheus.MustRegister(ReducerRuns)
	prometheus.MustRegister(ExperimentState)
	prometheus.MustRegister(KernelDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetExperimentState marks state as the single active experiment state
func SetExperimentState(state string) {
	for _, s := range []string{"not_started", "started", "completed", "failed"} {
		v := 0.0
		if s == state {
			v = 1
		}
		ExperimentState.WithLabelValues(s).Set(v)
	}
}
