/*
Package metrics provides Prometheus metrics and health endpoints for sweep
coordinators and workers.

All metrics are package-level collectors registered with the default
registry at init, and exposed through Handler on /metrics.

# Metric Families

Queue:

	sweep_tasks_submitted_total{class}     counter
	sweep_tasks_acked_total{class}         counter
	sweep_tasks_failed_total{class}        counter, one per failed attempt
	sweep_tasks_dead_total{class}          counter, attempts exhausted
	sweep_tasks_redelivered_total          counter, lease expired
	sweep_queue_depth{queue}               gauge, pending tasks
	sweep_tasks_total{state}               gauge

Orchestration:

	sweep_dedup_dropped_total{partition}   counter
	sweep_reducer_runs_total{kind}         counter (combine, partition, terminal)
	sweep_experiment_state{state}          gauge, 1 for the active state
	sweep_kernel_duration_seconds{task}    histogram

Transport and replication:

	sweep_api_requests_total{method,status}
	sweep_api_request_duration_seconds{method}
	sweep_raft_is_leader
	sweep_raft_applied_index

Gauges derived from stored state (task counts, queue depth, raft state) are
refreshed by a Collector every 15 seconds. Counters are incremented inline.

# Timing

	timer := metrics.NewTimer()
	res, err := kernel.Compute(ctx, req)
	timer.ObserveDurationVec(metrics.KernelDuration, task.Name)

# Health

Components report their state with RegisterComponent/UpdateComponent.
ComponentsHandler serves the summary and returns 503 if any component is
unhealthy. GetReadiness lists the required components that are missing or
unhealthy: store, queue and api for a coordinator (plus raft when
replicated), the coordinator checks for a worker. The /ready endpoint of
api.HealthServer is built on it.
*/
package metrics
