/*
Package log provides structured logging for sweep using zerolog.

A single package-level Logger is initialized once by the CLI via Init and is
shared by every component. Components derive child loggers that carry a fixed
field so that log lines from the coordinator, the queue and the workers can be
filtered apart:

	orchLog := log.WithComponent("orchestrator")
	orchLog.Info().Str("partition", "simply-supported").Msg("Partition complete")

	workerLog := log.WithWorkerID("worker-3f2a")
	workerLog.Debug().Str("task_id", id).Msg("Leased task")

# Output formats

JSON output is intended for production deployments where logs are shipped to
an aggregator:

	{"level":"info","component":"queue","time":"2026-10-19T10:30:01Z","message":"Task acknowledged"}

Console output (the default) is intended for interactive runs:

	10:30:01 INF Task acknowledged component=queue task_id=7c1e...

# Levels

Debug is verbose (one line per lease and ack) and should only be used when
diagnosing delivery problems. Info is the production default: one line per
seed, reducer run, artifact write and status marker.
*/
package log
