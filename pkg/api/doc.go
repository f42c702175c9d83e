/*
Package api exposes a coordinator over gRPC and HTTP.

# gRPC

The sweep.SweepAPI service is described by a hand-written grpc.ServiceDesc
and carried by a JSON codec registered under the "json" content subtype.
Messages are plain Go structs (messages.go).

	Method          Caller    Effect
	─────────────   ───────   ─────────────────────────────────────────
	Seed            CLI       start the experiment (AlreadyExists on the
	                          second call, carrying the started time)
	GetStatus       CLI       started/completed/failed markers
	GetQueueDepth   CLI       pending tasks on a queue
	Lease           worker    long-poll for the next task
	Ack             worker    acknowledge a finished task
	Fail            worker    report a failed attempt

Lease is held open on the server for at most LeaseWait. When no task
arrives in that window it answers with an empty response and the client
asks again, so no gRPC deadline is needed on the worker side.

Domain errors travel as status codes and are mapped back by FromStatus:

	status.DuplicateSeedError   AlreadyExists
	queue.ErrAlreadyAcked       FailedPrecondition
	queue.ErrTaskDead           Aborted
	queue.ErrUnknownTask        NotFound
	queue.ErrPrefetch           ResourceExhausted

Every call is counted and timed by MetricsInterceptor. The server returned
by NewLocalServer is meant for a Unix socket and additionally installs
ReadOnlyInterceptor, which rejects every method not prefixed with Get,
List or Watch.

# HTTP

HealthServer serves /health (liveness), /ready (raft leadership when
replicated, plus a marker read against the state store), /health/components
and /metrics.
*/
package api
