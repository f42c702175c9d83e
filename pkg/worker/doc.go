/*
Package worker consumes a task queue with a fixed number of slots.

Each slot leases one task at a time (prefetch of one), runs the handler
registered for the task name, and acknowledges the task only after the
handler returned successfully. A handler error is reported as a failed
attempt and the queue decides between redelivery and dead-lettering.

	┌──────────── Worker ────────────┐
	│  slot 0: Lease → run → Ack     │
	│  slot 1: Lease → run → Fail    │◀──▶ Source (queue.Broker or
	│  ...                           │     client.Client over gRPC)
	└────────────────────────────────┘

When the worker shuts down mid-task the task is neither acknowledged nor
failed. Its lease expires and another worker receives it.

Kernel tasks are wrapped with KernelHandler, which decodes a kernel.Request
from the task arguments and encodes the resulting types.TaskResult.
*/
package worker
