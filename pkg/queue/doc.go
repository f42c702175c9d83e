/*
Package queue implements the persistent task queue shared by coordinators
and workers.

# Delivery contract

Tasks are routed to a named queue by their class (coordinator tasks to
"server", kernel tasks to "worker" by default) and persisted before they can
be leased. Delivery is at-least-once:

  - A worker leases one task at a time; leasing again before acking or
    failing returns ErrPrefetch.
  - A task is acknowledged only after it finishes. Completion hooks run
    before the task is marked complete, so hooks must be idempotent.
  - A failed attempt is requeued until MaxAttempts is reached; the task then
    becomes dead and the dead hooks run exactly once.
  - A lease that expires (LeaseTimeout, 10 minutes by default) is returned to
    the queue by RequeueExpired, which the reconciler calls periodically. The
    worker holding the expired lease may still ack; the first ack wins and
    later ones get ErrAlreadyAcked.

# Usage

	broker := queue.NewBroker(store, queue.Config{})
	if err := broker.Recover(); err != nil {
		return err
	}
	broker.OnComplete(orch.HandleComplete)
	broker.OnDead(orch.HandleDead)

	task, err := broker.Lease(ctx, "worker", workerID)
	...
	err = broker.Ack(ctx, task.ID, workerID, result)
*/
package queue
