/*
Package reconciler reclaims the tasks of vanished workers.

Workers acknowledge a task only after it succeeded, and a worker that
crashes mid-task reports nothing. Every leased task therefore carries a
lease expiry. The reconciler wakes on a fixed interval (10 seconds by
default) and asks the queue to requeue every task whose lease has lapsed:

	leased ──(expiry passes)──▶ pending (attempts left)
	                       └──▶ dead    (attempts used up; dead hooks run)

Each cycle that reclaims tasks publishes a task.redelivered event and the
cycle is timed into sweep_reconcile_duration_seconds.

A redelivered task may still be acknowledged late by its original worker.
That acknowledgement is accepted once; the copy acknowledged second is
reported as already acknowledged and changes nothing.
*/
package reconciler
