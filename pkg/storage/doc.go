/*
Package storage provides BoltDB-backed persistence for sweep state.

BoltStore keeps everything the coordinator must not lose across a restart in
one bbolt file (<dataDir>/sweep.db). Values are JSON encoded, one bucket per
record type:

	status    status markers keyed by name (started, completed, failed)
	results   nested bucket per "<partition>/<sub>" scope, keyed by cache key
	tables    partial tables keyed by "<partition>/<sub>"
	tasks     queue entries keyed by task ID, with a bucket sequence for FIFO order
	graph     task graph nodes keyed by node ID

# Write semantics

Most writes are upserts. Two are not:

  - CreateStatus fails with ErrExists when the marker is present. The read
    and the write happen in the same update transaction, so two concurrent
    callers cannot both succeed.
  - PutResult keeps the first result stored for a key. A redelivered task
    that completes a second time does not replace it.

# Usage

	store, err := storage.NewBoltStore("/var/lib/sweep")
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.PutResult("pendulum/simulation", &types.TaskResult{Key: "6:0,1"})

Missing records are reported with an error wrapping ErrNotFound:

	if _, err := store.GetTask(id); errors.Is(err, storage.ErrNotFound) {
		...
	}
*/
package storage
