/*
Package manager replicates the experiment state store with Raft consensus.

A coordinator normally keeps its state (status markers, results, partial
tables, queued tasks and the task graph) in a local bbolt file. Running
several coordinators for availability instead puts a Manager in front of
that file. Every write is proposed as a Command to the raft log and applied
by SweepFSM on each replica; reads are served from the local replica.

	┌──────────── COORDINATOR ────────────┐
	│  orchestrator · queue · status      │
	│            │ storage.Store          │
	│  ┌─────────▼─────────┐              │
	│  │      Manager      │── raft ──▶ other coordinators
	│  └─────────┬─────────┘              │
	│  ┌─────────▼─────────┐              │
	│  │  SweepFSM (apply) │              │
	│  └─────────┬─────────┘              │
	│  ┌─────────▼─────────┐              │
	│  │  bbolt sweep.db   │              │
	│  └───────────────────┘              │
	└─────────────────────────────────────┘

# Commands

	create_status   write a status marker unless present (compare-and-set)
	put_status      overwrite a status marker (snapshot restore only)
	put_result      store a kernel result, first write wins
	put_table       store a combined partial table
	create_tasks    persist tasks, assigning queue sequence numbers
	update_task     persist a delivery state change
	delete_task     remove a task
	save_nodes      persist graph nodes

Because create_status is decided inside the FSM, two coordinators seeding at
the same moment are ordered by the log and exactly one of them observes
success. The other receives storage.ErrExists, which the status tracker
reports as a DuplicateSeedError.

# Cluster

Every node is started with the same peer list. A node with no raft state
bootstraps the cluster from that list; a node with existing state rejoins.
Only the leader accepts writes; the coordinator on a follower waits for
leadership before it runs the orchestrator (see cmd/sweep).

Raft logs and stable state live in raft-log.db and raft-stable.db next to
the state store, via raft-boltdb. Snapshots serialize the whole state as
JSON (SweepSnapshot).
*/
package manager
