/*
Package orchestrator runs a parameter sweep as a fan-out/fan-in task graph.

An experiment is seeded exactly once. Seeding writes the started marker
through the status tracker and submits a single build_graph task to the
coordinator queue. Graph construction enumerates the parameter space,
collapses equivalent tuples by cache key, and wires the graph:

	build_graph
	    │
	    ├── kernel ─┐
	    ├── kernel ─┼─▶ combine_table ─┐
	    └── kernel ─┘                  ├─▶ write_partition ─┐
	    ├── kernel ─┐                  │                    ├─▶ record_status
	    └── kernel ─┴─▶ combine_table ─┘                    │
	                          ...      ─▶ write_partition ──┘

Kernel tasks run on the worker queue; every reducer runs on the coordinator
queue. The pendulum sweep has one partition with one sub-computation. The
beam sweep has one partition per beam type and one sub-computation per
canonical integral; integrals with a parent are never computed and appear
as aliases in the artifact.

# Delivery

Tasks are delivered at least once. The queue completion hook
(HandleComplete) stores the kernel result under its partition scope and
counts the node down in the graph before the task is marked complete. A
redelivered task therefore finds its result already stored (first write
wins) and its node already complete, and the graph never counts a reducer
down twice.

# Failure

A task that exhausts its attempts reaches HandleDead. Its node fails, every
reducer downstream of it is blocked, each affected partition is reported as
incomplete, and the experiment is marked failed. Blocked partitions never
write an artifact and the completed marker is never recorded.

# Recovery

The graph is persisted in the state store. After a coordinator restart
Recover submits nodes that became ready but never reached the queue, and
resubmits graph construction when the experiment started but no graph was
saved.
*/
package orchestrator
