/*
Package types defines the data model shared by every sweep component.

# Sweep data

A ParameterTuple is one point of the sweep grid. A CacheKey is its canonical
projection under the sweep's equivalence relation; tuples that produce the
same kernel output share a key, so the kernel runs once per key. TaskResult is
what a worker returns for a key, and PartialTable gathers the results of one
sub-computation (an integral id, or the pendulum simulation batch) of a
partition. One PartitionKey yields exactly one artifact.

# Experiment status

ExperimentStatus holds the write-once "started", "completed" and "failed"
markers. Timestamps use StatusTimeFormat (second precision, no zone), which is
also the on-disk format of marker files.

# Queue and graph

Task is a queued unit of work, tagged with a TaskClass at submission so the
routing table can send it to the coordinator or the worker pool. GraphNode is
a vertex of the fan-out/fan-in graph: kernel nodes feed combine reducers,
combine reducers feed the partition reducer, and partition reducers feed the
terminal node that records completion.

	build ─► kernel ×N ─► combine ─┐
	         kernel ×M ─► combine ─┼─► partition ─► terminal
	                               …
*/
package types
