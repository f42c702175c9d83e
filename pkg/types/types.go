package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SweepKind selects which sweep an experiment runs
type SweepKind string

const (
	SweepPendulum SweepKind = "pendulum"
	SweepBeam     SweepKind = "beam"
)

// ParameterTuple identifies one point of a sweep. Names and Values are
// parallel; Index holds the grid position of each value (1-based modes for
// mode sweeps, 0-based grid offsets for angle grids).
type ParameterTuple struct {
	Names  []string
	Values []float64
	Index  []int
}

// Value returns the value of the named axis, or 0 if absent
func (p ParameterTuple) Value(name string) float64 {
	for i, n := range p.Names {
		if n == name {
			return p.Values[i]
		}
	}
	return 0
}

// Int returns the index of the named axis, or 0 if absent
func (p ParameterTuple) Int(name string) int {
	for i, n := range p.Names {
		if n == name {
			return p.Index[i]
		}
	}
	return 0
}

// Ints returns the indices of the named axes in the given order
func (p ParameterTuple) Ints(names ...string) []int {
	out := make([]int, len(names))
	for i, n := range names {
		out[i] = p.Int(n)
	}
	return out
}

func (p ParameterTuple) String() string {
	return fmt.Sprintf("%v=%v", p.Names, p.Values)
}

// CacheKey is the canonical identifier of a parameter tuple under the
// sweep's equivalence relation
type CacheKey string

// PartitionKey identifies the grouping unit persisted as one artifact
type PartitionKey string

// TaskResult is the outcome of one kernel invocation
type TaskResult struct {
	Key         CacheKey       `json:"key"`
	Tuple       ParameterTuple `json:"tuple"`
	Value       float64        `json:"value"`
	Error       float64        `json:"error"`
	ValueStr    string         `json:"value_str"`
	ErrorStr    string         `json:"error_str"`
	ScaleFactor int8           `json:"scale_factor"`

	// Outputs holds kernel specific columns (final theta1, theta2 for the
	// pendulum kernel)
	Outputs []float64 `json:"outputs,omitempty"`
}

// PartialTable maps cache keys to results for one sub-computation of a
// partition
type PartialTable struct {
	Partition PartitionKey             `json:"partition"`
	Name      string                   `json:"name"`
	Variables []string                 `json:"variables"`
	Parent    string                   `json:"parent,omitempty"`
	Rows      map[CacheKey]*TaskResult `json:"rows"`
	CreatedAt time.Time                `json:"created_at"`
}

// ResultScope returns the result-store scope for a sub-computation
func ResultScope(partition PartitionKey, sub string) string {
	return string(partition) + "/" + sub
}

// StatusTimeFormat is the marker timestamp layout: ISO 8601, second
// precision, no timezone
const StatusTimeFormat = "2006-01-02T15:04:05"

// Status names recorded by the tracker
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StatusMarker is a durable, write-once experiment marker
type StatusMarker struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// ExperimentState is the coarse lifecycle state of an experiment
type ExperimentState string

const (
	ExperimentNotStarted ExperimentState = "not_started"
	ExperimentStarted    ExperimentState = "started"
	ExperimentCompleted  ExperimentState = "completed"
	ExperimentFailed     ExperimentState = "failed"
)

// ExperimentStatus is the pair of started/completed markers (plus failed)
type ExperimentStatus struct {
	Started   *StatusMarker `json:"started,omitempty"`
	Completed *StatusMarker `json:"completed,omitempty"`
	Failed    *StatusMarker `json:"failed,omitempty"`
}

// State derives the lifecycle state from the recorded markers
func (s ExperimentStatus) State() ExperimentState {
	switch {
	case s.Started == nil:
		return ExperimentNotStarted
	case s.Failed != nil:
		return ExperimentFailed
	case s.Completed != nil:
		return ExperimentCompleted
	default:
		return ExperimentStarted
	}
}

// TaskClass separates lightweight coordinator tasks from numeric worker tasks
type TaskClass string

const (
	ClassCoordinator TaskClass = "coordinator"
	ClassWorker      TaskClass = "worker"
)

// TaskState represents the delivery state of a queued task
type TaskState string

const (
	TaskStatePending  TaskState = "pending"
	TaskStateLeased   TaskState = "leased"
	TaskStateComplete TaskState = "complete"
	TaskStateDead     TaskState = "dead"
)

// Task is one unit of work in the queue
type Task struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Class       TaskClass       `json:"class"`
	Queue       string          `json:"queue"`
	NodeID      string          `json:"node_id"`
	Args        json.RawMessage `json:"args,omitempty"`
	State       TaskState       `json:"state"`
	Seq         uint64          `json:"seq"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	WorkerID    string          `json:"worker_id,omitempty"`
	LeaseExpiry time.Time       `json:"lease_expiry,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NodeKind identifies the role of a node in the task graph
type NodeKind string

const (
	NodeBuild     NodeKind = "build"
	NodeKernel    NodeKind = "kernel"
	NodeCombine   NodeKind = "combine"
	NodePartition NodeKind = "partition"
	NodeTerminal  NodeKind = "terminal"
)

// NodeState tracks completion of a graph node
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeSubmitted NodeState = "submitted"
	NodeComplete  NodeState = "complete"
	NodeFailed    NodeState = "failed"
	NodeBlocked   NodeState = "blocked"
)

// GraphNode is a vertex of the fan-out/fan-in graph. Remaining counts the
// dependencies that have not completed yet; the node is ready at zero.
type GraphNode struct {
	ID         string          `json:"id"`
	Kind       NodeKind        `json:"kind"`
	Partition  PartitionKey    `json:"partition,omitempty"`
	Sub        string          `json:"sub,omitempty"`
	Key        CacheKey        `json:"key,omitempty"`
	TaskName   string          `json:"task_name"`
	Class      TaskClass       `json:"class"`
	Args       json.RawMessage `json:"args,omitempty"`
	Deps       []string        `json:"deps,omitempty"`
	Dependents []string        `json:"dependents,omitempty"`
	FanOut     int             `json:"fan_out"`
	Remaining  int             `json:"remaining"`
	State      NodeState       `json:"state"`
	Error      string          `json:"error,omitempty"`
}
