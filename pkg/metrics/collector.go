package metrics

import (
	"time"

	"github.com/cuemby/sweep/pkg/types"
)

// TaskSource lists the tasks known to the coordinator
type TaskSource interface {
	ListTasks() ([]*types.Task, error)
}

// RaftSource reports replication state. Optional.
type RaftSource interface {
	IsLeader() bool
	AppliedIndex() uint64
}

// Collector periodically refreshes gauges from coordinator state
type Collector struct {
	tasks    TaskSource
	raft     RaftSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. raft may be nil.
func NewCollector(tasks TaskSource, raft RaftSource) *Collector {
	return &Collector{
		tasks:    tasks,
		raft:     raft,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTaskMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.tasks.ListTasks()
	if err != nil {
		return
	}

	states := map[types.TaskState]int{
		types.TaskStatePending:  0,
		types.TaskStateLeased:   0,
		types.TaskStateComplete: 0,
		types.TaskStateDead:     0,
	}
	depth := make(map[string]int)

	for _, task := range tasks {
		states[task.State]++
		if task.State == types.TaskStatePending {
			depth[task.Queue]++
		} else if _, ok := depth[task.Queue]; !ok {
			depth[task.Queue] = 0
		}
	}

	for state, count := range states {
		TasksTotal.WithLabelValues(string(state)).Set(float64(count))
	}
	for queue, count := range depth {
		QueueDepth.WithLabelValues(queue).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}
	if c.raft.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftAppliedIndex.Set(float64(c.raft.AppliedIndex()))
}
