package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/sweep/pkg/events"
	"github.com/cuemby/sweep/pkg/graph"
	"github.com/cuemby/sweep/pkg/kernel"
	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/metrics"
	"github.com/cuemby/sweep/pkg/output"
	"github.com/cuemby/sweep/pkg/status"
	"github.com/cuemby/sweep/pkg/types"
)

// DuplicateSeedError is returned by Seed once the experiment has started
type DuplicateSeedError = status.DuplicateSeedError

// Store is the result store and graph persistence the orchestrator needs
type Store interface {
	graph.Store
	PutResult(scope string, result *types.TaskResult) error
	ListResults(scope string) ([]*types.TaskResult, error)
	PutTable(table *types.PartialTable) error
	GetTable(partition types.PartitionKey, name string) (*types.PartialTable, error)
}

// Submitter hands tasks to the queue
type Submitter interface {
	Submit(ctx context.Context, tasks ...*types.Task) error
}

// Orchestrator drives one experiment: it guards seeding, builds the task
// graph, reacts to task completions and failures, and runs the reducers.
type Orchestrator struct {
	exp       Experiment
	tracker   *status.Tracker
	store     Store
	queue     Submitter
	catalog   *kernel.Catalog
	events    *events.Broker
	artifacts *output.ArtifactWriter
	logger    zerolog.Logger

	// buildMu serializes graph construction
	buildMu sync.Mutex
	graph   *graph.Graph
}

// Config holds orchestrator dependencies
type Config struct {
	Experiment Experiment
	Tracker    *status.Tracker
	Store      Store
	Queue      Submitter
	// Catalog defaults to kernel.DefaultCatalog
	Catalog *kernel.Catalog
	// Events may be nil
	Events *events.Broker
}

// New creates an orchestrator, loading any graph persisted in the store
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Experiment.Validate(); err != nil {
		return nil, err
	}
	if cfg.Catalog == nil {
		cfg.Catalog = kernel.DefaultCatalog()
	}
	g, err := graph.Load(cfg.Store)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		exp:       cfg.Experiment,
		tracker:   cfg.Tracker,
		store:     cfg.Store,
		queue:     cfg.Queue,
		catalog:   cfg.Catalog,
		events:    cfg.Events,
		artifacts: output.NewArtifactWriter(),
		logger:    log.WithExperiment(string(cfg.Experiment.Kind)).With().Str("component", "orchestrator").Logger(),
		graph:     g,
	}, nil
}

// Graph returns the experiment graph
func (o *Orchestrator) Graph() *graph.Graph {
	return o.graph
}

// Seed starts the experiment. It records the started marker atomically and
// submits the graph construction task. A second call fails with
// *DuplicateSeedError and has no other effect.
func (o *Orchestrator) Seed(ctx context.Context) error {
	if err := o.tracker.Seed(ctx); err != nil {
		var dup *DuplicateSeedError
		if errors.As(err, &dup) {
			o.logger.Warn().Msg("Computations have already been seeded")
		}
		return err
	}

	metrics.SetExperimentState(string(types.ExperimentStarted))
	o.publish(events.EventExperimentStarted, "experiment started", nil)
	return o.submitBuild(ctx)
}

func (o *Orchestrator) submitBuild(ctx context.Context) error {
	return o.queue.Submit(ctx, &types.Task{Name: TaskBuildGraph, Class: types.ClassCoordinator})
}

// Status returns the experiment markers
func (o *Orchestrator) Status(ctx context.Context) (types.ExperimentStatus, error) {
	return o.tracker.Status(ctx)
}

// Recover resumes an experiment after a coordinator restart. Nodes whose
// dependencies completed but whose task was never submitted are submitted
// now. If the experiment started but its graph was never built, the build
// task is submitted again.
func (o *Orchestrator) Recover(ctx context.Context, pending []*types.Task) error {
	st, err := o.tracker.Status(ctx)
	if err != nil {
		return err
	}
	metrics.SetExperimentState(string(st.State()))
	if st.State() != types.ExperimentStarted {
		return nil
	}

	if o.graph.Len() == 0 {
		for _, t := range pending {
			if t.Name == TaskBuildGraph {
				return nil
			}
		}
		o.logger.Info().Msg("Resubmitting graph construction")
		return o.submitBuild(ctx)
	}

	return o.submitReady(ctx, o.graph.ClaimReady())
}

// HandleComplete is the queue completion hook. It stores kernel results,
// advances the graph and submits every reducer that became ready. It is
// idempotent.
func (o *Orchestrator) HandleComplete(ctx context.Context, task *types.Task, result json.RawMessage) error {
	if task.NodeID == "" {
		return nil
	}
	node, ok := o.graph.Node(task.NodeID)
	if !ok {
		return fmt.Errorf("task %s refers to unknown node %s", task.ID, task.NodeID)
	}

	if node.Kind == types.NodeKernel {
		var res types.TaskResult
		if err := json.Unmarshal(result, &res); err != nil {
			return fmt.Errorf("invalid result for %s: %w", node.ID, err)
		}
		res.Key = node.Key
		if err := o.store.PutResult(types.ResultScope(node.Partition, node.Sub), &res); err != nil {
			return fmt.Errorf("failed to store result: %w", err)
		}
	}

	ready, err := o.graph.Complete(node.ID)
	if err != nil {
		return err
	}
	return o.submitReady(ctx, ready)
}

// HandleDead is the queue dead-task hook. The failed node blocks its
// reducers, the affected partitions are reported incomplete and the
// experiment is marked failed. The completed marker is never written.
func (o *Orchestrator) HandleDead(ctx context.Context, task *types.Task) {
	logger := o.logger.With().Str("task_id", task.ID).Str("name", task.Name).Logger()
	o.publish(events.EventTaskFailed, task.Error, map[string]string{
		"task_id": task.ID,
		"task":    task.Name,
		"node_id": task.NodeID,
	})

	if task.NodeID != "" {
		blocked, err := o.graph.Fail(task.NodeID, task.Error)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to record node failure")
		}
		partitions := make(map[types.PartitionKey]bool)
		if node, ok := o.graph.Node(task.NodeID); ok && node.Kind == types.NodePartition {
			partitions[node.Partition] = true
		}
		for _, n := range blocked {
			if n.Kind == types.NodePartition {
				partitions[n.Partition] = true
			}
		}
		for p := range partitions {
			plog := log.WithPartition(string(p))
			plog.Error().Str("task_id", task.ID).Msg("Partition left incomplete")
			o.publish(events.EventPartitionIncomplete, fmt.Sprintf("partition %s is incomplete", p),
				map[string]string{"partition": string(p), "task_id": task.ID})
		}
	}

	if err := o.tracker.Fail(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to record failed status")
		return
	}
	metrics.SetExperimentState(string(types.ExperimentFailed))
	o.publish(events.EventExperimentFailed, "experiment failed", map[string]string{"task_id": task.ID})
}

func (o *Orchestrator) submitReady(ctx context.Context, ready []*types.GraphNode) error {
	if len(ready) == 0 {
		return nil
	}
	tasks := make([]*types.Task, 0, len(ready))
	ids := make([]string, 0, len(ready))
	for _, n := range ready {
		tasks = append(tasks, &types.Task{
			Name:   n.TaskName,
			Class:  n.Class,
			NodeID: n.ID,
			Args:   n.Args,
		})
		ids = append(ids, n.ID)
	}
	if err := o.queue.Submit(ctx, tasks...); err != nil {
		o.graph.Release(ids...)
		return fmt.Errorf("failed to submit tasks: %w", err)
	}
	return o.graph.MarkSubmitted(ids...)
}

func (o *Orchestrator) publish(t events.EventType, msg string, meta map[string]string) {
	if o.events == nil {
		return
	}
	o.events.Publish(&events.Event{Type: t, Message: msg, Metadata: meta})
}
