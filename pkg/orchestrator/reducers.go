package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/sweep/pkg/cachekey"
	"github.com/cuemby/sweep/pkg/events"
	"github.com/cuemby/sweep/pkg/kernel"
	"github.com/cuemby/sweep/pkg/metrics"
	"github.com/cuemby/sweep/pkg/output"
	"github.com/cuemby/sweep/pkg/params"
	"github.com/cuemby/sweep/pkg/types"
	"github.com/cuemby/sweep/pkg/worker"
)

// Handlers returns the coordinator task handlers
func (o *Orchestrator) Handlers() map[string]worker.Handler {
	return map[string]worker.Handler{
		TaskBuildGraph:     o.BuildGraph,
		TaskCombineTable:   o.CombineTable,
		TaskWritePartition: o.WritePartition,
		TaskRecordStatus:   o.RecordStatus,
	}
}

// WorkerHandlers returns the kernel task handlers a worker runs for exp
func WorkerHandlers(exp Experiment, catalog *kernel.Catalog) map[string]worker.Handler {
	if catalog == nil {
		catalog = kernel.DefaultCatalog()
	}
	handlers := make(map[string]worker.Handler)
	for name, k := range exp.Kernels(catalog) {
		handlers[name] = worker.KernelHandler(k)
	}
	return handlers
}

// CombineTable folds the results of one sub-computation into a partial
// table. It fails with an AssemblyError unless every distinct key of the
// fan-out reported a result.
func (o *Orchestrator) CombineTable(_ context.Context, task *types.Task) (json.RawMessage, error) {
	var args combineArgs
	if err := json.Unmarshal(task.Args, &args); err != nil {
		return nil, fmt.Errorf("invalid combine args: %w", err)
	}

	results, err := o.store.ListResults(types.ResultScope(args.Partition, args.Sub))
	if err != nil {
		return nil, err
	}
	if len(results) != args.FanOut {
		return nil, &output.AssemblyError{
			Partition: args.Partition,
			Reason:    fmt.Sprintf("%s has %d of %d results", args.Sub, len(results), args.FanOut),
		}
	}

	table := &types.PartialTable{
		Partition: args.Partition,
		Name:      args.Sub,
		Variables: args.Variables,
		Rows:      make(map[types.CacheKey]*types.TaskResult, len(results)),
		CreatedAt: time.Now().UTC(),
	}
	for _, r := range results {
		table.Rows[r.Key] = r
	}
	if err := o.store.PutTable(table); err != nil {
		return nil, fmt.Errorf("failed to store table: %w", err)
	}

	metrics.ReducerRuns.WithLabelValues(string(types.NodeCombine)).Inc()
	o.publish(events.EventTableCombined, fmt.Sprintf("table %s combined", args.Sub), map[string]string{
		"partition": string(args.Partition),
		"table":     args.Sub,
		"rows":      strconv.Itoa(len(table.Rows)),
	})
	return nil, nil
}

// WritePartition writes the artifact of one partition from its combined
// tables
func (o *Orchestrator) WritePartition(ctx context.Context, task *types.Task) (json.RawMessage, error) {
	var args partitionArgs
	if err := json.Unmarshal(task.Args, &args); err != nil {
		return nil, fmt.Errorf("invalid partition args: %w", err)
	}

	var path string
	var err error
	if o.exp.Kind == types.SweepPendulum {
		path, err = o.writePendulum(args.Partition)
	} else {
		path, err = o.writeBeam(ctx, args.Partition)
	}
	if err != nil {
		return nil, err
	}

	metrics.ReducerRuns.WithLabelValues(string(types.NodePartition)).Inc()
	o.publish(events.EventPartitionCompleted, fmt.Sprintf("partition %s written", args.Partition), map[string]string{
		"partition": string(args.Partition),
		"path":      path,
	})
	return nil, nil
}

func (o *Orchestrator) writePendulum(p types.PartitionKey) (string, error) {
	table, err := o.store.GetTable(p, PendulumSub)
	if err != nil {
		return "", &output.AssemblyError{Partition: p, Reason: fmt.Sprintf("table %s: %v", PendulumSub, err)}
	}

	grid := params.AngleGrid{Resolution: o.exp.Resolution}
	rows := make([]output.PendulumRow, 0, grid.Size())
	for t := range grid.Tuples() {
		r, ok := table.Rows[cachekey.Identity(t, o.exp.Resolution)]
		if !ok || len(r.Outputs) < 2 {
			return "", &output.AssemblyError{Partition: p, Reason: fmt.Sprintf("no result for %s", t)}
		}
		rows = append(rows, output.PendulumRow{
			Theta1Init: t.Values[0],
			Theta2Init: t.Values[1],
			Theta1:     r.Outputs[0],
			Theta2:     r.Outputs[1],
		})
	}

	path := o.exp.ArtifactPath(p, o.exp.Resolution)
	if err := output.WriteCSV(path, rows); err != nil {
		return "", err
	}
	o.logger.Info().Str("path", path).Int("rows", len(rows)).Msg("Pendulum results written")
	return path, nil
}

func (o *Orchestrator) writeBeam(ctx context.Context, p types.PartitionKey) (string, error) {
	artifact := &output.Artifact{
		Path:      o.exp.ArtifactPath(p, o.exp.MaxMode),
		Partition: p,
		Metadata: map[string]string{
			"created_at":        time.Now().UTC().Format(time.RFC3339),
			"generator":         Generator,
			"generator_version": o.exp.generatorVersion(),
			"partition":         string(p),
			"beam_type":         kernel.BeamID(p),
			"max_mode":          strconv.Itoa(o.exp.MaxMode),
			"precision":         strconv.Itoa(o.exp.Precision),
			"zero_threshold":    strconv.FormatFloat(o.zeroThreshold(), 'g', -1, 64),
		},
	}

	for _, integral := range o.catalog.Integrals() {
		t := output.Table{Name: integral.ID, Variables: integral.Variables, Parent: integral.Parent}
		if integral.Parent == "" {
			table, err := o.store.GetTable(p, integral.ID)
			if err != nil {
				return "", &output.AssemblyError{Partition: p, Reason: fmt.Sprintf("table %s: %v", integral.ID, err)}
			}
			for _, r := range table.Rows {
				t.Rows = append(t.Rows, r)
			}
		}
		artifact.Tables = append(artifact.Tables, t)
	}

	if err := o.artifacts.Write(ctx, artifact); err != nil {
		return "", err
	}
	return artifact.Path, nil
}

func (o *Orchestrator) zeroThreshold() float64 {
	if o.exp.ZeroThreshold > 0 {
		return o.exp.ZeroThreshold
	}
	return kernel.DefaultZeroThreshold
}

// RecordStatus writes the completed marker once every partition is written
func (o *Orchestrator) RecordStatus(ctx context.Context, _ *types.Task) (json.RawMessage, error) {
	if err := o.tracker.Complete(ctx); err != nil {
		return nil, err
	}
	metrics.ReducerRuns.WithLabelValues(string(types.NodeTerminal)).Inc()
	metrics.SetExperimentState(string(types.ExperimentCompleted))
	o.publish(events.EventExperimentCompleted, "experiment completed", nil)
	return nil, nil
}
