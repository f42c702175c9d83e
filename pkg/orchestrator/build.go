package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/sweep/pkg/cachekey"
	"github.com/cuemby/sweep/pkg/kernel"
	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/metrics"
	"github.com/cuemby/sweep/pkg/params"
	"github.com/cuemby/sweep/pkg/types"
)

// BuildGraph constructs the experiment graph and submits its first layer of
// tasks. Redelivery after the graph was persisted only resubmits the ready
// nodes that never reached the queue.
func (o *Orchestrator) BuildGraph(ctx context.Context, _ *types.Task) (json.RawMessage, error) {
	o.buildMu.Lock()
	defer o.buildMu.Unlock()

	if o.graph.Len() > 0 {
		o.logger.Info().Int("nodes", o.graph.Len()).Msg("Graph already built, resubmitting ready nodes")
		return nil, o.submitReady(ctx, o.graph.ClaimReady())
	}

	var partitions []string
	var err error
	switch o.exp.Kind {
	case types.SweepPendulum:
		partitions, err = o.buildPendulum()
	case types.SweepBeam:
		partitions, err = o.buildBeam()
	default:
		err = fmt.Errorf("unknown sweep kind %q", o.exp.Kind)
	}
	if err == nil {
		err = o.addTerminal(partitions)
	}
	if err == nil {
		err = o.graph.Save()
	}
	if err != nil {
		o.graph.Reset()
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}

	o.logger.Info().
		Int("nodes", o.graph.Len()).
		Int("partitions", len(partitions)).
		Msg("Graph built")
	return nil, o.submitReady(ctx, o.graph.ClaimReady())
}

func (o *Orchestrator) addTerminal(partitions []string) error {
	terminal := &types.GraphNode{
		ID:       terminalNodeID,
		Kind:     types.NodeTerminal,
		TaskName: TaskRecordStatus,
		Class:    types.ClassCoordinator,
		Args:     mustJSON(statusArgs{Name: types.StatusCompleted}),
	}
	return o.graph.Add(terminal, partitions...)
}

func (o *Orchestrator) buildPendulum() ([]string, error) {
	grid := params.AngleGrid{Resolution: o.exp.Resolution}
	dedup := cachekey.NewDeduplicator(cachekey.Identity, o.exp.Resolution)

	header := o.kernelNodes(PendulumPartition, PendulumSub, TaskSimulatePendulum, dedup, grid)
	o.recordDropped(PendulumPartition, dedup)

	combine := o.combineNode(PendulumPartition, PendulumSub, []string{"theta1", "theta2"}, len(header))
	if err := o.graph.Chord(header, combine); err != nil {
		return nil, err
	}
	partition := o.partitionNode(PendulumPartition)
	if err := o.graph.Add(partition, combine.ID); err != nil {
		return nil, err
	}
	return []string{partition.ID}, nil
}

func (o *Orchestrator) buildBeam() ([]string, error) {
	beams := o.exp.Beams
	if len(beams) == 0 {
		beams = o.catalog.BeamIDs()
	}
	integrals := params.Canonical(o.catalog.Integrals(), func(i *kernel.Integral) string { return i.Parent })

	var partitions []string
	for _, beamID := range beams {
		if _, err := o.catalog.Beam(beamID); err != nil {
			return nil, err
		}
		p := kernel.BeamPartition(beamID)

		var combines []string
		for _, integral := range integrals {
			sweep := params.ModeSweep{MaxMode: o.exp.MaxMode, Variables: integral.Variables}
			dedup := cachekey.NewDeduplicator(integral.Key, o.exp.MaxMode)

			header := o.kernelNodes(p, integral.ID, TaskComputeIntegral, dedup, sweep)
			o.recordDropped(p, dedup)

			combine := o.combineNode(p, integral.ID, integral.Variables, len(header))
			if err := o.graph.Chord(header, combine); err != nil {
				return nil, err
			}
			combines = append(combines, combine.ID)
		}

		partition := o.partitionNode(p)
		if err := o.graph.Add(partition, combines...); err != nil {
			return nil, err
		}
		partitions = append(partitions, partition.ID)
	}
	return partitions, nil
}

func (o *Orchestrator) kernelNodes(p types.PartitionKey, sub, taskName string, dedup *cachekey.Deduplicator, gen params.Generator) []*types.GraphNode {
	var nodes []*types.GraphNode
	for entry := range dedup.Filter(gen.Tuples()) {
		nodes = append(nodes, &types.GraphNode{
			ID:        kernelNodeID(p, sub, entry.Key),
			Kind:      types.NodeKernel,
			Partition: p,
			Sub:       sub,
			Key:       entry.Key,
			TaskName:  taskName,
			Class:     types.ClassWorker,
			Args: mustJSON(kernel.Request{
				Partition: p,
				Sub:       sub,
				Key:       entry.Key,
				Tuple:     entry.Tuple,
			}),
		})
	}
	return nodes
}

func (o *Orchestrator) combineNode(p types.PartitionKey, sub string, variables []string, fanOut int) *types.GraphNode {
	return &types.GraphNode{
		ID:        combineNodeID(p, sub),
		Kind:      types.NodeCombine,
		Partition: p,
		Sub:       sub,
		TaskName:  TaskCombineTable,
		Class:     types.ClassCoordinator,
		Args: mustJSON(combineArgs{
			Partition: p,
			Sub:       sub,
			Variables: variables,
			FanOut:    fanOut,
		}),
	}
}

func (o *Orchestrator) partitionNode(p types.PartitionKey) *types.GraphNode {
	return &types.GraphNode{
		ID:        partitionNodeID(p),
		Kind:      types.NodePartition,
		Partition: p,
		TaskName:  TaskWritePartition,
		Class:     types.ClassCoordinator,
		Args:      mustJSON(partitionArgs{Partition: p}),
	}
}

func (o *Orchestrator) recordDropped(p types.PartitionKey, dedup *cachekey.Deduplicator) {
	if dedup.Dropped() == 0 {
		return
	}
	metrics.DedupDropped.WithLabelValues(string(p)).Add(float64(dedup.Dropped()))
	logger := log.WithPartition(string(p))
	logger.Debug().
		Int("distinct", dedup.Distinct()).
		Int("dropped", dedup.Dropped()).
		Msg("Collapsed equivalent tuples")
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("orchestrator: cannot encode task args: %v", err))
	}
	return data
}
