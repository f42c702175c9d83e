package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/sweep/pkg/kernel"
	"github.com/cuemby/sweep/pkg/output"
	"github.com/cuemby/sweep/pkg/types"
)

// Task names
const (
	TaskBuildGraph       = "build_graph"
	TaskCombineTable     = "combine_table"
	TaskWritePartition   = "write_partition"
	TaskRecordStatus     = "record_status"
	TaskSimulatePendulum = "simulate_pendulum"
	TaskComputeIntegral  = "compute_integral"
)

// Pendulum sweep layout
const (
	PendulumPartition types.PartitionKey = "pendulum"
	PendulumSub                          = "simulation"
)

// Generator identifies this program in artifact metadata
const Generator = "sweep"

// Experiment describes the sweep a coordinator runs and the parameters its
// workers compute with
type Experiment struct {
	Kind       types.SweepKind
	ResultsDir string

	// GeneratorVersion is the build version written to artifact metadata
	GeneratorVersion string

	// Pendulum sweep
	Resolution int
	Pendulum   kernel.PendulumParams

	// Beam sweep
	MaxMode       int
	Precision     int
	ZeroThreshold float64
	// Beams restricts the beam types; empty means all catalogued types
	Beams []string
}

func (e *Experiment) generatorVersion() string {
	if e.GeneratorVersion == "" {
		return "dev"
	}
	return e.GeneratorVersion
}

// Validate reports configuration that cannot produce a sweep
func (e *Experiment) Validate() error {
	switch e.Kind {
	case types.SweepPendulum:
		if e.Resolution < 1 {
			return fmt.Errorf("pendulum resolution must be positive, got %d", e.Resolution)
		}
		if e.Pendulum.Dt <= 0 {
			return fmt.Errorf("pendulum dt must be positive, got %g", e.Pendulum.Dt)
		}
	case types.SweepBeam:
		if e.MaxMode < 1 {
			return fmt.Errorf("beam max mode must be positive, got %d", e.MaxMode)
		}
		if e.ZeroThreshold < 0 {
			return fmt.Errorf("zero threshold must not be negative")
		}
	default:
		return fmt.Errorf("unknown sweep kind %q", e.Kind)
	}
	if e.ResultsDir == "" {
		return fmt.Errorf("results directory is required")
	}
	return nil
}

// Kernels builds the kernel for each worker task name
func (e *Experiment) Kernels(catalog *kernel.Catalog) map[string]kernel.Kernel {
	ik := kernel.NewIntegralKernel(catalog, e.Precision)
	if e.ZeroThreshold > 0 {
		ik.ZeroThreshold = e.ZeroThreshold
	}
	return map[string]kernel.Kernel{
		TaskSimulatePendulum: kernel.NewPendulum(e.Pendulum),
		TaskComputeIntegral:  ik,
	}
}

// ArtifactPath returns where the artifact of partition is written
func (e *Experiment) ArtifactPath(partition types.PartitionKey, points int) string {
	if partition == PendulumPartition {
		return filepath.Join(e.ResultsDir, output.PendulumFileName(points))
	}
	return filepath.Join(e.ResultsDir, "beam_integrals_"+kernel.BeamID(partition)+".sqlite")
}

// Node IDs

func kernelNodeID(p types.PartitionKey, sub string, key types.CacheKey) string {
	return fmt.Sprintf("kernel/%s/%s/%s", p, sub, key)
}

func combineNodeID(p types.PartitionKey, sub string) string {
	return fmt.Sprintf("combine/%s/%s", p, sub)
}

func partitionNodeID(p types.PartitionKey) string {
	return fmt.Sprintf("partition/%s", p)
}

const terminalNodeID = "terminal"

// Task arguments

type combineArgs struct {
	Partition types.PartitionKey `json:"partition"`
	Sub       string             `json:"sub"`
	Variables []string           `json:"variables"`
	FanOut    int                `json:"fan_out"`
}

type partitionArgs struct {
	Partition types.PartitionKey `json:"partition"`
}

type statusArgs struct {
	Name string `json:"name"`
}
