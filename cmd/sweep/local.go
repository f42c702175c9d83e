package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/sweep/pkg/orchestrator"
	"github.com/cuemby/sweep/pkg/types"
	"github.com/cuemby/sweep/pkg/worker"
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run a whole sweep in this process",
	Long: `Run the coordinator and a compute worker in one process, seed the
experiment, and exit once it completed or failed. State is kept in the
data directory, so an interrupted local run resumes where it stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		node := newCoordinatorNode(cfg)
		defer node.stop()
		if err := node.start(ctx, nodeOptions{}); err != nil {
			return fmt.Errorf("failed to start coordinator: %w", err)
		}

		queueName, err := node.broker.Routes().Queue(types.ClassWorker)
		if err != nil {
			return err
		}
		compute, err := worker.NewWorker(node.broker, worker.Config{
			ID:          "local",
			Queue:       queueName,
			Concurrency: cfg.Worker.Concurrency,
			Handlers:    orchestrator.WorkerHandlers(cfg.Experiment(), node.catalog),
		})
		if err != nil {
			return err
		}
		compute.Start(ctx)
		defer compute.Stop()

		err = node.orch.Seed(ctx)
		var dup *orchestrator.DuplicateSeedError
		if errors.As(err, &dup) {
			fmt.Printf("Computations have already been seeded (started %s)\n", formatTime(dup.Started))
		} else if err != nil {
			return fmt.Errorf("failed to seed experiment: %w", err)
		}

		st, err := waitFinished(ctx, node.orch)
		if err != nil {
			return err
		}
		switch st.State() {
		case types.ExperimentCompleted:
			fmt.Printf("✓ Experiment completed at %s; results in %s\n", markerTime(st.Completed), cfg.Sweep.ResultsDir)
			return nil
		default:
			return fmt.Errorf("experiment failed at %s", markerTime(st.Failed))
		}
	},
}

func init() {
	localCmd.Flags().String("data-dir", "", "Data directory for experiment state")
	localCmd.Flags().Bool("status-files", false, "Keep status markers as files under <results-dir>/status")
	localCmd.Flags().Int("concurrency", 0, "Task slots")
	localCmd.Flags().Int("resolution", 0, "Pendulum grid points per axis")
	localCmd.Flags().Int("max-mode", 0, "Highest beam mode number")
	localCmd.Flags().StringSlice("beam", nil, "Beam types to sweep (default all)")
}

// waitFinished polls the experiment markers until it completed or failed
func waitFinished(ctx context.Context, orch *orchestrator.Orchestrator) (types.ExperimentStatus, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		st, err := orch.Status(ctx)
		if err != nil {
			return st, err
		}
		if s := st.State(); s == types.ExperimentCompleted || s == types.ExperimentFailed {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}
