package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/sweep/pkg/api"
	"github.com/cuemby/sweep/pkg/client"
	"github.com/cuemby/sweep/pkg/health"
	"github.com/cuemby/sweep/pkg/kernel"
	"github.com/cuemby/sweep/pkg/metrics"
	"github.com/cuemby/sweep/pkg/orchestrator"
	"github.com/cuemby/sweep/pkg/queue"
	"github.com/cuemby/sweep/pkg/types"
	"github.com/cuemby/sweep/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a compute worker",
	Long: `Run a compute worker that leases kernel tasks from the coordinator,
evaluates them, and acknowledges each task only after its result was
computed. A worker that dies mid-task leaves its lease to expire and the
task is delivered again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runWorker()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the role selected by COMPUTER_TYPE",
	Long: `Run the coordinator when COMPUTER_TYPE is "server" and a compute
worker otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Worker.Class == types.ClassCoordinator {
			return coordinatorCmd.RunE(cmd, args)
		}
		return workerCmd.RunE(cmd, args)
	},
}

func runWorker() error {
	c, err := client.NewClient(cfg.Worker.Coordinator, clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	defer c.Close()

	queueName, err := queue.DefaultRoutes().Queue(types.ClassWorker)
	if err != nil {
		return err
	}
	metrics.SetCriticalComponents(metrics.ComponentCoordinator, metrics.ComponentCoordinatorAPI)

	w, err := worker.NewWorker(c, worker.Config{
		Queue:       queueName,
		Concurrency: cfg.Worker.Concurrency,
		Handlers:    orchestrator.WorkerHandlers(cfg.Experiment(), kernel.DefaultCatalog()),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w.Start(ctx)

	monitor := health.NewMonitor(health.DefaultConfig(),
		health.NewTCPChecker(metrics.ComponentCoordinator, cfg.Worker.Coordinator),
		health.NewFuncChecker(metrics.ComponentCoordinatorAPI, func(ctx context.Context) error {
			_, err := c.Status(ctx)
			return err
		}),
	)
	monitor.Start()
	defer monitor.Stop()

	var hs *api.HealthServer
	if cfg.Worker.MetricsAddr != "" {
		hs = api.NewHealthServer(nil, c)
		go func() {
			if err := hs.Start(cfg.Worker.MetricsAddr); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}
	fmt.Printf("Worker %s consuming %q from %s with %d slots. Press Ctrl+C to stop.\n",
		w.ID(), queueName, cfg.Worker.Coordinator, cfg.Worker.Concurrency)

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	w.Stop()
	if hs != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		return hs.Stop(stopCtx)
	}
	return nil
}

func init() {
	workerCmd.Flags().String("coordinator", "", "Coordinator gRPC address")
	workerCmd.Flags().Int("concurrency", 0, "Task slots (default MAX_CPU_CORES or the CPU count)")
	workerCmd.Flags().String("metrics-addr", "", "Address for health and metrics endpoints (disabled when empty)")

	rootCmd.AddCommand(runCmd)
}
