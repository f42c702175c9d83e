package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the experiment coordinator",
	Long: `Run the coordinator: the experiment state store, the task queue, the
gRPC API workers connect to, and the coordinator worker that builds the
task graph and assembles results.

With --node-id the state store is replicated over raft between the
coordinators listed in the configuration file. Only the raft leader
serves the queue; the other nodes wait and report health.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		node := newCoordinatorNode(cfg)
		defer node.stop()

		if err := node.start(ctx, nodeOptions{serve: true}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to start coordinator: %w", err)
		}

		fmt.Printf("Coordinator is running (API %s, health %s). Press Ctrl+C to stop.\n",
			cfg.Server.APIAddr, cfg.Server.HealthAddr)

		err := node.wait(ctx)
		fmt.Println("\nShutting down...")
		return err
	},
}

func init() {
	coordinatorCmd.Flags().String("data-dir", "", "Data directory for experiment state")
	coordinatorCmd.Flags().String("api-addr", "", "Address for the gRPC API")
	coordinatorCmd.Flags().String("health-addr", "", "Address for health and metrics endpoints")
	coordinatorCmd.Flags().String("socket", "", "Unix socket for read-only local access")
	coordinatorCmd.Flags().String("node-id", "", "Raft node ID; enables replication")
	coordinatorCmd.Flags().String("bind-addr", "", "Address for raft communication")
	coordinatorCmd.Flags().Duration("auto-seed", 0, "Seed the experiment after this delay (0 disables)")
	coordinatorCmd.Flags().Bool("status-files", false, "Keep status markers as files under <results-dir>/status")
	coordinatorCmd.Flags().Int("concurrency", 0, "Coordinator task slots")
	coordinatorCmd.Flags().Int("resolution", 0, "Pendulum grid points per axis")
	coordinatorCmd.Flags().Int("max-mode", 0, "Highest beam mode number")
	coordinatorCmd.Flags().StringSlice("beam", nil, "Beam types to sweep (default all)")
}
