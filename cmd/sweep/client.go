package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/sweep/pkg/client"
	"github.com/cuemby/sweep/pkg/orchestrator"
	"github.com/cuemby/sweep/pkg/queue"
	"github.com/cuemby/sweep/pkg/types"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Start the experiment",
	Long: `Start the experiment on the coordinator. Seeding is idempotent: the
first call records the started marker and submits graph construction,
every later call reports when the experiment was started and does
nothing else.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialCoordinator()
		if err != nil {
			return err
		}
		defer c.Close()

		started, err := c.Seed(context.Background())
		var dup *orchestrator.DuplicateSeedError
		if errors.As(err, &dup) {
			fmt.Printf("Computations have already been seeded (started %s)\n", formatTime(dup.Started))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to seed experiment: %w", err)
		}

		fmt.Printf("✓ Experiment seeded at %s\n", formatTime(started))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show experiment status and queue depths",
	Long: `Show the started, completed and failed markers of the experiment and
the number of pending tasks per queue. The local read-only socket is used
when --socket is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			c   *client.Client
			err error
		)
		if socket, _ := cmd.Flags().GetString("socket"); socket != "" {
			c, err = client.NewLocalClient(socket)
		} else {
			c, err = dialCoordinator()
		}
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := context.Background()
		st, err := c.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "STATE\t%s\n", st.State())
		fmt.Fprintf(w, "STARTED\t%s\n", markerTime(st.Started))
		fmt.Fprintf(w, "COMPLETED\t%s\n", markerTime(st.Completed))
		if st.Failed != nil {
			fmt.Fprintf(w, "FAILED\t%s\n", markerTime(st.Failed))
		}
		for _, class := range []types.TaskClass{types.ClassCoordinator, types.ClassWorker} {
			name, err := queue.DefaultRoutes().Queue(class)
			if err != nil {
				return err
			}
			depth, err := c.QueueDepth(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to get queue depth: %w", err)
			}
			fmt.Fprintf(w, "QUEUE %s\t%d pending\n", name, depth)
		}
		return w.Flush()
	},
}

func init() {
	seedCmd.Flags().String("coordinator", "", "Coordinator gRPC address")
	statusCmd.Flags().String("coordinator", "", "Coordinator gRPC address")
	statusCmd.Flags().String("socket", "", "Read status over the coordinator's local Unix socket")
}

// clientOptions returns the transport settings every coordinator client uses
func clientOptions() []client.Option {
	opts := []client.Option{client.WithCompression(cfg.Worker.Compression)}
	if cfg.Server.TLS.Enabled() {
		opts = append(opts, client.WithTLS(cfg.Server.TLS))
	}
	return opts
}

func dialCoordinator() (*client.Client, error) {
	c, err := client.NewClient(cfg.Worker.Coordinator, clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	return c, nil
}

func markerTime(m *types.StatusMarker) string {
	if m == nil {
		return "-"
	}
	return formatTime(m.Timestamp)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(types.StatusTimeFormat)
}
