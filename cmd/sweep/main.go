package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/sweep/pkg/api"
	"github.com/cuemby/sweep/pkg/config"
	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/metrics"
	"github.com/cuemby/sweep/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded before any subcommand runs
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep - distributed parameter sweeps",
	Long: `Sweep evaluates a numerical kernel over every point of a parameter
space on a pool of workers and assembles the results into CSV files and
SQLite databases.

One coordinator owns the experiment state and the task queue. Workers
lease kernel tasks from it over gRPC and acknowledge each one only after
it finished.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)

		log.Init(log.Config{
			Level:      log.ParseLevel(loaded.Log.Level),
			JSONOutput: loaded.Log.JSON,
		})
		api.Version = Version
		metrics.SetVersion(Version)

		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Sweep version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().String("kind", "", "Sweep kind (pendulum, beam)")
	rootCmd.PersistentFlags().String("results-dir", "", "Directory for result artifacts")
	rootCmd.PersistentFlags().String("compression", "", "Compression for messages sent to the coordinator (none, gzip)")

	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(localCmd)
}

// applyFlags overrides configuration with the flags the user set. Flags
// not defined on cmd are ignored.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	if changed("log-level") {
		c.Log.Level, _ = flags.GetString("log-level")
	}
	if changed("log-json") {
		c.Log.JSON, _ = flags.GetBool("log-json")
	}
	if changed("kind") {
		kind, _ := flags.GetString("kind")
		c.Sweep.Kind = types.SweepKind(strings.ToLower(kind))
	}
	if changed("results-dir") {
		c.Sweep.ResultsDir, _ = flags.GetString("results-dir")
	}
	if changed("compression") {
		c.Worker.Compression, _ = flags.GetString("compression")
	}
	if changed("status-files") {
		c.Sweep.StatusFiles, _ = flags.GetBool("status-files")
	}
	if changed("data-dir") {
		c.Sweep.DataDir, _ = flags.GetString("data-dir")
	}
	if changed("api-addr") {
		c.Server.APIAddr, _ = flags.GetString("api-addr")
	}
	if changed("health-addr") {
		c.Server.HealthAddr, _ = flags.GetString("health-addr")
	}
	if changed("socket") {
		c.Server.SocketPath, _ = flags.GetString("socket")
	}
	if changed("coordinator") {
		c.Worker.Coordinator, _ = flags.GetString("coordinator")
	}
	if changed("metrics-addr") {
		c.Worker.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if changed("concurrency") {
		c.Worker.Concurrency, _ = flags.GetInt("concurrency")
	}
	if changed("node-id") {
		c.Raft.NodeID, _ = flags.GetString("node-id")
	}
	if changed("bind-addr") {
		c.Raft.BindAddr, _ = flags.GetString("bind-addr")
	}
	if changed("auto-seed") {
		c.Sweep.AutoSeed, _ = flags.GetDuration("auto-seed")
	}
	if changed("resolution") {
		c.Pendulum.Resolution, _ = flags.GetInt("resolution")
	}
	if changed("max-mode") {
		c.Beam.MaxMode, _ = flags.GetInt("max-mode")
	}
	if changed("beam") {
		c.Beam.Beams, _ = flags.GetStringSlice("beam")
	}
}
