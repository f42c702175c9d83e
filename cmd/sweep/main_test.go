package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/sweep/pkg/config"
	"github.com/cuemby/sweep/pkg/output"
	"github.com/cuemby/sweep/pkg/types"
)

func TestApplyFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("kind", "", "")
	cmd.Flags().String("results-dir", "", "")
	cmd.Flags().Int("resolution", 0, "")
	cmd.Flags().Int("max-mode", 0, "")
	cmd.Flags().Duration("auto-seed", 0, "")
	cmd.Flags().StringSlice("beam", nil, "")
	cmd.Flags().String("compression", "", "")
	cmd.Flags().Bool("status-files", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{
		"--kind", "Pendulum",
		"--compression", "gzip",
		"--status-files",
		"--resolution", "12",
		"--auto-seed", "3s",
		"--beam", "1,2",
	}))

	c := config.Default()
	c.Sweep.ResultsDir = "/from/file"
	applyFlags(cmd, c)

	assert.Equal(t, types.SweepPendulum, c.Sweep.Kind)
	assert.Equal(t, 12, c.Pendulum.Resolution)
	assert.Equal(t, 3*time.Second, c.Sweep.AutoSeed)
	assert.Equal(t, []string{"1", "2"}, c.Beam.Beams)
	assert.Equal(t, "gzip", c.Worker.Compression)
	assert.True(t, c.Sweep.StatusFiles)
	// flags left unset keep the file and environment values
	assert.Equal(t, "/from/file", c.Sweep.ResultsDir)
	assert.Equal(t, config.DefaultMaxMode, c.Beam.MaxMode)
}

func TestLocalPendulumSweep(t *testing.T) {
	dataDir := t.TempDir()
	resultsDir := t.TempDir()
	t.Setenv("PENDULUM_TMAX", "0.05")

	rootCmd.SetArgs([]string{
		"local",
		"--kind", "pendulum",
		"--resolution", "3",
		"--concurrency", "2",
		"--data-dir", dataDir,
		"--results-dir", resultsDir,
		"--status-files",
		"--log-level", "error",
	})
	require.NoError(t, rootCmd.Execute())

	path := filepath.Join(resultsDir, output.PendulumFileName(3))
	rows, err := output.ReadCSV(path)
	require.NoError(t, err)
	assert.Len(t, rows, 9)

	// experiment state is kept in the data directory
	_, err = os.Stat(filepath.Join(dataDir, "sweep.db"))
	assert.NoError(t, err)

	// status markers are plain files under the results directory
	for _, name := range []string{"started", "completed"} {
		data, err := os.ReadFile(filepath.Join(resultsDir, "status", name))
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(string(data), "\n"))
	}
}
