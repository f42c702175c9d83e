package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleRows = []PendulumRow{
	{0, 0, 0, 0},
	{0, 3.141592653589793, 0.5, -1.25},
	{6.283185307179586, 1e-7, -3.5, 2},
}

func TestWriteCSVGolden(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PendulumFileName(3))
	require.NoError(t, WriteCSV(path, sampleRows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "pendulum_csv", data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, sampleRows))

	rows, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, sampleRows, rows)
}

func TestWriteCSVEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), PendulumFileName(0))
	require.NoError(t, WriteCSV(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "theta1_init,theta2_init,theta1,theta2\n", string(data))
}

func TestPendulumFileName(t *testing.T) {
	assert.Equal(t, "pendulum_36.csv", PendulumFileName(36))
}
