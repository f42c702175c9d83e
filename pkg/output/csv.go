package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// PendulumHeader is the header row of the pendulum CSV
var PendulumHeader = []string{"theta1_init", "theta2_init", "theta1", "theta2"}

// PendulumRow is one grid point of the pendulum sweep
type PendulumRow struct {
	Theta1Init float64
	Theta2Init float64
	Theta1     float64
	Theta2     float64
}

// PendulumFileName returns the CSV file name for a grid of points tuples
func PendulumFileName(points int) string {
	return fmt.Sprintf("pendulum_%d.csv", points)
}

// WriteCSV writes rows to path in the given order. The file appears
// atomically: rows go to a temporary file that is renamed into place.
func WriteCSV(path string, rows []PendulumRow) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(PendulumHeader); err != nil {
		tmp.Close()
		return err
	}
	for _, r := range rows {
		record := []string{
			formatFloat(r.Theta1Init),
			formatFloat(r.Theta2Init),
			formatFloat(r.Theta1),
			formatFloat(r.Theta2),
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadCSV reads a pendulum CSV written by WriteCSV
func ReadCSV(path string) ([]PendulumRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: missing header", path)
	}

	rows := make([]PendulumRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(PendulumHeader) {
			return nil, fmt.Errorf("%s: line %d has %d fields", path, i+2, len(rec))
		}
		var v [4]float64
		for j := range v {
			if v[j], err = strconv.ParseFloat(rec[j], 64); err != nil {
				return nil, fmt.Errorf("%s: line %d: %w", path, i+2, err)
			}
		}
		rows = append(rows, PendulumRow{Theta1Init: v[0], Theta2Init: v[1], Theta1: v[2], Theta2: v[3]})
	}
	return rows, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
