package output

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	// Registers the pure Go "sqlite" driver
	_ "modernc.org/sqlite"

	"github.com/cuemby/sweep/pkg/log"
	"github.com/cuemby/sweep/pkg/types"
)

// Fixed columns of every sub-computation table, after the variable columns
var resultColumns = []string{"cache_key", "value_f64", "error_f64", "scale_factor_i8", "value_str", "error_str"}

// Table is one sub-computation in an artifact. A table with a Parent is
// stored as an alias of the parent and must carry no rows of its own.
type Table struct {
	Name      string
	Variables []string
	Parent    string
	Rows      []*types.TaskResult
}

// Artifact is the complete persisted output of one partition
type Artifact struct {
	Path      string
	Partition types.PartitionKey
	Metadata  map[string]string
	Tables    []Table
}

// ArtifactWriter writes partition artifacts as SQLite databases
type ArtifactWriter struct {
	logger zerolog.Logger
}

// NewArtifactWriter creates an artifact writer
func NewArtifactWriter() *ArtifactWriter {
	return &ArtifactWriter{logger: log.WithComponent("output")}
}

// Write validates a and writes it to a.Path. Either the complete artifact
// appears at a.Path or nothing does.
func (w *ArtifactWriter) Write(ctx context.Context, a *Artifact) error {
	if err := validate(a); err != nil {
		return err
	}

	tmp := a.Path + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := w.writeDB(ctx, tmp, a); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, a.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish artifact: %w", err)
	}

	w.logger.Info().
		Str("partition", string(a.Partition)).
		Str("path", a.Path).
		Int("tables", len(a.Tables)).
		Msg("Artifact written")
	return nil
}

func validate(a *Artifact) error {
	if a.Path == "" {
		return assemblyErrorf(a.Partition, "no output path")
	}

	byName := make(map[string]*Table, len(a.Tables))
	for i := range a.Tables {
		t := &a.Tables[i]
		if t.Name == "" {
			return assemblyErrorf(a.Partition, "table %d has no name", i)
		}
		if _, dup := byName[t.Name]; dup {
			return assemblyErrorf(a.Partition, "duplicate table %s", t.Name)
		}
		byName[t.Name] = t
	}

	for i := range a.Tables {
		t := &a.Tables[i]
		if t.Parent == "" {
			seen := make(map[types.CacheKey]bool, len(t.Rows))
			for _, r := range t.Rows {
				if r == nil {
					return assemblyErrorf(a.Partition, "table %s has a missing row", t.Name)
				}
				if seen[r.Key] {
					return assemblyErrorf(a.Partition, "table %s has duplicate key %s", t.Name, r.Key)
				}
				seen[r.Key] = true
			}
			continue
		}

		parent, ok := byName[t.Parent]
		if !ok {
			return assemblyErrorf(a.Partition, "alias %s refers to missing table %s", t.Name, t.Parent)
		}
		if parent.Parent != "" {
			return assemblyErrorf(a.Partition, "alias %s refers to alias %s", t.Name, t.Parent)
		}
		if len(t.Rows) > 0 {
			return assemblyErrorf(a.Partition, "alias %s carries its own rows", t.Name)
		}
		if !slices.Equal(t.Variables, parent.Variables) {
			return assemblyErrorf(a.Partition, "alias %s variables %v differ from %s variables %v",
				t.Name, t.Variables, parent.Name, parent.Variables)
		}
	}
	return nil
}

func (w *ArtifactWriter) writeDB(ctx context.Context, path string, a *Artifact) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `CREATE TABLE aliases (name TEXT PRIMARY KEY, target TEXT NOT NULL)`); err != nil {
		return err
	}

	keys := make([]string, 0, len(a.Metadata))
	for k := range a.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metadata (key, value) VALUES (?, ?)`, k, a.Metadata[k]); err != nil {
			return err
		}
	}

	// Materialized tables first so every alias target exists
	for _, t := range a.Tables {
		if t.Parent == "" {
			if err := writeTable(ctx, tx, t); err != nil {
				return fmt.Errorf("table %s: %w", t.Name, err)
			}
		}
	}
	for _, t := range a.Tables {
		if t.Parent == "" {
			continue
		}
		stmt := fmt.Sprintf(`CREATE VIEW %s AS SELECT * FROM %s`, quote(t.Name), quote(t.Parent))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("alias %s: %w", t.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO aliases (name, target) VALUES (?, ?)`, t.Name, t.Parent); err != nil {
			return err
		}
	}

	for _, t := range a.Tables {
		if t.Parent == "" {
			continue
		}
		if err := verifyAlias(ctx, tx, t.Name, t.Parent); err != nil {
			return &AssemblyError{Partition: a.Partition, Reason: err.Error()}
		}
	}

	return tx.Commit()
}

func writeTable(ctx context.Context, tx *sql.Tx, t Table) error {
	cols := make([]string, 0, len(t.Variables)+len(resultColumns))
	for _, v := range t.Variables {
		cols = append(cols, quote(v)+" INTEGER NOT NULL")
	}
	cols = append(cols,
		"cache_key TEXT PRIMARY KEY",
		"value_f64 REAL NOT NULL",
		"error_f64 REAL NOT NULL",
		"scale_factor_i8 INTEGER NOT NULL",
		"value_str TEXT NOT NULL",
		"error_str TEXT NOT NULL",
	)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (%s)`, quote(t.Name), strings.Join(cols, ", "))); err != nil {
		return err
	}

	for _, v := range t.Variables {
		stmt := fmt.Sprintf(`CREATE INDEX %s ON %s (%s)`, quote(t.Name+"_"+v), quote(t.Name), quote(v))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(t.Variables)+len(resultColumns))
	for _, v := range t.Variables {
		names = append(names, quote(v))
	}
	names = append(names, resultColumns...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	insert, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quote(t.Name), strings.Join(names, ", "), placeholders))
	if err != nil {
		return err
	}
	defer insert.Close()

	rows := slices.Clone(t.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		return slices.Compare(rows[i].Tuple.Index, rows[j].Tuple.Index) < 0
	})
	for _, r := range rows {
		args := make([]any, 0, len(names))
		for _, v := range t.Variables {
			args = append(args, r.Tuple.Int(v))
		}
		args = append(args, string(r.Key), r.Value, r.Error, int64(r.ScaleFactor), r.ValueStr, r.ErrorStr)
		if _, err := insert.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func verifyAlias(ctx context.Context, tx *sql.Tx, alias, parent string) error {
	var diff int
	q := fmt.Sprintf(`SELECT
		(SELECT COUNT(*) FROM (SELECT * FROM %[1]s EXCEPT SELECT * FROM %[2]s)) +
		(SELECT COUNT(*) FROM (SELECT * FROM %[2]s EXCEPT SELECT * FROM %[1]s))`, quote(alias), quote(parent))
	if err := tx.QueryRowContext(ctx, q).Scan(&diff); err != nil {
		return err
	}
	if diff != 0 {
		return fmt.Errorf("alias %s differs from %s in %d rows", alias, parent, diff)
	}
	return nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
