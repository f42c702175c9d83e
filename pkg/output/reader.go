package output

import (
	"database/sql"
	"fmt"
	"slices"

	"github.com/cuemby/sweep/pkg/types"
)

// Row is a decoded sub-computation row
type Row struct {
	Index       []int
	Key         types.CacheKey
	Value       float64
	Error       float64
	ScaleFactor int8
	ValueStr    string
	ErrorStr    string
}

// Reader reads artifacts written by ArtifactWriter
type Reader struct {
	db *sql.DB
}

// OpenArtifact opens the artifact at path read-only
func OpenArtifact(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close closes the artifact
func (r *Reader) Close() error {
	return r.db.Close()
}

// Metadata returns the metadata key/value pairs
func (r *Reader) Metadata() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT key, value FROM metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// Tables returns the materialized sub-computation tables in name order
func (r *Reader) Tables() ([]string, error) {
	return r.names(`SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT IN ('metadata', 'aliases') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
}

// Aliases maps each aliased sub-computation to its target
func (r *Reader) Aliases() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT name, target FROM aliases`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aliases := make(map[string]string)
	for rows.Next() {
		var name, target string
		if err := rows.Scan(&name, &target); err != nil {
			return nil, err
		}
		aliases[name] = target
	}
	return aliases, rows.Err()
}

// Indices returns the explicit indices defined on table, in name order
func (r *Reader) Indices(table string) ([]string, error) {
	return r.names(`SELECT name FROM sqlite_master
		WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL
		ORDER BY name`, table)
}

// Variables returns the indexing variables of a table or alias
func (r *Reader) Variables(name string) ([]string, error) {
	rows, err := r.db.Query(`SELECT name FROM pragma_table_info(?)`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vars []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		if !slices.Contains(resultColumns, col) {
			vars = append(vars, col)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("no such table: %s", name)
	}
	return vars, nil
}

// Rows returns the rows of a table or alias ordered by their indices
func (r *Reader) Rows(name string) ([]Row, error) {
	vars, err := r.Variables(name)
	if err != nil {
		return nil, err
	}

	cols := ""
	order := ""
	for i, v := range vars {
		if i > 0 {
			order += ", "
		}
		cols += quote(v) + ", "
		order += quote(v)
	}
	q := fmt.Sprintf(`SELECT %scache_key, value_f64, error_f64, scale_factor_i8, value_str, error_str
		FROM %s ORDER BY %s`, cols, quote(name), order)

	rows, err := r.db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row := Row{Index: make([]int, len(vars))}
		var scale int64
		var key string
		dest := make([]any, 0, len(vars)+len(resultColumns))
		for i := range vars {
			dest = append(dest, &row.Index[i])
		}
		dest = append(dest, &key, &row.Value, &row.Error, &scale, &row.ValueStr, &row.ErrorStr)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row.Key = types.CacheKey(key)
		row.ScaleFactor = int8(scale)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Reader) names(query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
