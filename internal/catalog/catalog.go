// Package catalog records completed fits in SQLite: one row per posterior
// with its score and column means, so batch runs can be summarized without
// reopening every archive.
package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/superphot/internal/posterior"
)

// ErrNotFound is returned when no fit matches a lookup.
var ErrNotFound = errors.New("fit not found")

// Fit is one catalogued posterior.
type Fit struct {
	ID       string
	Name     string
	Method   string
	Score    float64 // NaN when the fit was not scored
	NumDraws int
	Columns  []string
	Mean     []float64
	Runtime  time.Duration

	CreatedAt time.Time
}

// HasScore reports whether the fit carries a score.
func (f *Fit) HasScore() bool { return !math.IsNaN(f.Score) }

// Catalog is a handle on the fit database.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	c := &Catalog{db: db}
	if err := c.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

// Record catalogues s under a fresh ID. columns names the sample columns.
func (c *Catalog) Record(s *posterior.Samples, columns []string, runtime time.Duration) (*Fit, error) {
	if len(columns) != s.Dim() {
		return nil, fmt.Errorf("%w: %d column names for %d columns", posterior.ErrDimensionMismatch, len(columns), s.Dim())
	}
	score, ok := s.Score()
	if !ok {
		score = math.NaN()
	}
	f := &Fit{
		ID:        uuid.NewString(),
		Name:      s.Name(),
		Method:    s.Method(),
		Score:     score,
		NumDraws:  s.Len(),
		Columns:   append([]string(nil), columns...),
		Mean:      s.SampleMean(),
		Runtime:   runtime,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.Insert(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Insert stores f. f.ID must be unique.
func (c *Catalog) Insert(f *Fit) error {
	columns, err := json.Marshal(f.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}
	mean, err := json.Marshal(nanToNull(f.Mean))
	if err != nil {
		return fmt.Errorf("encode mean: %w", err)
	}
	var score sql.NullFloat64
	if f.HasScore() {
		score = sql.NullFloat64{Float64: f.Score, Valid: true}
	}
	return retryOnBusy(func() error {
		_, err := c.db.Exec(`
			INSERT INTO fits (
				fit_id, name, method, score, num_draws, columns, mean, runtime_ms, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.Name, f.Method, score, f.NumDraws, string(columns), string(mean),
			f.Runtime.Milliseconds(), f.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert fit %s: %w", f.Name, err)
		}
		return nil
	})
}

const fitColumns = `fit_id, name, method, score, num_draws, columns, mean, runtime_ms, created_at`

// Get returns the fit with the given ID.
func (c *Catalog) Get(id string) (*Fit, error) {
	rows, err := c.db.Query(`SELECT `+fitColumns+` FROM fits WHERE fit_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query fit: %w", err)
	}
	return firstFit(rows, id)
}

// Latest returns the most recent fit of name by method.
func (c *Catalog) Latest(name, method string) (*Fit, error) {
	rows, err := c.db.Query(`
		SELECT `+fitColumns+` FROM fits
		WHERE name = ? AND method = ?
		ORDER BY created_at DESC LIMIT 1`, name, method)
	if err != nil {
		return nil, fmt.Errorf("query fit: %w", err)
	}
	return firstFit(rows, name+"/"+method)
}

// List returns fits newest first. A method of "" matches every method; a
// limit of zero or less returns all rows.
func (c *Catalog) List(method string, limit int) ([]*Fit, error) {
	var (
		where []string
		args  []interface{}
	)
	if method != "" {
		where = append(where, "method = ?")
		args = append(args, method)
	}
	q := `SELECT ` + fitColumns + ` FROM fits`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list fits: %w", err)
	}
	defer rows.Close()

	var out []*Fit
	for rows.Next() {
		f, err := scanFit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Delete removes a fit by ID.
func (c *Catalog) Delete(id string) error {
	return retryOnBusy(func() error {
		result, err := c.db.Exec(`DELETE FROM fits WHERE fit_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete fit: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

func firstFit(rows *sql.Rows, key string) (*Fit, error) {
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return scanFit(rows)
}

// scanFit scans a fit row from a sql.Rows cursor.
func scanFit(rows *sql.Rows) (*Fit, error) {
	var (
		f                    Fit
		score                sql.NullFloat64
		columns, mean        string
		runtimeMs, createdAt int64
	)
	err := rows.Scan(&f.ID, &f.Name, &f.Method, &score, &f.NumDraws, &columns, &mean, &runtimeMs, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan fit: %w", err)
	}
	f.Score = math.NaN()
	if score.Valid {
		f.Score = score.Float64
	}
	if err := json.Unmarshal([]byte(columns), &f.Columns); err != nil {
		return nil, fmt.Errorf("decode columns of %s: %w", f.ID, err)
	}
	var means []*float64
	if err := json.Unmarshal([]byte(mean), &means); err != nil {
		return nil, fmt.Errorf("decode mean of %s: %w", f.ID, err)
	}
	f.Mean = make([]float64, len(means))
	for i, m := range means {
		f.Mean[i] = math.NaN()
		if m != nil {
			f.Mean[i] = *m
		}
	}
	f.Runtime = time.Duration(runtimeMs) * time.Millisecond
	f.CreatedAt = time.Unix(0, createdAt).UTC()
	return &f, nil
}

// nanToNull maps non-finite means to JSON null, which encoding/json cannot
// represent otherwise.
func nanToNull(xs []float64) []*float64 {
	out := make([]*float64, len(xs))
	for i := range xs {
		if !math.IsNaN(xs[i]) && !math.IsInf(xs[i], 0) {
			out[i] = &xs[i]
		}
	}
	return out
}
