// Package scratch materializes witness plans into disposable databases
// and probes queries against them.
//
// A scratch database lives for one validation attempt and is torn down on
// every exit path. SQLite in-memory databases are the default; a Postgres
// scratch schema is available for dialect-faithful probing.
package scratch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tmakaro/requal/internal/schema"
	"github.com/tmakaro/requal/internal/sqlq"
	"github.com/tmakaro/requal/internal/synth"
)

// DB is one scratch database instance. Writable use is exclusive to one
// owner; a FixtureCache may hand a finished build to concurrent readers.
type DB struct {
	db       *sql.DB
	driver   string
	teardown func() error
}

// OpenSQLite opens a fresh in-memory scratch database.
func OpenSQLite() (*DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open scratch database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect scratch database: %w", err)
	}

	// Single connection: an in-memory sqlite database is per-connection,
	// so pooling would silently hand out empty databases.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply scratch pragmas: %w", err)
	}

	return &DB{db: db, driver: "sqlite3", teardown: db.Close}, nil
}

// Close tears the scratch database down. Safe to call more than once.
func (d *DB) Close() error {
	if d.teardown == nil {
		return nil
	}
	t := d.teardown
	d.teardown = nil
	return t()
}

// Querier exposes the scratch connection for result collection and
// benchmarking.
func (d *DB) Querier() sqlq.Querier { return d.db }

// Apply creates the target tables, parents before children.
func (d *DB) Apply(ctx context.Context, sch *schema.Schema) error {
	stmts, err := sch.DDL()
	if err != nil {
		return fmt.Errorf("render schema: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Insert writes the plan's rows in plan order. The plan is already
// parent-before-child; foreign-key enforcement catches a plan that is not.
func (d *DB) Insert(ctx context.Context, plan *synth.Plan) error {
	for _, t := range plan.Tables {
		for _, row := range t.Rows {
			if err := d.insertRow(ctx, row); err != nil {
				return fmt.Errorf("insert into %s: %w", t.Table, err)
			}
		}
	}
	return nil
}

func (d *DB) insertRow(ctx context.Context, row synth.Row) error {
	if len(row.Values) == 0 {
		_, err := d.db.ExecContext(ctx, "INSERT INTO "+quote(row.Table)+" DEFAULT VALUES")
		return err
	}

	cols := make([]string, 0, len(row.Values))
	for c := range row.Values {
		cols = append(cols, c)
	}
	// Deterministic statement text; also keeps error messages stable.
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString("INSERT INTO " + quote(row.Table) + " (")
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c))
		args = append(args, driverValue(row.Values[c]))
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.placeholder(i + 1))
	}
	b.WriteString(")")

	_, err := d.db.ExecContext(ctx, b.String(), args...)
	return err
}

// Reset drops every table in the schema so a widened plan can be retried
// on the same instance.
func (d *DB) Reset(ctx context.Context, sch *schema.Schema) error {
	order, err := sch.TopoOrder()
	if err != nil {
		return err
	}
	// Children first.
	for i := len(order) - 1; i >= 0; i-- {
		if _, err := d.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(order[i])); err != nil {
			return fmt.Errorf("drop table %s: %w", order[i], err)
		}
	}
	return nil
}

func (d *DB) placeholder(i int) string {
	if d.driver == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// SoftProbeError reports a zero-row probe from a plan that expected rows,
// after the widened retry was exhausted.
type SoftProbeError struct {
	Fingerprint string
	Attempts    int
}

func (e *SoftProbeError) Error() string {
	return fmt.Sprintf("soft probe failure: zero rows after %d attempts (fingerprint %.12s)",
		e.Attempts, e.Fingerprint)
}

// IsSoftProbe reports whether err is (or wraps) a SoftProbeError.
func IsSoftProbe(err error) bool {
	var spe *SoftProbeError
	return errors.As(err, &spe)
}

// Widener produces the widened fallback plan for a retry.
type Widener interface {
	Widen() (*synth.Plan, error)
}

// Probe materializes a plan and executes the original query against it.
// Returns the result set together with the plan the rows came from, which
// is the widened fallback when the retry fired.
//
// A zero-row result from a plan that planned rows is a soft failure:
// one retry with the widened plan runs before a SoftProbeError escapes.
// The scratch database passed in is reset between attempts but not closed;
// teardown stays with the caller's defer.
func Probe(ctx context.Context, d *DB, sch *schema.Schema, plan *synth.Plan, q *sqlq.Query, w Widener) (*sqlq.ResultSet, *synth.Plan, error) {
	start := time.Now()
	rs, err := probeOnce(ctx, d, sch, plan, q)
	if err != nil {
		return nil, nil, err
	}
	if rs.RowCount() > 0 || plan.RowCount() == 0 {
		slog.Debug("probe succeeded",
			"rows", rs.RowCount(), "elapsed", time.Since(start), "fingerprint", plan.Fingerprint)
		return rs, plan, nil
	}

	if w == nil {
		return nil, nil, &SoftProbeError{Fingerprint: plan.Fingerprint, Attempts: 1}
	}

	slog.Debug("zero-row probe, retrying widened", "fingerprint", plan.Fingerprint)
	wide, err := w.Widen()
	if err != nil {
		return nil, nil, fmt.Errorf("widen plan after soft probe failure: %w", err)
	}
	if err := d.Reset(ctx, sch); err != nil {
		return nil, nil, fmt.Errorf("reset scratch for widened retry: %w", err)
	}
	rs, err = probeOnce(ctx, d, sch, wide, q)
	if err != nil {
		return nil, nil, err
	}
	if rs.RowCount() == 0 && wide.RowCount() > 0 {
		return nil, nil, &SoftProbeError{Fingerprint: plan.Fingerprint, Attempts: 2}
	}
	return rs, wide, nil
}

func probeOnce(ctx context.Context, d *DB, sch *schema.Schema, plan *synth.Plan, q *sqlq.Query) (*sqlq.ResultSet, error) {
	if err := d.Apply(ctx, sch); err != nil {
		return nil, err
	}
	if err := d.Insert(ctx, plan); err != nil {
		return nil, err
	}
	return sqlq.Collect(ctx, d.db, q.Text, q.HasExplicitOrder())
}

// driverValue converts a witness value into a database/sql argument.
func driverValue(v sqlq.Value) any {
	switch val := v.(type) {
	case sqlq.Null:
		return nil
	case sqlq.Int:
		return int64(val)
	case sqlq.Float:
		return float64(val)
	case sqlq.Str:
		return string(val)
	case sqlq.Bytes:
		return []byte(val)
	case sqlq.Bool:
		return bool(val)
	case sqlq.Time:
		return time.Time(val)
	default:
		return nil
	}
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
