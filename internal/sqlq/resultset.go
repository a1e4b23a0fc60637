package sqlq

import (
	"context"
	"database/sql"
	"fmt"
)

// Column describes one output column of a result set.
type Column struct {
	Name string
	Type string // declared database type, may be empty for expressions
}

// ResultSet holds the fully materialized result of executing one query.
// Ordered is true iff the originating query carries an explicit ORDER BY,
// in which case row order is semantically significant.
type ResultSet struct {
	Columns []Column
	Rows    [][]Value
	Ordered bool
}

// RowCount returns the number of rows.
func (rs *ResultSet) RowCount() int { return len(rs.Rows) }

// Querier is the subset of *sql.DB / *sql.Conn / *sql.Tx needed to collect
// a result set.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Collect executes the query text and materializes every row.
// The ordered flag should come from Query.HasExplicitOrder on the
// originating statement, not be guessed from the text.
func Collect(ctx context.Context, db Querier, text string, ordered bool) (*ResultSet, error) {
	rows, err := db.QueryContext(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}

	rs := &ResultSet{
		Columns: make([]Column, len(types)),
		Ordered: ordered,
	}
	for i, t := range types {
		rs.Columns[i] = Column{Name: t.Name(), Type: t.DatabaseTypeName()}
	}

	raw := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(rs.Rows), err)
		}
		row := make([]Value, len(raw))
		for i, v := range raw {
			val, err := FromDriver(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", len(rs.Rows), rs.Columns[i].Name, err)
			}
			row[i] = val
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return rs, nil
}
