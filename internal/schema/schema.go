// Package schema models the target schema a query runs against: tables,
// columns, and foreign keys. The witness synthesizer uses it to order
// rows parent-before-child; the scratch builder uses it to materialize
// tables.
package schema

import (
	"fmt"
	"sort"
)

// Column is one column of a target table.
type Column struct {
	Name string
	Type string // SQL type as it should appear in DDL
}

// ForeignKey declares that Column references Parent(ParentColumn).
type ForeignKey struct {
	Column       string
	Parent       string
	ParentColumn string
}

// Table is one target table.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Schema is a set of tables. Order of Tables is not significant; use
// TopoOrder for insertion ordering.
type Schema struct {
	Tables []Table
}

// Table looks a table up by name.
func (s *Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// TopoOrder returns table names sorted parents-before-children by foreign
// key dependency. Ties break alphabetically so the order is deterministic.
// A foreign-key cycle is an error: no insertion order can satisfy it
// without deferred constraints.
func (s *Schema) TopoOrder() ([]string, error) {
	indegree := make(map[string]int, len(s.Tables))
	children := make(map[string][]string, len(s.Tables))
	for _, t := range s.Tables {
		if _, ok := indegree[t.Name]; !ok {
			indegree[t.Name] = 0
		}
		for _, fk := range t.ForeignKeys {
			if fk.Parent == t.Name {
				continue // self-reference: satisfiable with NULL or same-row keys
			}
			indegree[t.Name]++
			children[fk.Parent] = append(children[fk.Parent], t.Name)
		}
	}

	ready := make([]string, 0, len(indegree))
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := children[name]
		sort.Strings(next)
		for _, c := range next {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(indegree) {
		return nil, fmt.Errorf("schema has a foreign-key cycle among %d tables", len(indegree)-len(order))
	}
	return order, nil
}

// DDL renders CREATE TABLE statements in topological order.
func (s *Schema) DDL() ([]string, error) {
	order, err := s.TopoOrder()
	if err != nil {
		return nil, err
	}
	stmts := make([]string, 0, len(order))
	for _, name := range order {
		t, ok := s.Table(name)
		if !ok {
			return nil, fmt.Errorf("topo order references unknown table %q", name)
		}
		stmts = append(stmts, tableDDL(t))
	}
	return stmts, nil
}

func tableDDL(t Table) string {
	ddl := "CREATE TABLE " + quoteIdent(t.Name) + " ("
	for i, c := range t.Columns {
		if i > 0 {
			ddl += ", "
		}
		ddl += quoteIdent(c.Name) + " " + c.Type
	}
	for _, fk := range t.ForeignKeys {
		ddl += fmt.Sprintf(", FOREIGN KEY (%s) REFERENCES %s(%s)",
			quoteIdent(fk.Column), quoteIdent(fk.Parent), quoteIdent(fk.ParentColumn))
	}
	return ddl + ")"
}

// quoteIdent double-quotes an identifier, escaping embedded quotes.
// Standard SQL quoting; accepted by both sqlite and postgres.
func quoteIdent(name string) string {
	out := `"`
	for _, r := range name {
		if r == '"' {
			out += `""`
			continue
		}
		out += string(r)
	}
	return out + `"`
}
