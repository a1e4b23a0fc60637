package synth

import (
	"sort"
	"strings"

	"github.com/tmakaro/requal/internal/sqlq"
)

// SolverVersion identifies the synthesis algorithm. Identical graph +
// identical version + identical configuration must always produce a
// byte-identical plan, so this bumps on any behavior change.
const SolverVersion = "v1"

// Row is one witness row: a table name plus column→value assignments.
// Values are deterministic anchors, never random.
type Row struct {
	Table  string
	Values map[string]sqlq.Value
}

// TableRows groups a table's witness rows.
type TableRows struct {
	Table string
	Rows  []Row
}

// Plan is a solved witness plan. Tables appear in insertion order
// (parent before child once a schema is supplied); the plan never
// references a parent key that a later table inserts.
type Plan struct {
	SolverVersion string
	Fingerprint   string
	Tables        []TableRows

	// Recipe is the version tag of the fallback recipe used, empty when
	// the generic solver produced the plan.
	Recipe string
}

// RowCount returns the total number of witness rows.
func (p *Plan) RowCount() int {
	n := 0
	for _, t := range p.Tables {
		n += len(t.Rows)
	}
	return n
}

// RowsFor returns the rows planned for one table.
func (p *Plan) RowsFor(table string) []Row {
	for _, t := range p.Tables {
		if t.Table == table {
			return t.Rows
		}
	}
	return nil
}

// Canonical renders the plan as a deterministic text form, used by the
// determinism tests and golden files. Column keys are sorted; table order
// is the plan's insertion order (which is itself deterministic).
func (p *Plan) Canonical() string {
	var b strings.Builder
	b.WriteString("solver=" + p.SolverVersion + "\n")
	b.WriteString("fingerprint=" + p.Fingerprint + "\n")
	if p.Recipe != "" {
		b.WriteString("recipe=" + p.Recipe + "\n")
	}
	for _, t := range p.Tables {
		for _, r := range t.Rows {
			b.WriteString(t.Table + ":")
			keys := make([]string, 0, len(r.Values))
			for k := range r.Values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for i, k := range keys {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(k + "=" + sqlq.CanonicalRow([]sqlq.Value{r.Values[k]}))
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
