package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// ParseDDL builds a Schema from a script of CREATE TABLE statements.
// Statements other than CREATE TABLE are ignored.
func ParseDDL(script string) (*Schema, error) {
	p := parser.New()
	stmts, _, err := p.ParseSQL(script)
	if err != nil {
		return nil, fmt.Errorf("parse ddl: %w", err)
	}

	var s Schema
	for _, stmt := range stmts {
		ct, ok := stmt.(*ast.CreateTableStmt)
		if !ok {
			continue
		}
		t := Table{Name: ct.Table.Name.L}
		for _, col := range ct.Cols {
			t.Columns = append(t.Columns, Column{
				Name: col.Name.Name.L,
				Type: col.Tp.String(),
			})
			for _, opt := range col.Options {
				if opt.Tp != ast.ColumnOptionReference || opt.Refer == nil {
					continue
				}
				fk := ForeignKey{
					Column: col.Name.Name.L,
					Parent: opt.Refer.Table.Name.L,
				}
				if len(opt.Refer.IndexPartSpecifications) > 0 {
					fk.ParentColumn = opt.Refer.IndexPartSpecifications[0].Column.Name.L
				}
				t.ForeignKeys = append(t.ForeignKeys, fk)
			}
		}
		for _, cons := range ct.Constraints {
			if cons.Tp != ast.ConstraintForeignKey || cons.Refer == nil {
				continue
			}
			if len(cons.Keys) == 0 || len(cons.Refer.IndexPartSpecifications) == 0 {
				return nil, fmt.Errorf("table %q: foreign key constraint without columns", t.Name)
			}
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				Column:       cons.Keys[0].Column.Name.L,
				Parent:       cons.Refer.Table.Name.L,
				ParentColumn: cons.Refer.IndexPartSpecifications[0].Column.Name.L,
			})
		}
		s.Tables = append(s.Tables, t)
	}
	if len(s.Tables) == 0 {
		return nil, fmt.Errorf("parse ddl: no CREATE TABLE statements found")
	}
	return &s, nil
}

// LoadFile reads and parses a DDL script from disk.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("schema file %s is empty", path)
	}
	return ParseDDL(string(data))
}
