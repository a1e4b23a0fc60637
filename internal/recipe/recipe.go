// Package recipe loads the fallback-recipe registry: family-specific
// witness rows keyed by constraint-graph structural fingerprint.
//
// The registry is an external, versioned artifact written in CUE. This
// package only reads it. Lookup returns an explicit no-match instead of
// guessing.
package recipe

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/tmakaro/requal/internal/sqlq"
	"github.com/tmakaro/requal/internal/synth"
)

// Registry is an in-memory recipe table. Implements synth.RecipeSource.
type Registry struct {
	version string
	recipes map[string]synth.Recipe
}

// Version returns the registry's own version tag.
func (r *Registry) Version() string { return r.version }

// Len returns the number of registered fingerprints.
func (r *Registry) Len() int { return len(r.recipes) }

// Lookup returns the recipe for a fingerprint. The second return value is
// the explicit no-match branch.
func (r *Registry) Lookup(fingerprint string) (synth.Recipe, bool) {
	rec, ok := r.recipes[fingerprint]
	return rec, ok
}

// LoadError reports a malformed registry file with position context.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("recipe registry: %s: %s (%s)", e.Field, e.Message, e.Pos)
	}
	return fmt.Sprintf("recipe registry: %s: %s", e.Field, e.Message)
}

// LoadFile reads a registry from a CUE file.
//
// Expected shape:
//
//	registry: {
//		version: "2026-08"
//		recipes: {
//			"<fingerprint>": {
//				version: "v2"
//				rows: [{table: "orders", values: {id: 1}}]
//				widened: [...]   // optional
//			}
//		}
//	}
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe registry: %w", err)
	}
	return Load(data, path)
}

// Load parses registry bytes. filename is used for positions only.
func Load(data []byte, filename string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile recipe registry: %s", cueerrors.Details(err, nil))
	}

	root := v.LookupPath(cue.ParsePath("registry"))
	if !root.Exists() {
		return nil, &LoadError{Field: "registry", Message: "top-level registry struct is required", Pos: v.Pos()}
	}

	reg := &Registry{recipes: map[string]synth.Recipe{}}

	verVal := root.LookupPath(cue.ParsePath("version"))
	if !verVal.Exists() {
		return nil, &LoadError{Field: "registry.version", Message: "version is required", Pos: root.Pos()}
	}
	ver, err := verVal.String()
	if err != nil {
		return nil, &LoadError{Field: "registry.version", Message: err.Error(), Pos: verVal.Pos()}
	}
	reg.version = ver

	recipes := root.LookupPath(cue.ParsePath("recipes"))
	if !recipes.Exists() {
		return reg, nil
	}

	iter, err := recipes.Fields()
	if err != nil {
		return nil, &LoadError{Field: "registry.recipes", Message: err.Error(), Pos: recipes.Pos()}
	}
	for iter.Next() {
		fp := strings.Trim(iter.Selector().String(), `"`)
		rec, err := parseRecipe(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("recipe %q: %w", fp, err)
		}
		reg.recipes[fp] = rec
	}

	return reg, nil
}

func parseRecipe(v cue.Value) (synth.Recipe, error) {
	rec := synth.Recipe{}

	verVal := v.LookupPath(cue.ParsePath("version"))
	if !verVal.Exists() {
		return rec, &LoadError{Field: "version", Message: "recipe version is required", Pos: v.Pos()}
	}
	ver, err := verVal.String()
	if err != nil {
		return rec, &LoadError{Field: "version", Message: err.Error(), Pos: verVal.Pos()}
	}
	rec.Version = ver

	rec.Rows, err = parseRows(v.LookupPath(cue.ParsePath("rows")))
	if err != nil {
		return rec, err
	}
	if len(rec.Rows) == 0 {
		return rec, &LoadError{Field: "rows", Message: "at least one row is required", Pos: v.Pos()}
	}

	widened := v.LookupPath(cue.ParsePath("widened"))
	if widened.Exists() {
		rec.Widened, err = parseRows(widened)
		if err != nil {
			return rec, err
		}
	}

	return rec, nil
}

func parseRows(v cue.Value) ([]synth.Row, error) {
	if !v.Exists() {
		return nil, nil
	}
	list, err := v.List()
	if err != nil {
		return nil, &LoadError{Field: "rows", Message: err.Error(), Pos: v.Pos()}
	}

	var rows []synth.Row
	for list.Next() {
		rv := list.Value()

		tableVal := rv.LookupPath(cue.ParsePath("table"))
		table, err := tableVal.String()
		if err != nil {
			return nil, &LoadError{Field: "rows.table", Message: "table name is required", Pos: rv.Pos()}
		}

		row := synth.Row{Table: table, Values: map[string]sqlq.Value{}}
		valuesVal := rv.LookupPath(cue.ParsePath("values"))
		if valuesVal.Exists() {
			fields, err := valuesVal.Fields()
			if err != nil {
				return nil, &LoadError{Field: "rows.values", Message: err.Error(), Pos: valuesVal.Pos()}
			}
			for fields.Next() {
				col := strings.Trim(fields.Selector().String(), `"`)
				val, err := cueScalar(fields.Value())
				if err != nil {
					return nil, &LoadError{Field: "rows.values." + col, Message: err.Error(), Pos: fields.Value().Pos()}
				}
				row.Values[col] = val
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// cueScalar converts a CUE scalar into a witness value.
func cueScalar(v cue.Value) (sqlq.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return sqlq.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, err
		}
		return sqlq.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return sqlq.Int(n), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return sqlq.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, err
		}
		return sqlq.Str(s), nil
	default:
		return nil, fmt.Errorf("unsupported value kind %v", v.Kind())
	}
}
