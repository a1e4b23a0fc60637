package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmakaro/requal/internal/sqlq"
)

const registrySrc = `
registry: {
	version: "2026-08"
	recipes: {
		"aaaa1111": {
			version: "v2"
			rows: [
				{table: "orders", values: {id: 1, status: "open"}},
				{table: "users", values: {id: 1, active: true}},
			]
			widened: [
				{table: "orders", values: {id: 1, status: "open"}},
				{table: "orders", values: {id: 2, status: "open"}},
			]
		}
		"bbbb2222": {
			version: "v1"
			rows: [{table: "t", values: {score: 2.5, note: null}}]
		}
	}
}
`

func TestLoadRegistry(t *testing.T) {
	reg, err := Load([]byte(registrySrc), "registry.cue")
	require.NoError(t, err)

	assert.Equal(t, "2026-08", reg.Version())
	assert.Equal(t, 2, reg.Len())

	rec, ok := reg.Lookup("aaaa1111")
	require.True(t, ok)
	assert.Equal(t, "v2", rec.Version)
	require.Len(t, rec.Rows, 2)
	assert.Equal(t, "orders", rec.Rows[0].Table)
	assert.Equal(t, sqlq.Int(1), rec.Rows[0].Values["id"])
	assert.Equal(t, sqlq.Str("open"), rec.Rows[0].Values["status"])
	assert.Equal(t, sqlq.Bool(true), rec.Rows[1].Values["active"])
	assert.Len(t, rec.Widened, 2)
}

func TestLoadScalarKinds(t *testing.T) {
	reg, err := Load([]byte(registrySrc), "registry.cue")
	require.NoError(t, err)

	rec, ok := reg.Lookup("bbbb2222")
	require.True(t, ok)
	assert.Equal(t, sqlq.Float(2.5), rec.Rows[0].Values["score"])
	assert.Equal(t, sqlq.Null{}, rec.Rows[0].Values["note"])
}

func TestLookupNoMatchIsExplicit(t *testing.T) {
	reg, err := Load([]byte(registrySrc), "registry.cue")
	require.NoError(t, err)

	_, ok := reg.Lookup("unknown")
	assert.False(t, ok)
}

func TestLoadRejectsMissingVersion(t *testing.T) {
	_, err := Load([]byte(`registry: { recipes: {} }`), "bad.cue")
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "registry.version", le.Field)
}

func TestLoadRejectsMissingRegistry(t *testing.T) {
	_, err := Load([]byte(`other: 1`), "bad.cue")
	assert.Error(t, err)
}

func TestLoadRejectsEmptyRows(t *testing.T) {
	src := `
registry: {
	version: "x"
	recipes: {"fp": {version: "v1", rows: []}}
}
`
	_, err := Load([]byte(src), "bad.cue")
	assert.Error(t, err)
}

func TestLoadRejectsBadSyntax(t *testing.T) {
	_, err := Load([]byte(`registry: {{{`), "bad.cue")
	assert.Error(t, err)
}

func TestEmptyRecipesIsValid(t *testing.T) {
	reg, err := Load([]byte(`registry: { version: "x" }`), "ok.cue")
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
}
