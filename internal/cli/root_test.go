package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmakaro/requal/internal/schema"
)

func TestRootRejectsInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "validate", "a.sql", "b.sql", "--schema", "s.sql"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootListsSubcommands(t *testing.T) {
	cmd := NewRootCommand()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"validate", "bench", "race", "search"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "did not pass")))
}

func TestLoadPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
baseline: SELECT * FROM t WHERE t.a = 1
candidates:
  - sql: SELECT * FROM t WHERE 1 = t.a
    provenance: manual
  - sql: SELECT * FROM t WHERE t.a = 1 AND TRUE
    provenance: rule:conjoin-true
`), 0o644))

	pf, err := loadPool(path)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE t.a = 1", pf.Baseline)
	require.Len(t, pf.Candidates, 2)
	assert.Equal(t, "manual", pf.Candidates[0].Provenance)
}

func TestLoadPoolRejectsMissingBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("candidates:\n  - sql: SELECT 1\n"), 0o644))

	_, err := loadPool(path)
	assert.Error(t, err)
}

func TestLoadPoolRejectsEmptyCandidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baseline: SELECT 1\n"), 0o644))

	_, err := loadPool(path)
	assert.Error(t, err)
}

func TestEvaluatorOptionsLoadsRecipes(t *testing.T) {
	sch := &schema.Schema{Tables: []schema.Table{
		{Name: "t", Columns: []schema.Column{{Name: "a", Type: "INTEGER"}}},
	}}

	opts, err := evaluatorOptions(sch, "")
	require.NoError(t, err)
	assert.Empty(t, opts, "no registry path, no extra options")

	path := filepath.Join(t.TempDir(), "recipes.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
registry: {
	version: "test"
	recipes: {}
}
`), 0o644))
	opts, err = evaluatorOptions(sch, path)
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	_, err = evaluatorOptions(sch, filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}
