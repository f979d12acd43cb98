package cli

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile = ""

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestNewRootCmdMetadata(t *testing.T) {
	cmd := NewRootCmd()

	assert.Equal(t, "catsync", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	for _, name := range []string{"pull", "sources", "history", "version"} {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "subcommand %q should exist", name)
	}

	for _, flag := range []string{"config", "catalog", "concurrency", "verbose", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestPullCommandMetadata(t *testing.T) {
	cmd := newPullCommand()

	assert.Equal(t, "pull [source...]", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Example)
}

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "catsync v")
	assert.Contains(t, out, "commit:")
}

func TestPullRejectsUnconfiguredSource(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, `
catalog_path: `+filepath.Join(dir, "catalog.db")+`
sources:
  - name: archive
    dialect: sqlite
    path: /does/not/matter.db
`)

	_, err := execute(t, "pull", "nope", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `source "nope" is not configured`)
}

func TestPullWithoutSources(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "catalog_path: "+filepath.Join(dir, "catalog.db")+"\n")

	_, err := execute(t, "pull", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sources configured")
}

// TestPullSQLiteEndToEnd drives the full path: a real source file, a fresh
// catalog, one committed cycle, then the sources and history views over it.
func TestPullSQLiteEndToEnd(t *testing.T) {
	dir := t.TempDir()

	srcPath := filepath.Join(dir, "shop.db")
	db, err := sql.Open("sqlite", srcPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, total REAL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfgPath := writeTestConfig(t, dir, fmt.Sprintf(`
catalog_path: %s
output: json
sources:
  - name: archive
    dialect: sqlite
    path: %s
`, filepath.Join(dir, "catalog.db"), srcPath))

	out, err := execute(t, "pull", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"Status": "committed"`)

	out, err = execute(t, "sources", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "archive")
	assert.Contains(t, out, "Supported dialects:")

	out, err = execute(t, "history", "archive", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "committed")
}

func TestPullFailingSourceExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, fmt.Sprintf(`
catalog_path: %s
sync:
  pull_attempts: 1
sources:
  - name: archive
    dialect: sqlite
    path: %s
`, filepath.Join(dir, "catalog.db"), filepath.Join(dir, "missing.db")))

	out, err := execute(t, "pull", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 source(s) failed")
	// The failure is still rendered, not just returned.
	assert.Contains(t, out, "failed")
}

func TestHistoryUnknownSource(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "catalog_path: "+filepath.Join(dir, "catalog.db")+"\n")

	_, err := execute(t, "history", "ghost", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered in the catalog")
}

func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "catsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGetConfigFallsBackToDefaults(t *testing.T) {
	cmd := newPullCommand()
	cmd.SetContext(context.Background())
	cfg := getConfig(cmd)
	if cfg.CatalogPath == "" || cfg.Output != "table" {
		t.Errorf("fallback config = %+v", cfg)
	}
}
