package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultCatalogPath, cfg.CatalogPath)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, DefaultConcurrency, cfg.Sync.Concurrency)
	assert.Equal(t, DefaultPullAttempts, cfg.Sync.PullAttempts)
	assert.Equal(t, DefaultPullBackoff, cfg.Sync.PullBackoff)
	assert.Equal(t, DefaultConflictRetries, cfg.Sync.ConflictRetries)
	assert.Empty(t, cfg.Sources)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, "catsync.yaml", `
catalog_path: /var/lib/catsync/catalog.db
output: json
sync:
  concurrency: 2
  pull_backoff: 2s
sources:
  - name: warehouse1
    dialect: postgres
    host: db.internal
    port: 5433
    database: shop
    username: catsync
  - name: archive
    dialect: sqlite
    path: /data/archive.db
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/catsync/catalog.db", cfg.CatalogPath)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Sync.PullBackoff)
	// Keys the file omits keep their defaults.
	assert.Equal(t, DefaultPullAttempts, cfg.Sync.PullAttempts)

	require.Len(t, cfg.Sources, 2)
	wh := cfg.Source("warehouse1")
	require.NotNil(t, wh)
	assert.Equal(t, "postgres", wh.Dialect)
	assert.Equal(t, 5433, wh.Port)
	assert.Equal(t, "shop", wh.Database)
	assert.Nil(t, cfg.Source("nope"))
}

func TestLoadFindsAlternateFileName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catsync.yml"), []byte("output: json\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Output)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "catsync.yaml", `
output: json
sync:
  concurrency: 2
  pull_attempts: 5
`)

	// Env beats file.
	t.Setenv("CATSYNC_OUTPUT", "table")
	t.Setenv("CATSYNC_SYNC__CONCURRENCY", "8")

	// A changed flag beats both; an unchanged flag beats neither.
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("concurrency", DefaultConcurrency, "")
	flags.String("output", DefaultOutput, "")
	require.NoError(t, flags.Parse([]string{"--concurrency=16"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Sync.Concurrency, "flag wins over env and file")
	assert.Equal(t, "table", cfg.Output, "env wins over file")
	assert.Equal(t, 5, cfg.Sync.PullAttempts, "file wins over defaults")
}

func TestLoadCatalogFlagMapsToCatalogPath(t *testing.T) {
	t.Chdir(t.TempDir())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("catalog", DefaultCatalogPath, "")
	require.NoError(t, flags.Parse([]string{"--catalog=/tmp/cat.db"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cat.db", cfg.CatalogPath)
}

func TestLoadExpandsCredentialEnvVars(t *testing.T) {
	path := writeConfig(t, "catsync.yaml", `
sources:
  - name: warehouse1
    dialect: postgres
    host: ${WH1_HOST}
    username: catsync
    password: ${WH1_PASSWORD}
`)
	t.Setenv("WH1_PASSWORD", "s3cret")
	// WH1_HOST is deliberately unset.

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	src := cfg.Source("warehouse1")
	require.NotNil(t, src)
	assert.Equal(t, "s3cret", src.Password)
	assert.Equal(t, "${WH1_HOST}", src.Host, "unset variables stay literal")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad output",
			yaml:    "output: xml\n",
			wantErr: "output must be",
		},
		{
			name: "source without dialect",
			yaml: `
sources:
  - name: warehouse1
`,
			wantErr: "dialect must not be empty",
		},
		{
			name: "duplicate source names",
			yaml: `
sources:
  - name: warehouse1
    dialect: postgres
  - name: warehouse1
    dialect: mysql
`,
			wantErr: "duplicate source name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "catsync.yaml", tt.yaml)
			_, err := Load(path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
