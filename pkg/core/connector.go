package core

import "context"

// SourceConfig holds the connection parameters for one configured source.
// Dialect selects the connector; the remaining fields are dialect-specific.
type SourceConfig struct {
	// Name is the unique source identifier within the catalog.
	Name string `koanf:"name"`

	// Dialect selects a registered connector (e.g. "postgres", "mysql").
	Dialect string `koanf:"dialect"`

	// Host and Port for network-based sources.
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Database is the database name to introspect.
	Database string `koanf:"database"`

	// Username and Password for authentication. Values may use ${VAR}
	// expansion from the environment.
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Path is the file path for file-based sources (sqlite, duckdb).
	Path string `koanf:"path"`

	// Options carries additional driver-specific parameters.
	Options map[string]string `koanf:"options"`
}

// Connector produces a candidate snapshot for one configured source.
// Implementations fail with *ConnectionError for transient network/auth
// problems and *IntrospectionError when the source returns a structure
// they cannot map. A connector holds no connection beyond one Pull.
type Connector interface {
	// Dialect returns the dialect tag this connector serves.
	Dialect() string

	// Pull introspects the source and returns its normalized metadata tree.
	Pull(ctx context.Context, cfg SourceConfig) (*Snapshot, error)
}
