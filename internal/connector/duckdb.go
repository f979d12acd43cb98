package connector

import (
	"context"
	"database/sql"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/leapstack-labs/catsync/pkg/core"
)

func init() {
	Register(&duckdbConnector{})
}

// duckdbConnector introspects DuckDB files. DuckDB implements the
// postgres-flavored information_schema, so the query shapes are shared.
type duckdbConnector struct{}

func (c *duckdbConnector) Dialect() string { return "duckdb" }

func (c *duckdbConnector) Pull(ctx context.Context, cfg core.SourceConfig) (*core.Snapshot, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, &core.ConnectionError{Source: cfg.Name, Err: err}
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, &core.ConnectionError{Source: cfg.Name, Err: err}
	}

	return introspectInfoSchema(ctx, db, cfg, postgresQueries("?", "?"))
}
