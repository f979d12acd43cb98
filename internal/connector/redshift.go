package connector

import (
	"context"

	_ "github.com/lib/pq" // redshift speaks the postgres wire protocol

	"github.com/leapstack-labs/catsync/pkg/core"
)

func init() {
	Register(&redshiftConnector{})
}

// redshiftConnector introspects Amazon Redshift through information_schema.
// Redshift's pg_catalog diverges from modern PostgreSQL, so no OID source
// keys are annotated; identity falls back to qualified-path matching.
type redshiftConnector struct{}

func (c *redshiftConnector) Dialect() string { return "redshift" }

func (c *redshiftConnector) Pull(ctx context.Context, cfg core.SourceConfig) (*core.Snapshot, error) {
	db, err := openPostgresURL(ctx, "postgres", cfg, 5439)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return introspectInfoSchema(ctx, db, cfg, postgresQueries("$1", "$2"))
}
