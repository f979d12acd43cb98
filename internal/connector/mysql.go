package connector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/leapstack-labs/catsync/pkg/core"
)

func init() {
	Register(&mysqlConnector{})
}

// mysqlConnector introspects MySQL and MariaDB. MySQL has no separate
// database level above schemata, so every non-system schema on the server
// lands under one database node named after the configured database.
type mysqlConnector struct{}

func (c *mysqlConnector) Dialect() string { return "mysql" }

func (c *mysqlConnector) Pull(ctx context.Context, cfg core.SourceConfig) (*core.Snapshot, error) {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	mc.DBName = cfg.Database
	if len(cfg.Options) > 0 {
		mc.Params = cfg.Options
	}

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, &core.ConnectionError{Source: cfg.Name, Err: err}
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, &core.ConnectionError{Source: cfg.Name, Err: err}
	}

	return introspectInfoSchema(ctx, db, cfg, mysqlQueries())
}

func mysqlQueries() infoSchemaQueries {
	return infoSchemaQueries{
		schemata: `SELECT schema_name FROM information_schema.schemata
		 WHERE schema_name NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
		 ORDER BY schema_name`,

		tables: `SELECT table_name, table_type FROM information_schema.tables
		 WHERE table_schema = ? ORDER BY table_name`,

		columns: `SELECT column_name, ordinal_position, data_type, is_nullable,
		        COALESCE(numeric_precision, character_maximum_length, 0),
		        COALESCE(numeric_scale, 0)
		 FROM information_schema.columns
		 WHERE table_schema = ? AND table_name = ?
		 ORDER BY ordinal_position`,

		primaryKeys: `SELECT column_name FROM information_schema.key_column_usage
		 WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'
		 ORDER BY ordinal_position`,

		foreignKeys: `SELECT constraint_name, column_name,
		        referenced_table_schema, referenced_table_name, referenced_column_name
		 FROM information_schema.key_column_usage
		 WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL
		 ORDER BY constraint_name, ordinal_position`,
	}
}
