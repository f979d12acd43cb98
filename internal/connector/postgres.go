package connector

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver

	"github.com/leapstack-labs/catsync/pkg/core"
)

func init() {
	Register(&postgresConnector{})
}

// postgresConnector introspects PostgreSQL through information_schema and
// annotates schemas and tables with pg_catalog OIDs as source keys, so the
// diff engine can follow renames.
type postgresConnector struct{}

func (c *postgresConnector) Dialect() string { return "postgres" }

func (c *postgresConnector) Pull(ctx context.Context, cfg core.SourceConfig) (*core.Snapshot, error) {
	db, err := openPostgresURL(ctx, "pgx", cfg, 5432)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	snap, err := introspectInfoSchema(ctx, db, cfg, postgresQueries("$1", "$2"))
	if err != nil {
		return nil, err
	}
	if err := annotateOIDs(ctx, db, cfg.Name, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// openPostgresURL opens a postgres-wire connection using URL-style DSNs,
// shared by the postgres and redshift connectors.
func openPostgresURL(ctx context.Context, driver string, cfg core.SourceConfig, defaultPort int) (*sql.DB, error) {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:   "/" + cfg.Database,
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := u.Query()
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	db, err := sql.Open(driver, u.String())
	if err != nil {
		return nil, &core.ConnectionError{Source: cfg.Name, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &core.ConnectionError{Source: cfg.Name, Err: err}
	}
	return db, nil
}

// postgresQueries builds the information_schema query set in the caller's
// placeholder style. Redshift and DuckDB reuse the same shapes.
func postgresQueries(p1, p2 string) infoSchemaQueries {
	return infoSchemaQueries{
		schemata: `SELECT schema_name FROM information_schema.schemata
		 WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
		   AND schema_name NOT LIKE 'pg_toast%'
		   AND schema_name NOT LIKE 'pg_temp%'
		 ORDER BY schema_name`,

		tables: fmt.Sprintf(`SELECT table_name, table_type FROM information_schema.tables
		 WHERE table_schema = %s ORDER BY table_name`, p1),

		columns: fmt.Sprintf(`SELECT column_name, ordinal_position, data_type, is_nullable,
		        COALESCE(numeric_precision, character_maximum_length, 0),
		        COALESCE(numeric_scale, 0)
		 FROM information_schema.columns
		 WHERE table_schema = %s AND table_name = %s
		 ORDER BY ordinal_position`, p1, p2),

		primaryKeys: fmt.Sprintf(`SELECT kcu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		 WHERE tc.constraint_type = 'PRIMARY KEY'
		   AND tc.table_schema = %s AND tc.table_name = %s
		 ORDER BY kcu.ordinal_position`, p1, p2),

		foreignKeys: fmt.Sprintf(`SELECT tc.constraint_name, kcu.column_name,
		        ccu.table_schema, ccu.table_name, ccu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		 JOIN information_schema.constraint_column_usage ccu
		   ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		 WHERE tc.constraint_type = 'FOREIGN KEY'
		   AND tc.table_schema = %s AND tc.table_name = %s
		 ORDER BY tc.constraint_name, kcu.ordinal_position`, p1, p2),
	}
}

// annotateOIDs sets pg_namespace and pg_class OIDs as source keys. OIDs
// survive RENAME, so a renamed schema or table keeps its catalog identity.
func annotateOIDs(ctx context.Context, db *sql.DB, source string, snap *core.Snapshot) error {
	schemaOIDs := make(map[string]string)
	rows, err := db.QueryContext(ctx, `SELECT nspname, oid::text FROM pg_namespace`)
	if err != nil {
		return &core.ConnectionError{Source: source, Err: fmt.Errorf("reading schema oids: %w", err)}
	}
	for rows.Next() {
		var name, oid string
		if err := rows.Scan(&name, &oid); err != nil {
			rows.Close()
			return &core.IntrospectionError{Source: source, Detail: "scanning schema oid", Err: err}
		}
		schemaOIDs[name] = oid
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &core.ConnectionError{Source: source, Err: err}
	}

	tableOIDs := make(map[string]string)
	rows, err = db.QueryContext(ctx,
		`SELECT n.nspname, c.relname, c.oid::text
		 FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
		 WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')`,
	)
	if err != nil {
		return &core.ConnectionError{Source: source, Err: fmt.Errorf("reading table oids: %w", err)}
	}
	for rows.Next() {
		var schema, table, oid string
		if err := rows.Scan(&schema, &table, &oid); err != nil {
			rows.Close()
			return &core.IntrospectionError{Source: source, Detail: "scanning table oid", Err: err}
		}
		tableOIDs[schema+"\x00"+table] = oid
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &core.ConnectionError{Source: source, Err: err}
	}

	for _, database := range snap.Databases {
		for _, sch := range database.Schemas {
			sch.SourceKey = schemaOIDs[sch.Name]
			for _, tbl := range sch.Tables {
				tbl.SourceKey = tableOIDs[sch.Name+"\x00"+tbl.Name]
			}
		}
	}
	return nil
}
