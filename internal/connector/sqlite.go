package connector

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/leapstack-labs/catsync/pkg/core"
)

func init() {
	Register(&sqliteConnector{})
}

// sqliteConnector introspects SQLite files through sqlite_master and the
// table_info / foreign_key_list pragmas. The file is opened read-only: a pull
// must never mutate a source.
type sqliteConnector struct{}

func (c *sqliteConnector) Dialect() string { return "sqlite" }

func (c *sqliteConnector) Pull(ctx context.Context, cfg core.SourceConfig) (*core.Snapshot, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", cfg.Path))
	if err != nil {
		return nil, &core.ConnectionError{Source: cfg.Name, Err: err}
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, &core.ConnectionError{Source: cfg.Name, Err: err}
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = strings.TrimSuffix(filepath.Base(cfg.Path), filepath.Ext(cfg.Path))
	}

	sch := &core.Schema{Name: "main"}
	root := &core.Database{Name: dbName, Schemas: []*core.Schema{sch}}
	snap := &core.Snapshot{Source: cfg.Name, Databases: []*core.Database{root}}

	tables, err := c.listTables(ctx, db, cfg.Name)
	if err != nil {
		return nil, err
	}

	for _, tbl := range tables {
		path := core.JoinPath(dbName, sch.Name, tbl.Name)
		if err := c.tableInfo(ctx, db, cfg.Name, path, tbl); err != nil {
			return nil, err
		}
		if tbl.Kind == core.TableKindTable {
			if err := c.foreignKeyList(ctx, db, cfg.Name, path, tbl); err != nil {
				return nil, err
			}
		}
		sch.Tables = append(sch.Tables, tbl)
	}

	return snap, nil
}

func (c *sqliteConnector) listTables(ctx context.Context, db *sql.DB, source string) ([]*core.Table, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, type FROM sqlite_master
		 WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`,
	)
	if err != nil {
		return nil, &core.ConnectionError{Source: source, Err: fmt.Errorf("listing tables: %w", err)}
	}
	defer rows.Close()

	var tables []*core.Table
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, &core.IntrospectionError{Source: source, Detail: "scanning sqlite_master row", Err: err}
		}
		kind := core.TableKindTable
		if typ == "view" {
			kind = core.TableKindView
		}
		tables = append(tables, &core.Table{Name: name, Kind: kind})
	}
	return tables, rows.Err()
}

func (c *sqliteConnector) tableInfo(ctx context.Context, db *sql.DB, source, path string, tbl *core.Table) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(tbl.Name)))
	if err != nil {
		return &core.ConnectionError{Source: source, Err: fmt.Errorf("table_info of %s: %w", path, err)}
	}
	defer rows.Close()

	for rows.Next() {
		col := &core.Column{}
		var cid, notNull, pk int
		var typeName string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &col.Name, &typeName, &notNull, &dflt, &pk); err != nil {
			return &core.IntrospectionError{Source: source, Detail: fmt.Sprintf("scanning column of %s", path), Err: err}
		}
		if typeName == "" {
			// Columns declared without a type have ANY semantics.
			typeName = "any"
		}
		col.Ordinal = cid
		col.Type = core.TypeDesc{Name: strings.ToLower(typeName), Nullable: notNull == 0}
		col.PrimaryKey = pk > 0
		tbl.Columns = append(tbl.Columns, col)
	}
	return rows.Err()
}

func (c *sqliteConnector) foreignKeyList(ctx context.Context, db *sql.DB, source, path string, tbl *core.Table) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list(%s)`, quoteIdent(tbl.Name)))
	if err != nil {
		return &core.ConnectionError{Source: source, Err: fmt.Errorf("foreign_key_list of %s: %w", path, err)}
	}
	defer rows.Close()

	for rows.Next() {
		var id, seq int
		var toTable, from string
		var to sql.NullString
		var onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &toTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return &core.IntrospectionError{Source: source, Detail: fmt.Sprintf("scanning foreign key of %s", path), Err: err}
		}
		toColumn := to.String
		if toColumn == "" {
			// An omitted target column references the parent's rowid key.
			toColumn = "rowid"
		}
		tbl.ForeignKeys = append(tbl.ForeignKeys, &core.ForeignKey{
			// SQLite constraints are unnamed in the pragma output; the
			// (id, seq) pair is stable for a given table definition.
			Name:       fmt.Sprintf("fk_%d_%d", id, seq),
			FromColumn: from,
			ToSchema:   "main",
			ToTable:    toTable,
			ToColumn:   toColumn,
		})
	}
	return rows.Err()
}

// quoteIdent double-quotes an identifier for interpolation into a PRAGMA,
// which cannot take bound parameters.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
