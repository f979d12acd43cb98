package connector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// infoSchemaQueries parameterizes the shared information_schema walk for
// dialects that expose one. Each query is written in its dialect's
// placeholder style and must return the columns documented below.
type infoSchemaQueries struct {
	// schemata returns: schema_name. No parameters.
	schemata string

	// tables takes (schema) and returns: table_name, table_type.
	tables string

	// columns takes (schema, table) and returns: column_name,
	// ordinal_position, data_type, is_nullable ('YES'/'NO'),
	// precision, scale (both coalesced to 0).
	columns string

	// primaryKeys takes (schema, table) and returns: column_name.
	primaryKeys string

	// foreignKeys takes (schema, table) and returns: constraint_name,
	// from_column, to_schema, to_table, to_column.
	foreignKeys string
}

// introspectInfoSchema walks one database's information_schema into a
// candidate tree. Entity IDs are left empty; the diff engine assigns or
// matches identity.
func introspectInfoSchema(ctx context.Context, db *sql.DB, cfg core.SourceConfig, q infoSchemaQueries) (*core.Snapshot, error) {
	dbName := cfg.Database
	if dbName == "" {
		dbName = cfg.Name
	}

	root := &core.Database{Name: dbName}
	snap := &core.Snapshot{Source: cfg.Name, Databases: []*core.Database{root}}

	schemas, err := querySchemata(ctx, db, cfg.Name, q)
	if err != nil {
		return nil, err
	}

	for _, schemaName := range schemas {
		sch := &core.Schema{Name: schemaName}
		if err := introspectSchema(ctx, db, cfg.Name, dbName, sch, q); err != nil {
			return nil, err
		}
		root.Schemas = append(root.Schemas, sch)
	}

	return snap, nil
}

func querySchemata(ctx context.Context, db *sql.DB, source string, q infoSchemaQueries) ([]string, error) {
	rows, err := db.QueryContext(ctx, q.schemata)
	if err != nil {
		return nil, &core.ConnectionError{Source: source, Err: fmt.Errorf("listing schemata: %w", err)}
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &core.IntrospectionError{Source: source, Detail: "scanning schema row", Err: err}
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.ConnectionError{Source: source, Err: err}
	}
	return schemas, nil
}

func introspectSchema(ctx context.Context, db *sql.DB, source, dbName string, sch *core.Schema, q infoSchemaQueries) error {
	rows, err := db.QueryContext(ctx, q.tables, sch.Name)
	if err != nil {
		return &core.ConnectionError{Source: source, Err: fmt.Errorf("listing tables in %s: %w", sch.Name, err)}
	}
	defer rows.Close()

	type tableRow struct {
		name, typ string
	}
	var tableRows []tableRow
	for rows.Next() {
		var tr tableRow
		if err := rows.Scan(&tr.name, &tr.typ); err != nil {
			return &core.IntrospectionError{Source: source, Detail: "scanning table row", Err: err}
		}
		tableRows = append(tableRows, tr)
	}
	if err := rows.Err(); err != nil {
		return &core.ConnectionError{Source: source, Err: err}
	}

	for _, tr := range tableRows {
		kind, keep, err := mapTableKind(tr.typ)
		if err != nil {
			return &core.IntrospectionError{
				Source: source,
				Detail: fmt.Sprintf("table %s: %v", core.JoinPath(dbName, sch.Name, tr.name), err),
			}
		}
		if !keep {
			continue
		}

		tbl := &core.Table{Name: tr.name, Kind: kind}
		if err := introspectTable(ctx, db, source, dbName, sch.Name, tbl, q); err != nil {
			return err
		}
		sch.Tables = append(sch.Tables, tbl)
	}
	return nil
}

func introspectTable(ctx context.Context, db *sql.DB, source, dbName, schemaName string, tbl *core.Table, q infoSchemaQueries) error {
	path := core.JoinPath(dbName, schemaName, tbl.Name)

	rows, err := db.QueryContext(ctx, q.columns, schemaName, tbl.Name)
	if err != nil {
		return &core.ConnectionError{Source: source, Err: fmt.Errorf("listing columns of %s: %w", path, err)}
	}
	defer rows.Close()

	for rows.Next() {
		col := &core.Column{}
		var ordinal int
		var nullable string
		if err := rows.Scan(&col.Name, &ordinal, &col.Type.Name, &nullable, &col.Type.Precision, &col.Type.Scale); err != nil {
			return &core.IntrospectionError{Source: source, Detail: fmt.Sprintf("scanning column of %s", path), Err: err}
		}
		if ordinal < 1 {
			return &core.IntrospectionError{
				Source: source,
				Detail: fmt.Sprintf("column %s.%s has ordinal position %d", path, col.Name, ordinal),
			}
		}
		// Reported ordinal positions can keep gaps after dropped columns.
		// Rows arrive ordered by ordinal_position, so the model's contiguous
		// 0-based ordinals come from scan position.
		col.Ordinal = len(tbl.Columns)
		col.Type.Nullable = nullable == "YES"
		tbl.Columns = append(tbl.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return &core.ConnectionError{Source: source, Err: err}
	}

	if err := markPrimaryKeys(ctx, db, source, path, schemaName, tbl, q); err != nil {
		return err
	}
	return collectForeignKeys(ctx, db, source, path, schemaName, tbl, q)
}

func markPrimaryKeys(ctx context.Context, db *sql.DB, source, path, schemaName string, tbl *core.Table, q infoSchemaQueries) error {
	rows, err := db.QueryContext(ctx, q.primaryKeys, schemaName, tbl.Name)
	if err != nil {
		return &core.ConnectionError{Source: source, Err: fmt.Errorf("listing primary key of %s: %w", path, err)}
	}
	defer rows.Close()

	byName := make(map[string]*core.Column, len(tbl.Columns))
	for _, col := range tbl.Columns {
		byName[col.Name] = col
	}

	for rows.Next() {
		var colName string
		if err := rows.Scan(&colName); err != nil {
			return &core.IntrospectionError{Source: source, Detail: fmt.Sprintf("scanning primary key of %s", path), Err: err}
		}
		col, ok := byName[colName]
		if !ok {
			return &core.IntrospectionError{
				Source: source,
				Detail: fmt.Sprintf("primary key of %s names unknown column %s", path, colName),
			}
		}
		col.PrimaryKey = true
	}
	return rows.Err()
}

func collectForeignKeys(ctx context.Context, db *sql.DB, source, path, schemaName string, tbl *core.Table, q infoSchemaQueries) error {
	rows, err := db.QueryContext(ctx, q.foreignKeys, schemaName, tbl.Name)
	if err != nil {
		return &core.ConnectionError{Source: source, Err: fmt.Errorf("listing foreign keys of %s: %w", path, err)}
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		fk := &core.ForeignKey{}
		if err := rows.Scan(&fk.Name, &fk.FromColumn, &fk.ToSchema, &fk.ToTable, &fk.ToColumn); err != nil {
			return &core.IntrospectionError{Source: source, Detail: fmt.Sprintf("scanning foreign key of %s", path), Err: err}
		}
		// Composite constraints repeat the constraint name once per column;
		// each column edge gets its own uniquely named entry.
		if _, dup := seen[fk.Name]; dup {
			fk.Name = fmt.Sprintf("%s[%s]", fk.Name, fk.FromColumn)
		}
		seen[fk.Name] = struct{}{}
		tbl.ForeignKeys = append(tbl.ForeignKeys, fk)
	}
	return rows.Err()
}

// mapTableKind maps an information_schema table_type onto the model's table
// kinds. Temporaries are skipped; anything unrecognized fails introspection.
func mapTableKind(tableType string) (core.TableKind, bool, error) {
	switch tableType {
	case "BASE TABLE":
		return core.TableKindTable, true, nil
	case "VIEW", "SYSTEM VIEW":
		return core.TableKindView, true, nil
	case "FOREIGN", "FOREIGN TABLE", "EXTERNAL TABLE":
		return core.TableKindExternal, true, nil
	case "LOCAL TEMPORARY", "GLOBAL TEMPORARY":
		return "", false, nil
	}
	return "", false, fmt.Errorf("unrecognized table type %q", tableType)
}
