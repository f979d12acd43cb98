package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// CurrentLiveView materializes the live (non-retired) subset of the catalog
// for one source as a candidate-shaped tree, together with the sync cursor.
// Cursor and entity rows are read inside one transaction so a concurrent
// apply can never tear the tree between statements.
func (s *SQLiteStore) CurrentLiveView(ctx context.Context, sourceID string) (*core.LiveView, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin live view read: %w", err)
	}
	defer tx.Rollback()

	var sourceName string
	var cursor int64
	err = tx.QueryRowContext(ctx,
		`SELECT name, sync_version FROM sources WHERE id = ?`, sourceID,
	).Scan(&sourceName, &cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source not found: %s", sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read source cursor: %w", err)
	}

	tree := &core.Snapshot{Source: sourceName}

	databases, dbByID, err := liveDatabases(ctx, tx, sourceID)
	if err != nil {
		return nil, err
	}
	tree.Databases = databases

	schemaByID, err := liveSchemata(ctx, tx, sourceID, dbByID)
	if err != nil {
		return nil, err
	}

	tableByID, err := liveTables(ctx, tx, sourceID, schemaByID)
	if err != nil {
		return nil, err
	}

	if err := liveColumns(ctx, tx, sourceID, tableByID); err != nil {
		return nil, err
	}
	if err := liveForeignKeys(ctx, tx, sourceID, tableByID); err != nil {
		return nil, err
	}

	return &core.LiveView{SourceID: sourceID, Cursor: cursor, Tree: tree}, nil
}

func liveDatabases(ctx context.Context, tx *sql.Tx, sourceID string) ([]*core.Database, map[string]*core.Database, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, name, source_key FROM databases WHERE source_id = ? AND retired_at IS NULL ORDER BY name`,
		sourceID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query live databases: %w", err)
	}
	defer rows.Close()

	var databases []*core.Database
	byID := make(map[string]*core.Database)
	for rows.Next() {
		db := &core.Database{}
		var sourceKey sql.NullString
		if err := rows.Scan(&db.ID, &db.Name, &sourceKey); err != nil {
			return nil, nil, fmt.Errorf("failed to scan database: %w", err)
		}
		db.SourceKey = sourceKey.String
		databases = append(databases, db)
		byID[db.ID] = db
	}
	return databases, byID, rows.Err()
}

func liveSchemata(ctx context.Context, tx *sql.Tx, sourceID string, dbByID map[string]*core.Database) (map[string]*core.Schema, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, database_id, name, source_key FROM schemata WHERE source_id = ? AND retired_at IS NULL ORDER BY name`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query live schemata: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*core.Schema)
	for rows.Next() {
		sch := &core.Schema{}
		var databaseID string
		var sourceKey sql.NullString
		if err := rows.Scan(&sch.ID, &databaseID, &sch.Name, &sourceKey); err != nil {
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}
		sch.SourceKey = sourceKey.String

		parent, ok := dbByID[databaseID]
		if !ok {
			// A live schema under a missing or retired database breaks the
			// no-orphan invariant; surface loudly.
			return nil, &core.InvariantViolationError{
				Reason: fmt.Sprintf("live schema %s has no live database parent", sch.ID),
			}
		}
		parent.Schemas = append(parent.Schemas, sch)
		byID[sch.ID] = sch
	}
	return byID, rows.Err()
}

func liveTables(ctx context.Context, tx *sql.Tx, sourceID string, schemaByID map[string]*core.Schema) (map[string]*core.Table, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, schema_id, name, kind, source_key FROM tables WHERE source_id = ? AND retired_at IS NULL ORDER BY name`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query live tables: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*core.Table)
	for rows.Next() {
		tbl := &core.Table{}
		var schemaID string
		var kind string
		var sourceKey sql.NullString
		if err := rows.Scan(&tbl.ID, &schemaID, &tbl.Name, &kind, &sourceKey); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tbl.Kind = core.TableKind(kind)
		tbl.SourceKey = sourceKey.String

		parent, ok := schemaByID[schemaID]
		if !ok {
			return nil, &core.InvariantViolationError{
				Reason: fmt.Sprintf("live table %s has no live schema parent", tbl.ID),
			}
		}
		parent.Tables = append(parent.Tables, tbl)
		byID[tbl.ID] = tbl
	}
	return byID, rows.Err()
}

func liveColumns(ctx context.Context, tx *sql.Tx, sourceID string, tableByID map[string]*core.Table) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, table_id, name, ordinal, type_name, nullable, precision, scale, primary_key, source_key
		 FROM columns WHERE source_id = ? AND retired_at IS NULL ORDER BY ordinal`,
		sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to query live columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		col := &core.Column{}
		var tableID string
		var nullable, primaryKey int64
		var sourceKey sql.NullString
		if err := rows.Scan(&col.ID, &tableID, &col.Name, &col.Ordinal,
			&col.Type.Name, &nullable, &col.Type.Precision, &col.Type.Scale, &primaryKey, &sourceKey); err != nil {
			return fmt.Errorf("failed to scan column: %w", err)
		}
		col.Type.Nullable = nullable != 0
		col.PrimaryKey = primaryKey != 0
		col.SourceKey = sourceKey.String

		parent, ok := tableByID[tableID]
		if !ok {
			return &core.InvariantViolationError{
				Reason: fmt.Sprintf("live column %s has no live table parent", col.ID),
			}
		}
		parent.Columns = append(parent.Columns, col)
	}
	return rows.Err()
}

func liveForeignKeys(ctx context.Context, tx *sql.Tx, sourceID string, tableByID map[string]*core.Table) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, table_id, name, from_column, to_schema, to_table, to_column
		 FROM foreign_keys WHERE source_id = ? AND retired_at IS NULL ORDER BY name`,
		sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to query live foreign keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		fk := &core.ForeignKey{}
		var tableID string
		if err := rows.Scan(&fk.ID, &tableID, &fk.Name, &fk.FromColumn, &fk.ToSchema, &fk.ToTable, &fk.ToColumn); err != nil {
			return fmt.Errorf("failed to scan foreign key: %w", err)
		}

		parent, ok := tableByID[tableID]
		if !ok {
			return &core.InvariantViolationError{
				Reason: fmt.Sprintf("live foreign key %s has no live table parent", fk.ID),
			}
		}
		parent.ForeignKeys = append(parent.ForeignKeys, fk)
	}
	return rows.Err()
}
