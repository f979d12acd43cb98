package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// ApplyChangeSet applies one change-set in a single transaction: creates new
// entities, advances last-seen on matched entities, records attribute drift,
// and retires entities absent from the latest pull, cascading retirement to
// all live descendants. Either every instruction commits or none do.
//
// Concurrent appliers for the same source are serialized by the sync cursor:
// the cursor is bumped with a compare-and-set against the value read with the
// change-set's live view, and a lost race returns *core.ApplyConflictError so
// the caller can retry the whole cycle.
func (s *SQLiteStore) ApplyChangeSet(ctx context.Context, sourceID string, cs *core.ChangeSet) (*core.ApplySummary, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if cs == nil {
		return nil, &core.InvariantViolationError{Reason: "nil change-set"}
	}
	if err := validateChangeSet(cs); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin apply transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if err := s.bumpCursor(ctx, tx, sourceID, cs.Cursor, now); err != nil {
		return nil, err
	}

	summary := &core.ApplySummary{}

	for i := range cs.Creates {
		if err := applyCreate(ctx, tx, sourceID, &cs.Creates[i], now); err != nil {
			return nil, err
		}
		summary.Created++
	}

	for _, touch := range cs.Touches {
		if err := applyTouch(ctx, tx, touch, now); err != nil {
			return nil, err
		}
		summary.Touched++
	}

	for i := range cs.Updates {
		if err := applyUpdate(ctx, tx, &cs.Updates[i], now); err != nil {
			return nil, err
		}
		summary.Updated++
	}

	for i := range cs.Retires {
		n, err := applyRetire(ctx, tx, &cs.Retires[i], now)
		if err != nil {
			return nil, err
		}
		summary.Retired += n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit change-set: %w", err)
	}

	s.logger.Debug("change-set applied",
		"source_id", sourceID,
		"created", summary.Created,
		"touched", summary.Touched,
		"updated", summary.Updated,
		"retired", summary.Retired,
	)
	return summary, nil
}

// bumpCursor performs the optimistic version check: exactly one applier per
// source may advance the cursor from the value its live view carried.
func (s *SQLiteStore) bumpCursor(ctx context.Context, tx *sql.Tx, sourceID string, cursor int64, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE sources SET sync_version = sync_version + 1, updated_at = ? WHERE id = ? AND sync_version = ?`,
		now, sourceID, cursor,
	)
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}

	var name string
	err = tx.QueryRowContext(ctx, `SELECT name FROM sources WHERE id = ?`, sourceID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("source not found: %s", sourceID)
	}
	if err != nil {
		return fmt.Errorf("failed to check source: %w", err)
	}
	return &core.ApplyConflictError{Source: name, Cursor: cursor}
}

// validateChangeSet rejects structurally invalid change-sets before touching
// the database. A failure here is a defect in the diff engine, not bad input.
func validateChangeSet(cs *core.ChangeSet) error {
	for i := range cs.Creates {
		c := &cs.Creates[i]
		if c.ID == "" || c.Name == "" {
			return &core.InvariantViolationError{
				Reason: fmt.Sprintf("create at %s with empty identity or name", c.Path),
			}
		}
		switch c.Kind {
		case core.KindDatabase:
			if c.ParentID != "" {
				return &core.InvariantViolationError{
					Reason: fmt.Sprintf("database create at %s carries a parent", c.Path),
				}
			}
		case core.KindSchema, core.KindTable, core.KindColumn, core.KindForeignKey:
			if c.ParentID == "" {
				return &core.InvariantViolationError{
					Reason: fmt.Sprintf("%s create at %s has no parent", c.Kind, c.Path),
				}
			}
		default:
			return &core.InvariantViolationError{
				Reason: fmt.Sprintf("create at %s with unknown kind %q", c.Path, c.Kind),
			}
		}
	}
	return nil
}

func applyCreate(ctx context.Context, tx *sql.Tx, sourceID string, c *core.Create, now time.Time) error {
	var err error
	switch c.Kind {
	case core.KindDatabase:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO databases (id, source_id, name, source_key, first_seen, last_seen) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, sourceID, c.Name, nullableString(c.SourceKey), now, now,
		)
	case core.KindSchema:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schemata (id, database_id, source_id, name, source_key, first_seen, last_seen) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ParentID, sourceID, c.Name, nullableString(c.SourceKey), now, now,
		)
	case core.KindTable:
		kind := c.TableKind
		if kind == "" {
			kind = core.TableKindTable
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tables (id, schema_id, source_id, name, kind, source_key, first_seen, last_seen) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ParentID, sourceID, c.Name, string(kind), nullableString(c.SourceKey), now, now,
		)
	case core.KindColumn:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO columns (id, table_id, source_id, name, ordinal, type_name, nullable, precision, scale, primary_key, source_key, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ParentID, sourceID, c.Name, c.Ordinal, c.Type.Name, boolToInt(c.Type.Nullable),
			c.Type.Precision, c.Type.Scale, boolToInt(c.PrimaryKey), nullableString(c.SourceKey), now, now,
		)
	case core.KindForeignKey:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO foreign_keys (id, table_id, source_id, name, from_column, to_schema, to_table, to_column, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ParentID, sourceID, c.Name, c.FromColumn, c.ToSchema, c.ToTable, c.ToColumn, now, now,
		)
	}
	if err != nil {
		// A constraint failure here means the change-set disagrees with the
		// committed state, which the cursor check should have prevented.
		return &core.InvariantViolationError{
			Reason: fmt.Sprintf("create %s at %s failed: %v", c.Kind, c.Path, err),
		}
	}
	return nil
}

func applyTouch(ctx context.Context, tx *sql.Tx, touch core.Touch, now time.Time) error {
	table, ok := entityTable(touch.Kind)
	if !ok {
		return &core.InvariantViolationError{Reason: fmt.Sprintf("touch with unknown kind %q", touch.Kind)}
	}

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET last_seen = ? WHERE id = ? AND retired_at IS NULL`, table),
		now, touch.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch %s %s: %w", touch.Kind, touch.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.InvariantViolationError{
			Reason: fmt.Sprintf("touched %s %s is not live", touch.Kind, touch.ID),
		}
	}
	return nil
}

func applyUpdate(ctx context.Context, tx *sql.Tx, u *core.Update, now time.Time) error {
	var res sql.Result
	var err error
	switch u.Kind {
	case core.KindDatabase:
		res, err = tx.ExecContext(ctx,
			`UPDATE databases SET name = ?, last_seen = ? WHERE id = ? AND retired_at IS NULL`,
			u.Name, now, u.ID,
		)
	case core.KindSchema:
		res, err = tx.ExecContext(ctx,
			`UPDATE schemata SET name = ?, last_seen = ? WHERE id = ? AND retired_at IS NULL`,
			u.Name, now, u.ID,
		)
	case core.KindTable:
		res, err = tx.ExecContext(ctx,
			`UPDATE tables SET name = ?, kind = ?, last_seen = ? WHERE id = ? AND retired_at IS NULL`,
			u.Name, string(u.TableKind), now, u.ID,
		)
	case core.KindColumn:
		res, err = tx.ExecContext(ctx,
			`UPDATE columns SET name = ?, ordinal = ?, type_name = ?, nullable = ?, precision = ?, scale = ?, primary_key = ?, last_seen = ?
			 WHERE id = ? AND retired_at IS NULL`,
			u.Name, u.Ordinal, u.Type.Name, boolToInt(u.Type.Nullable), u.Type.Precision, u.Type.Scale, boolToInt(u.PrimaryKey), now, u.ID,
		)
	default:
		return &core.InvariantViolationError{Reason: fmt.Sprintf("update with unsupported kind %q", u.Kind)}
	}
	if err != nil {
		return fmt.Errorf("failed to update %s at %s: %w", u.Kind, u.Path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.InvariantViolationError{
			Reason: fmt.Sprintf("updated %s at %s is not live", u.Kind, u.Path),
		}
	}
	return nil
}

// applyRetire sets retired_at on the named entity and cascades to every live
// descendant in the same transaction, so no live entity is left orphaned.
// Returns the number of rows retired, cascade included.
func applyRetire(ctx context.Context, tx *sql.Tx, r *core.Retire, now time.Time) (int, error) {
	table, ok := entityTable(r.Kind)
	if !ok {
		return 0, &core.InvariantViolationError{Reason: fmt.Sprintf("retire with unknown kind %q", r.Kind)}
	}

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET retired_at = ? WHERE id = ? AND retired_at IS NULL`, table),
		now, r.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to retire %s at %s: %w", r.Kind, r.Path, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, &core.InvariantViolationError{
			Reason: fmt.Sprintf("retired %s at %s is not live", r.Kind, r.Path),
		}
	}

	retired := int(n)
	cascaded, err := cascadeRetire(ctx, tx, r.Kind, r.ID, now)
	if err != nil {
		return 0, err
	}
	return retired + cascaded, nil
}

// cascadeRetire retires all live descendants of an entity, top down.
func cascadeRetire(ctx context.Context, tx *sql.Tx, kind core.EntityKind, id string, now time.Time) (int, error) {
	var stmts []string
	switch kind {
	case core.KindDatabase:
		stmts = []string{
			`UPDATE schemata SET retired_at = ? WHERE database_id = ? AND retired_at IS NULL`,
			`UPDATE tables SET retired_at = ? WHERE retired_at IS NULL AND schema_id IN
			   (SELECT id FROM schemata WHERE database_id = ?)`,
			`UPDATE columns SET retired_at = ? WHERE retired_at IS NULL AND table_id IN
			   (SELECT id FROM tables WHERE schema_id IN (SELECT id FROM schemata WHERE database_id = ?))`,
			`UPDATE foreign_keys SET retired_at = ? WHERE retired_at IS NULL AND table_id IN
			   (SELECT id FROM tables WHERE schema_id IN (SELECT id FROM schemata WHERE database_id = ?))`,
		}
	case core.KindSchema:
		stmts = []string{
			`UPDATE tables SET retired_at = ? WHERE schema_id = ? AND retired_at IS NULL`,
			`UPDATE columns SET retired_at = ? WHERE retired_at IS NULL AND table_id IN
			   (SELECT id FROM tables WHERE schema_id = ?)`,
			`UPDATE foreign_keys SET retired_at = ? WHERE retired_at IS NULL AND table_id IN
			   (SELECT id FROM tables WHERE schema_id = ?)`,
		}
	case core.KindTable:
		stmts = []string{
			`UPDATE columns SET retired_at = ? WHERE table_id = ? AND retired_at IS NULL`,
			`UPDATE foreign_keys SET retired_at = ? WHERE table_id = ? AND retired_at IS NULL`,
		}
	case core.KindColumn, core.KindForeignKey:
		return 0, nil
	}

	total := 0
	for _, stmt := range stmts {
		res, err := tx.ExecContext(ctx, stmt, now, id)
		if err != nil {
			return 0, fmt.Errorf("failed to cascade retirement of %s %s: %w", kind, id, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// entityTable maps an entity kind to its catalog table.
func entityTable(kind core.EntityKind) (string, bool) {
	switch kind {
	case core.KindDatabase:
		return "databases", true
	case core.KindSchema:
		return "schemata", true
	case core.KindTable:
		return "tables", true
	case core.KindColumn:
		return "columns", true
	case core.KindForeignKey:
		return "foreign_keys", true
	}
	return "", false
}
