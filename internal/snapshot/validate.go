package snapshot

import (
	"fmt"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// Validate checks a candidate tree before it is handed to the diff engine.
// Names must be non-empty, sibling names unique, ordinal positions unique and
// contiguous per table, and foreign keys must reference a column of their
// owning table. Any violation rejects the whole pull; nothing is applied.
func Validate(snap *core.Snapshot) error {
	if snap == nil {
		return &core.MalformedSnapshotError{Path: "", Reason: "snapshot is nil"}
	}
	if snap.Source == "" {
		return &core.MalformedSnapshotError{Path: "", Reason: "source identifier is empty"}
	}

	dbNames := make(map[string]struct{}, len(snap.Databases))
	for _, db := range snap.Databases {
		if db.Name == "" {
			return &core.MalformedSnapshotError{Path: snap.Source, Reason: "database with empty name"}
		}
		if _, dup := dbNames[db.Name]; dup {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(snap.Source, db.Name),
				Reason: "duplicate database name",
			}
		}
		dbNames[db.Name] = struct{}{}

		if err := validateDatabase(snap.Source, db); err != nil {
			return err
		}
	}
	return nil
}

func validateDatabase(source string, db *core.Database) error {
	dbPath := core.JoinPath(source, db.Name)

	schemaNames := make(map[string]struct{}, len(db.Schemas))
	for _, sch := range db.Schemas {
		if sch.Name == "" {
			return &core.MalformedSnapshotError{Path: dbPath, Reason: "schema with empty name"}
		}
		if _, dup := schemaNames[sch.Name]; dup {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(dbPath, sch.Name),
				Reason: "duplicate schema name",
			}
		}
		schemaNames[sch.Name] = struct{}{}

		if err := validateSchema(dbPath, sch); err != nil {
			return err
		}
	}
	return nil
}

func validateSchema(dbPath string, sch *core.Schema) error {
	schemaPath := core.JoinPath(dbPath, sch.Name)

	tableNames := make(map[string]struct{}, len(sch.Tables))
	for _, tbl := range sch.Tables {
		if tbl.Name == "" {
			return &core.MalformedSnapshotError{Path: schemaPath, Reason: "table with empty name"}
		}
		if _, dup := tableNames[tbl.Name]; dup {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(schemaPath, tbl.Name),
				Reason: "duplicate table name",
			}
		}
		tableNames[tbl.Name] = struct{}{}

		if err := validateTable(schemaPath, tbl); err != nil {
			return err
		}
	}
	return nil
}

func validateTable(schemaPath string, tbl *core.Table) error {
	tablePath := core.JoinPath(schemaPath, tbl.Name)

	switch tbl.Kind {
	case core.TableKindTable, core.TableKindView, core.TableKindExternal:
	default:
		return &core.MalformedSnapshotError{
			Path:   tablePath,
			Reason: fmt.Sprintf("unknown table kind %q", tbl.Kind),
		}
	}

	columnNames := make(map[string]struct{}, len(tbl.Columns))
	ordinals := make(map[int]struct{}, len(tbl.Columns))
	for _, col := range tbl.Columns {
		if col.Name == "" {
			return &core.MalformedSnapshotError{Path: tablePath, Reason: "column with empty name"}
		}
		if _, dup := columnNames[col.Name]; dup {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(tablePath, col.Name),
				Reason: "duplicate column name",
			}
		}
		columnNames[col.Name] = struct{}{}

		if col.Ordinal < 0 || col.Ordinal >= len(tbl.Columns) {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(tablePath, col.Name),
				Reason: fmt.Sprintf("ordinal position %d out of range for %d column(s)", col.Ordinal, len(tbl.Columns)),
			}
		}
		if _, dup := ordinals[col.Ordinal]; dup {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(tablePath, col.Name),
				Reason: fmt.Sprintf("duplicate ordinal position %d", col.Ordinal),
			}
		}
		ordinals[col.Ordinal] = struct{}{}

		if col.Type.Name == "" {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(tablePath, col.Name),
				Reason: "column with empty data type",
			}
		}
	}
	// Unique + in-range ordinals over len(columns) slots imply contiguity.

	fkNames := make(map[string]struct{}, len(tbl.ForeignKeys))
	for _, fk := range tbl.ForeignKeys {
		if fk.Name == "" {
			return &core.MalformedSnapshotError{Path: tablePath, Reason: "foreign key with empty constraint name"}
		}
		if _, dup := fkNames[fk.Name]; dup {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(tablePath, fk.Name),
				Reason: "duplicate foreign key constraint name",
			}
		}
		fkNames[fk.Name] = struct{}{}

		if _, ok := columnNames[fk.FromColumn]; !ok {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(tablePath, fk.Name),
				Reason: fmt.Sprintf("foreign key references unknown column %q", fk.FromColumn),
			}
		}
		if fk.ToTable == "" || fk.ToColumn == "" {
			return &core.MalformedSnapshotError{
				Path:   core.JoinPath(tablePath, fk.Name),
				Reason: "foreign key with empty referenced table or column",
			}
		}
	}
	return nil
}
