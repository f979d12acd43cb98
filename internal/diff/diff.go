// Package diff computes the minimal change-set reconciling a candidate
// snapshot against the catalog's current live view for one source.
package diff

import (
	"fmt"

	"github.com/leapstack-labs/catsync/internal/snapshot"
	"github.com/leapstack-labs/catsync/pkg/core"
)

// Compute is a pure function: it reads the live view and candidate tree and
// emits create/touch/update/retire instructions. Matching is by stable
// identity (SourceKey) first, falling back to qualified-path match. Matched
// entities keep their live identity across attribute drift; only top-level
// absent entities are retired, the store cascades to descendants.
func Compute(live *core.LiveView, candidate *core.Snapshot) (*core.ChangeSet, error) {
	if live == nil {
		return nil, &core.InvariantViolationError{Reason: "diff called with nil live view"}
	}
	if candidate == nil {
		return nil, &core.InvariantViolationError{Reason: "diff called with nil candidate snapshot"}
	}

	b := &builder{
		source: candidate.Source,
		cs:     &core.ChangeSet{SourceID: live.SourceID, Cursor: live.Cursor},
	}

	var liveDBs []*core.Database
	if live.Tree != nil {
		liveDBs = live.Tree.Databases
	}
	if err := b.diffDatabases(liveDBs, candidate.Databases); err != nil {
		return nil, err
	}
	return b.cs, nil
}

type builder struct {
	source string
	cs     *core.ChangeSet
}

// assign pairs candidates with live siblings injectively: every live row is
// claimed by at most one candidate. Source-key matches claim their rows in a
// first pass; name matches then claim only unclaimed rows. A candidate whose
// name points at a row already claimed through its source key is a new
// entity, not a match.
func assign[T any](live, cand []*T, key, name func(*T) string) map[int]*T {
	byKey := make(map[string]int)
	byName := make(map[string]int, len(live))
	for i, l := range live {
		if k := key(l); k != "" {
			byKey[k] = i
		}
		byName[name(l)] = i
	}

	out := make(map[int]*T, len(cand))
	claimed := make(map[int]bool, len(live))
	for i, c := range cand {
		if k := key(c); k != "" {
			if j, ok := byKey[k]; ok {
				out[i] = live[j]
				claimed[j] = true
			}
		}
	}
	for i, c := range cand {
		if _, done := out[i]; done {
			continue
		}
		if j, ok := byName[name(c)]; ok && !claimed[j] {
			out[i] = live[j]
			claimed[j] = true
		}
	}
	return out
}

func (b *builder) diffDatabases(live, cand []*core.Database) error {
	for _, db := range live {
		if db.ID == "" {
			return &core.InvariantViolationError{Reason: fmt.Sprintf("live database %q has no identity", db.Name)}
		}
	}
	assigned := assign(live, cand,
		func(db *core.Database) string { return db.SourceKey },
		func(db *core.Database) string { return db.Name })

	matched := make(map[string]bool, len(live))
	for i, c := range cand {
		path := core.JoinPath(b.source, c.Name)
		if l, ok := assigned[i]; ok {
			matched[l.ID] = true
			b.cs.Touches = append(b.cs.Touches, core.Touch{Kind: core.KindDatabase, ID: l.ID})
			if c.Name != l.Name {
				b.cs.Updates = append(b.cs.Updates, core.Update{
					Kind: core.KindDatabase, ID: l.ID, Path: path, Name: c.Name,
				})
			}
			if err := b.diffSchemas(l.ID, path, l.Schemas, c.Schemas); err != nil {
				return err
			}
			continue
		}
		b.createDatabase(c, path)
	}

	for _, l := range live {
		if !matched[l.ID] {
			b.cs.Retires = append(b.cs.Retires, core.Retire{
				Kind: core.KindDatabase, ID: l.ID, Path: core.JoinPath(b.source, l.Name),
			})
		}
	}
	return nil
}

func (b *builder) diffSchemas(parentID, parentPath string, live, cand []*core.Schema) error {
	for _, sch := range live {
		if sch.ID == "" {
			return &core.InvariantViolationError{Reason: fmt.Sprintf("live schema %q has no identity", sch.Name)}
		}
	}
	assigned := assign(live, cand,
		func(sch *core.Schema) string { return sch.SourceKey },
		func(sch *core.Schema) string { return sch.Name })

	matched := make(map[string]bool, len(live))
	for i, c := range cand {
		path := core.JoinPath(parentPath, c.Name)
		if l, ok := assigned[i]; ok {
			matched[l.ID] = true
			b.cs.Touches = append(b.cs.Touches, core.Touch{Kind: core.KindSchema, ID: l.ID})
			if c.Name != l.Name {
				b.cs.Updates = append(b.cs.Updates, core.Update{
					Kind: core.KindSchema, ID: l.ID, Path: path, Name: c.Name,
				})
			}
			if err := b.diffTables(l.ID, path, l.Tables, c.Tables); err != nil {
				return err
			}
			continue
		}
		b.createSchema(parentID, c, path)
	}

	for _, l := range live {
		if !matched[l.ID] {
			b.cs.Retires = append(b.cs.Retires, core.Retire{
				Kind: core.KindSchema, ID: l.ID, Path: core.JoinPath(parentPath, l.Name),
			})
		}
	}
	return nil
}

func (b *builder) diffTables(parentID, parentPath string, live, cand []*core.Table) error {
	for _, tbl := range live {
		if tbl.ID == "" {
			return &core.InvariantViolationError{Reason: fmt.Sprintf("live table %q has no identity", tbl.Name)}
		}
	}
	assigned := assign(live, cand,
		func(tbl *core.Table) string { return tbl.SourceKey },
		func(tbl *core.Table) string { return tbl.Name })

	matched := make(map[string]bool, len(live))
	for i, c := range cand {
		path := core.JoinPath(parentPath, c.Name)
		if l, ok := assigned[i]; ok {
			matched[l.ID] = true
			b.cs.Touches = append(b.cs.Touches, core.Touch{Kind: core.KindTable, ID: l.ID})
			if c.Kind != l.Kind || c.Name != l.Name {
				b.cs.Updates = append(b.cs.Updates, core.Update{
					Kind: core.KindTable, ID: l.ID, Path: path, Name: c.Name, TableKind: c.Kind,
				})
			}
			if err := b.diffColumns(l.ID, path, l.Columns, c.Columns); err != nil {
				return err
			}
			b.diffForeignKeys(l.ID, path, l.ForeignKeys, c.ForeignKeys)
			continue
		}
		b.createTable(parentID, c, path)
	}

	for _, l := range live {
		if !matched[l.ID] {
			b.cs.Retires = append(b.cs.Retires, core.Retire{
				Kind: core.KindTable, ID: l.ID, Path: core.JoinPath(parentPath, l.Name),
			})
		}
	}
	return nil
}

func (b *builder) diffColumns(parentID, parentPath string, live, cand []*core.Column) error {
	for _, col := range live {
		if col.ID == "" {
			return &core.InvariantViolationError{Reason: fmt.Sprintf("live column %q has no identity", col.Name)}
		}
	}
	assigned := assign(live, cand,
		func(col *core.Column) string { return col.SourceKey },
		func(col *core.Column) string { return col.Name })

	matched := make(map[string]bool, len(live))
	for i, c := range cand {
		path := core.JoinPath(parentPath, c.Name)
		if l, ok := assigned[i]; ok {
			matched[l.ID] = true
			b.cs.Touches = append(b.cs.Touches, core.Touch{Kind: core.KindColumn, ID: l.ID})
			// Attribute drift keeps identity: record an update alongside the
			// touch, never a retire+create pair.
			if !c.Type.Equal(l.Type) || c.PrimaryKey != l.PrimaryKey || c.Ordinal != l.Ordinal || c.Name != l.Name {
				b.cs.Updates = append(b.cs.Updates, core.Update{
					Kind: core.KindColumn, ID: l.ID, Path: path, Name: c.Name,
					Ordinal: c.Ordinal, Type: c.Type, PrimaryKey: c.PrimaryKey,
				})
			}
			continue
		}
		b.createColumn(parentID, c, path)
	}

	for _, l := range live {
		if !matched[l.ID] {
			b.cs.Retires = append(b.cs.Retires, core.Retire{
				Kind: core.KindColumn, ID: l.ID, Path: core.JoinPath(parentPath, l.Name),
			})
		}
	}
	return nil
}

// diffForeignKeys matches referential edges by constraint name within the
// owning table. An edge whose target moved is replaced, not updated.
func (b *builder) diffForeignKeys(tableID, tablePath string, live, cand []*core.ForeignKey) {
	byName := make(map[string]*core.ForeignKey, len(live))
	for _, fk := range live {
		byName[fk.Name] = fk
	}

	matched := make(map[string]bool, len(live))
	for _, c := range cand {
		path := core.JoinPath(tablePath, c.Name)
		if l, ok := byName[c.Name]; ok && l.FromColumn == c.FromColumn &&
			l.ToSchema == c.ToSchema && l.ToTable == c.ToTable && l.ToColumn == c.ToColumn {
			matched[l.ID] = true
			b.cs.Touches = append(b.cs.Touches, core.Touch{Kind: core.KindForeignKey, ID: l.ID})
			continue
		}
		b.createForeignKey(tableID, c, path)
	}

	for _, l := range live {
		if !matched[l.ID] {
			b.cs.Retires = append(b.cs.Retires, core.Retire{
				Kind: core.KindForeignKey, ID: l.ID, Path: core.JoinPath(tablePath, l.Name),
			})
		}
	}
}

func (b *builder) createDatabase(db *core.Database, path string) {
	id := snapshot.NewEntityID()
	b.cs.Creates = append(b.cs.Creates, core.Create{
		Kind: core.KindDatabase, ID: id, SourceKey: db.SourceKey, Name: db.Name, Path: path,
	})
	for _, sch := range db.Schemas {
		b.createSchema(id, sch, core.JoinPath(path, sch.Name))
	}
}

func (b *builder) createSchema(parentID string, sch *core.Schema, path string) {
	id := snapshot.NewEntityID()
	b.cs.Creates = append(b.cs.Creates, core.Create{
		Kind: core.KindSchema, ID: id, ParentID: parentID, SourceKey: sch.SourceKey, Name: sch.Name, Path: path,
	})
	for _, tbl := range sch.Tables {
		b.createTable(id, tbl, core.JoinPath(path, tbl.Name))
	}
}

func (b *builder) createTable(parentID string, tbl *core.Table, path string) {
	id := snapshot.NewEntityID()
	b.cs.Creates = append(b.cs.Creates, core.Create{
		Kind: core.KindTable, ID: id, ParentID: parentID, SourceKey: tbl.SourceKey,
		Name: tbl.Name, Path: path, TableKind: tbl.Kind,
	})
	for _, col := range tbl.Columns {
		b.createColumn(id, col, core.JoinPath(path, col.Name))
	}
	for _, fk := range tbl.ForeignKeys {
		b.createForeignKey(id, fk, core.JoinPath(path, fk.Name))
	}
}

func (b *builder) createColumn(parentID string, col *core.Column, path string) {
	id := snapshot.NewEntityID()
	b.cs.Creates = append(b.cs.Creates, core.Create{
		Kind: core.KindColumn, ID: id, ParentID: parentID, SourceKey: col.SourceKey,
		Name: col.Name, Path: path, Ordinal: col.Ordinal, Type: col.Type, PrimaryKey: col.PrimaryKey,
	})
}

func (b *builder) createForeignKey(tableID string, fk *core.ForeignKey, path string) {
	id := snapshot.NewEntityID()
	b.cs.Creates = append(b.cs.Creates, core.Create{
		Kind: core.KindForeignKey, ID: id, ParentID: tableID, Name: fk.Name, Path: path,
		FromColumn: fk.FromColumn, ToSchema: fk.ToSchema, ToTable: fk.ToTable, ToColumn: fk.ToColumn,
	})
}
