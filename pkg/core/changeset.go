package core

// LiveView is the live (non-retired) subset of the catalog for one source,
// materialized in candidate shape for comparison by the diff engine.
// Cursor is the source's sync version at read time; ApplyChangeSet verifies
// it has not moved before committing.
type LiveView struct {
	SourceID string
	Cursor   int64
	Tree     *Snapshot
}

// Create instructs the store to insert one new entity. Creates are ordered
// parent before child, so an entity's ParentID refers either to a live row
// or to an earlier Create in the same change-set.
type Create struct {
	Kind      EntityKind
	ID        string
	ParentID  string
	SourceKey string
	Name      string
	// Path is the qualified path, kept for error reporting.
	Path string

	// Table attributes.
	TableKind TableKind

	// Column attributes.
	Ordinal    int
	Type       TypeDesc
	PrimaryKey bool

	// Foreign-key edge attributes. ParentID is the owning table.
	FromColumn string
	ToSchema   string
	ToTable    string
	ToColumn   string
}

// Touch advances last-seen on a matched live entity.
type Touch struct {
	Kind EntityKind
	ID   string
}

// Update records attribute drift on a matched live entity. Identity is
// preserved; the entity is never retired and recreated for this.
type Update struct {
	Kind EntityKind
	ID   string
	Path string

	// Name carries renames detected via source-key matching.
	Name string

	// New table kind, for Kind == KindTable.
	TableKind TableKind

	// New column attributes, for Kind == KindColumn.
	Ordinal    int
	Type       TypeDesc
	PrimaryKey bool
}

// Retire marks a live entity absent from the latest pull. Only top-level
// absent entities are listed; the store cascades retirement to descendants.
type Retire struct {
	Kind EntityKind
	ID   string
	Path string
}

// ChangeSet is the minimal set of instructions reconciling a candidate
// snapshot against the live view of one source.
type ChangeSet struct {
	SourceID string
	Cursor   int64
	Creates  []Create
	Touches  []Touch
	Updates  []Update
	Retires  []Retire
}

// Empty reports whether the change-set carries no instructions at all.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Creates) == 0 && len(cs.Touches) == 0 &&
		len(cs.Updates) == 0 && len(cs.Retires) == 0
}

// ApplySummary counts the rows an apply committed. Retired includes rows
// retired by cascade.
type ApplySummary struct {
	Created int
	Touched int
	Updated int
	Retired int
}
