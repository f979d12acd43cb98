package core

import (
	"fmt"
	"strings"
)

// EntityKind identifies the level of an entity in the catalog tree.
type EntityKind string

const (
	KindDatabase   EntityKind = "database"
	KindSchema     EntityKind = "schema"
	KindTable      EntityKind = "table"
	KindColumn     EntityKind = "column"
	KindForeignKey EntityKind = "foreign_key"
)

// TableKind distinguishes tables, views and external tables.
type TableKind string

const (
	TableKindTable    TableKind = "table"
	TableKindView     TableKind = "view"
	TableKindExternal TableKind = "external"
)

// TypeDesc describes a column's data type as reported by a source.
// Precision and Scale are zero when the type does not carry them.
type TypeDesc struct {
	Name      string
	Nullable  bool
	Precision int
	Scale     int
}

// Equal reports whether two type descriptors are identical.
func (t TypeDesc) Equal(o TypeDesc) bool {
	return t.Name == o.Name && t.Nullable == o.Nullable &&
		t.Precision == o.Precision && t.Scale == o.Scale
}

// String renders the descriptor in a display form, e.g. "numeric(10,2) not null".
func (t TypeDesc) String() string {
	s := t.Name
	if t.Precision > 0 && t.Scale > 0 {
		s = fmt.Sprintf("%s(%d,%d)", t.Name, t.Precision, t.Scale)
	} else if t.Precision > 0 {
		s = fmt.Sprintf("%s(%d)", t.Name, t.Precision)
	}
	if !t.Nullable {
		s += " not null"
	}
	return s
}

// Snapshot is one normalized metadata tree for one source, captured at one
// point in time. Connectors produce candidate snapshots (entity IDs empty);
// the store materializes live snapshots (entity IDs set).
type Snapshot struct {
	Source    string
	Databases []*Database
}

// Database is the top of the ownership chain for one source.
type Database struct {
	// ID is the catalog identity. Empty on candidate trees.
	ID string
	// SourceKey is a dialect-provided stable identifier, when the source
	// has one. Used for identity matching before the qualified-path fallback.
	SourceKey string
	Name      string
	Schemas   []*Schema
}

// Schema belongs to exactly one Database.
type Schema struct {
	ID        string
	SourceKey string
	Name      string
	Tables    []*Table
}

// Table belongs to exactly one Schema.
type Table struct {
	ID          string
	SourceKey   string
	Name        string
	Kind        TableKind
	Columns     []*Column
	ForeignKeys []*ForeignKey
}

// Column belongs to exactly one Table. Ordinal positions are zero-based and
// contiguous within a table.
type Column struct {
	ID         string
	SourceKey  string
	Name       string
	Ordinal    int
	Type       TypeDesc
	PrimaryKey bool
}

// ForeignKey is a referential edge from a column of its owning table to a
// column of another table in the same source. It is never an ownership edge.
type ForeignKey struct {
	ID string
	// Name is the constraint name, unique within the owning table.
	Name       string
	FromColumn string
	ToSchema   string
	ToTable    string
	ToColumn   string
}

// JoinPath builds a dotted qualified path from name segments.
func JoinPath(parts ...string) string {
	return strings.Join(parts, ".")
}
