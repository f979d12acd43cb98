package snapshot

import (
	"errors"
	"strings"
	"testing"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// validSnapshot builds a small well-formed candidate tree that each test
// case mutates into a specific violation.
func validSnapshot() *core.Snapshot {
	return &core.Snapshot{
		Source: "warehouse1",
		Databases: []*core.Database{{
			Name: "shop",
			Schemas: []*core.Schema{{
				Name: "public",
				Tables: []*core.Table{
					{
						Name: "orders",
						Kind: core.TableKindTable,
						Columns: []*core.Column{
							{Name: "id", Ordinal: 0, Type: core.TypeDesc{Name: "integer"}, PrimaryKey: true},
							{Name: "customer_id", Ordinal: 1, Type: core.TypeDesc{Name: "integer", Nullable: true}},
							{Name: "total", Ordinal: 2, Type: core.TypeDesc{Name: "numeric", Precision: 10, Scale: 2}},
						},
						ForeignKeys: []*core.ForeignKey{{
							Name: "orders_customer_fk", FromColumn: "customer_id",
							ToSchema: "public", ToTable: "customers", ToColumn: "id",
						}},
					},
					{
						Name: "customers",
						Kind: core.TableKindTable,
						Columns: []*core.Column{
							{Name: "id", Ordinal: 0, Type: core.TypeDesc{Name: "integer"}, PrimaryKey: true},
						},
					},
				},
			}},
		}},
	}
}

func TestValidateAcceptsWellFormedTree(t *testing.T) {
	if err := Validate(validSnapshot()); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(s *core.Snapshot)
		wantReason string
	}{
		{
			name:       "empty source",
			mutate:     func(s *core.Snapshot) { s.Source = "" },
			wantReason: "source identifier is empty",
		},
		{
			name:       "empty database name",
			mutate:     func(s *core.Snapshot) { s.Databases[0].Name = "" },
			wantReason: "database with empty name",
		},
		{
			name: "duplicate schema name",
			mutate: func(s *core.Snapshot) {
				db := s.Databases[0]
				db.Schemas = append(db.Schemas, &core.Schema{Name: "public"})
			},
			wantReason: "duplicate schema name",
		},
		{
			name: "duplicate table name",
			mutate: func(s *core.Snapshot) {
				sch := s.Databases[0].Schemas[0]
				sch.Tables = append(sch.Tables, &core.Table{Name: "orders", Kind: core.TableKindTable})
			},
			wantReason: "duplicate table name",
		},
		{
			name: "unknown table kind",
			mutate: func(s *core.Snapshot) {
				s.Databases[0].Schemas[0].Tables[0].Kind = "materialized"
			},
			wantReason: "unknown table kind",
		},
		{
			name: "duplicate column name",
			mutate: func(s *core.Snapshot) {
				s.Databases[0].Schemas[0].Tables[0].Columns[1].Name = "id"
			},
			wantReason: "duplicate column name",
		},
		{
			name: "ordinal gap",
			mutate: func(s *core.Snapshot) {
				s.Databases[0].Schemas[0].Tables[0].Columns[2].Ordinal = 5
			},
			wantReason: "out of range",
		},
		{
			name: "duplicate ordinal",
			mutate: func(s *core.Snapshot) {
				s.Databases[0].Schemas[0].Tables[0].Columns[2].Ordinal = 1
			},
			wantReason: "duplicate ordinal position",
		},
		{
			name: "empty column type",
			mutate: func(s *core.Snapshot) {
				s.Databases[0].Schemas[0].Tables[0].Columns[0].Type.Name = ""
			},
			wantReason: "empty data type",
		},
		{
			name: "foreign key from unknown column",
			mutate: func(s *core.Snapshot) {
				s.Databases[0].Schemas[0].Tables[0].ForeignKeys[0].FromColumn = "nope"
			},
			wantReason: "unknown column",
		},
		{
			name: "foreign key without target",
			mutate: func(s *core.Snapshot) {
				s.Databases[0].Schemas[0].Tables[0].ForeignKeys[0].ToColumn = ""
			},
			wantReason: "empty referenced table or column",
		},
		{
			name: "duplicate foreign key name",
			mutate: func(s *core.Snapshot) {
				tbl := s.Databases[0].Schemas[0].Tables[0]
				tbl.ForeignKeys = append(tbl.ForeignKeys, &core.ForeignKey{
					Name: "orders_customer_fk", FromColumn: "id",
					ToSchema: "public", ToTable: "customers", ToColumn: "id",
				})
			},
			wantReason: "duplicate foreign key constraint name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := validSnapshot()
			tt.mutate(snap)

			err := Validate(snap)
			if err == nil {
				t.Fatal("Validate() = nil, want malformed snapshot error")
			}

			var malformed *core.MalformedSnapshotError
			if !errors.As(err, &malformed) {
				t.Fatalf("Validate() = %T, want *core.MalformedSnapshotError", err)
			}
			if !strings.Contains(malformed.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want it to contain %q", malformed.Reason, tt.wantReason)
			}
			if core.KindOf(err) != core.ErrKindMalformedSnapshot {
				t.Errorf("KindOf() = %q, want %q", core.KindOf(err), core.ErrKindMalformedSnapshot)
			}
		})
	}
}

func TestNewEntityIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewEntityID()
		if id == "" {
			t.Fatal("NewEntityID() returned empty string")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("NewEntityID() returned duplicate %s", id)
		}
		seen[id] = struct{}{}
	}
}
