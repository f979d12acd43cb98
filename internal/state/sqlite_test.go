package state

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/leapstack-labs/catsync/internal/testutil"
	"github.com/leapstack-labs/catsync/pkg/core"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store := NewSQLiteStore(nil)
	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store := setupTestStore(t)

	tables := []string{"sources", "databases", "schemata", "tables", "columns", "foreign_keys", "sync_runs"}
	for _, table := range tables {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		if err != nil {
			t.Errorf("table %s does not exist: %v", table, err)
		} else {
			rows.Close()
		}
	}

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("failed to read migration version: %v", err)
	}
	if version < 1 {
		t.Errorf("migration version = %d, want >= 1", version)
	}
}

func TestSQLiteStore_EnsureSource(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	src, err := store.EnsureSource(ctx, "warehouse1", "postgres")
	if err != nil {
		t.Fatalf("failed to ensure source: %v", err)
	}
	if src.ID == "" || src.SyncVersion != 0 {
		t.Errorf("new source = %+v, want non-empty ID and cursor 0", src)
	}

	// Ensuring again returns the same row.
	again, err := store.EnsureSource(ctx, "warehouse1", "postgres")
	if err != nil {
		t.Fatalf("failed to re-ensure source: %v", err)
	}
	if again.ID != src.ID {
		t.Errorf("re-ensure minted a new ID: %s != %s", again.ID, src.ID)
	}

	// A changed dialect is persisted without changing identity.
	moved, err := store.EnsureSource(ctx, "warehouse1", "redshift")
	if err != nil {
		t.Fatalf("failed to update dialect: %v", err)
	}
	if moved.ID != src.ID || moved.Dialect != "redshift" {
		t.Errorf("dialect update = %+v, want same ID with dialect redshift", moved)
	}

	got, err := store.GetSource(ctx, "warehouse1")
	if err != nil || got == nil {
		t.Fatalf("GetSource() = %v, %v", got, err)
	}
	if got.Dialect != "redshift" {
		t.Errorf("stored dialect = %q, want redshift", got.Dialect)
	}

	missing, err := store.GetSource(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetSource(unknown) = %v, %v, want nil, nil", missing, err)
	}
}

// initialChangeSet builds the creates of a first sync: one database, one
// schema, one table with two columns and a foreign key edge.
func initialChangeSet(cursor int64) *core.ChangeSet {
	return &core.ChangeSet{
		Cursor: cursor,
		Creates: []core.Create{
			{Kind: core.KindDatabase, ID: "db-1", Name: "shop", Path: "warehouse1.shop"},
			{Kind: core.KindSchema, ID: "sch-1", ParentID: "db-1", Name: "public", Path: "warehouse1.shop.public"},
			{Kind: core.KindTable, ID: "tbl-1", ParentID: "sch-1", Name: "orders", TableKind: core.TableKindTable,
				Path: "warehouse1.shop.public.orders"},
			{Kind: core.KindColumn, ID: "col-1", ParentID: "tbl-1", Name: "id", Ordinal: 0,
				Type: core.TypeDesc{Name: "integer"}, PrimaryKey: true, Path: "warehouse1.shop.public.orders.id"},
			{Kind: core.KindColumn, ID: "col-2", ParentID: "tbl-1", Name: "total", Ordinal: 1,
				Type: core.TypeDesc{Name: "numeric", Precision: 10, Scale: 2}, Path: "warehouse1.shop.public.orders.total"},
			{Kind: core.KindForeignKey, ID: "fk-1", ParentID: "tbl-1", Name: "orders_customer_fk",
				FromColumn: "id", ToSchema: "public", ToTable: "customers", ToColumn: "id",
				Path: "warehouse1.shop.public.orders.orders_customer_fk"},
		},
	}
}

func seedSource(t *testing.T, store *SQLiteStore, name string) *core.Source {
	t.Helper()
	src, err := store.EnsureSource(context.Background(), name, "postgres")
	if err != nil {
		t.Fatalf("failed to ensure source: %v", err)
	}
	return src
}

func TestSQLiteStore_ApplyAndLiveViewRoundtrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	src := seedSource(t, store, "warehouse1")

	summary, err := store.ApplyChangeSet(ctx, src.ID, initialChangeSet(0))
	if err != nil {
		t.Fatalf("failed to apply: %v", err)
	}
	if summary.Created != 6 || summary.Touched != 0 || summary.Retired != 0 {
		t.Errorf("summary = %+v, want 6 creates only", summary)
	}

	view, err := store.CurrentLiveView(ctx, src.ID)
	if err != nil {
		t.Fatalf("failed to read live view: %v", err)
	}
	if view.Cursor != 1 {
		t.Errorf("cursor after apply = %d, want 1", view.Cursor)
	}
	if len(view.Tree.Databases) != 1 {
		t.Fatalf("live databases = %d, want 1", len(view.Tree.Databases))
	}

	db := view.Tree.Databases[0]
	if db.ID != "db-1" || db.Name != "shop" {
		t.Errorf("database = %+v", db)
	}
	tbl := db.Schemas[0].Tables[0]
	if tbl.Kind != core.TableKindTable || len(tbl.Columns) != 2 || len(tbl.ForeignKeys) != 1 {
		t.Errorf("table = %+v", tbl)
	}
	if tbl.Columns[0].Name != "id" || !tbl.Columns[0].PrimaryKey {
		t.Errorf("columns not ordered by ordinal: %+v", tbl.Columns)
	}
	if got := tbl.Columns[1].Type; got.Name != "numeric" || got.Precision != 10 || got.Scale != 2 {
		t.Errorf("column type = %+v, want numeric(10,2)", got)
	}
}

func TestSQLiteStore_ApplyConflictOnStaleCursor(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	src := seedSource(t, store, "warehouse1")

	if _, err := store.ApplyChangeSet(ctx, src.ID, &core.ChangeSet{Cursor: 0}); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	// A second applier with the same live view must lose.
	_, err := store.ApplyChangeSet(ctx, src.ID, &core.ChangeSet{Cursor: 0})
	var conflict *core.ApplyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second apply = %v, want *core.ApplyConflictError", err)
	}
	if !core.IsTransient(err) {
		t.Error("apply conflict should be transient")
	}

	// The losing apply must not have advanced the cursor.
	view, err := store.CurrentLiveView(ctx, src.ID)
	if err != nil {
		t.Fatalf("failed to read live view: %v", err)
	}
	if view.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", view.Cursor)
	}
}

func TestSQLiteStore_TouchAndUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	src := seedSource(t, store, "warehouse1")

	if _, err := store.ApplyChangeSet(ctx, src.ID, initialChangeSet(0)); err != nil {
		t.Fatalf("initial apply failed: %v", err)
	}

	summary, err := store.ApplyChangeSet(ctx, src.ID, &core.ChangeSet{
		Cursor: 1,
		Touches: []core.Touch{
			{Kind: core.KindDatabase, ID: "db-1"},
			{Kind: core.KindSchema, ID: "sch-1"},
			{Kind: core.KindTable, ID: "tbl-1"},
			{Kind: core.KindColumn, ID: "col-1"},
			{Kind: core.KindForeignKey, ID: "fk-1"},
		},
		Updates: []core.Update{{
			Kind: core.KindColumn, ID: "col-2", Name: "total", Ordinal: 1,
			Type: core.TypeDesc{Name: "numeric", Precision: 12, Scale: 4},
		}},
	})
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if summary.Touched != 5 || summary.Updated != 1 {
		t.Errorf("summary = %+v, want 5 touches and 1 update", summary)
	}

	view, err := store.CurrentLiveView(ctx, src.ID)
	if err != nil {
		t.Fatalf("failed to read live view: %v", err)
	}
	col := view.Tree.Databases[0].Schemas[0].Tables[0].Columns[1]
	if col.ID != "col-2" {
		t.Fatalf("updated column lost identity: %+v", col)
	}
	if col.Type.Precision != 12 || col.Type.Scale != 4 {
		t.Errorf("column type = %+v, want numeric(12,4)", col.Type)
	}
}

func TestSQLiteStore_TouchingRetiredEntityFails(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	src := seedSource(t, store, "warehouse1")

	if _, err := store.ApplyChangeSet(ctx, src.ID, initialChangeSet(0)); err != nil {
		t.Fatalf("initial apply failed: %v", err)
	}
	if _, err := store.ApplyChangeSet(ctx, src.ID, &core.ChangeSet{
		Cursor:  1,
		Retires: []core.Retire{{Kind: core.KindColumn, ID: "col-2", Path: "warehouse1.shop.public.orders.total"}},
	}); err != nil {
		t.Fatalf("retire failed: %v", err)
	}

	_, err := store.ApplyChangeSet(ctx, src.ID, &core.ChangeSet{
		Cursor:  2,
		Touches: []core.Touch{{Kind: core.KindColumn, ID: "col-2"}},
	})
	var inv *core.InvariantViolationError
	if !errors.As(err, &inv) {
		t.Fatalf("touch of retired entity = %v, want *core.InvariantViolationError", err)
	}
}

func TestSQLiteStore_RetireCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	src := seedSource(t, store, "warehouse1")

	if _, err := store.ApplyChangeSet(ctx, src.ID, initialChangeSet(0)); err != nil {
		t.Fatalf("initial apply failed: %v", err)
	}

	summary, err := store.ApplyChangeSet(ctx, src.ID, &core.ChangeSet{
		Cursor:  1,
		Touches: []core.Touch{{Kind: core.KindDatabase, ID: "db-1"}},
		Retires: []core.Retire{{Kind: core.KindSchema, ID: "sch-1", Path: "warehouse1.shop.public"}},
	})
	if err != nil {
		t.Fatalf("retire failed: %v", err)
	}
	// Schema plus cascaded table, two columns and the edge.
	if summary.Retired != 5 {
		t.Errorf("retired = %d, want 5 (cascade included)", summary.Retired)
	}

	view, err := store.CurrentLiveView(ctx, src.ID)
	if err != nil {
		t.Fatalf("failed to read live view: %v", err)
	}
	if len(view.Tree.Databases) != 1 || len(view.Tree.Databases[0].Schemas) != 0 {
		t.Errorf("live view after cascade = %+v, want bare database", view.Tree)
	}

	// Retired rows are retained, never deleted.
	var kept int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM columns WHERE retired_at IS NOT NULL`).Scan(&kept); err != nil {
		t.Fatalf("failed to count retired columns: %v", err)
	}
	if kept != 2 {
		t.Errorf("retired column rows = %d, want 2", kept)
	}
}

func TestSQLiteStore_RecreatedPathGetsNewIdentity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	src := seedSource(t, store, "warehouse1")

	if _, err := store.ApplyChangeSet(ctx, src.ID, initialChangeSet(0)); err != nil {
		t.Fatalf("initial apply failed: %v", err)
	}
	if _, err := store.ApplyChangeSet(ctx, src.ID, &core.ChangeSet{
		Cursor:  1,
		Touches: []core.Touch{{Kind: core.KindDatabase, ID: "db-1"}, {Kind: core.KindSchema, ID: "sch-1"}},
		Retires: []core.Retire{{Kind: core.KindTable, ID: "tbl-1", Path: "warehouse1.shop.public.orders"}},
	}); err != nil {
		t.Fatalf("retire failed: %v", err)
	}

	// Same qualified path, fresh identity.
	if _, err := store.ApplyChangeSet(ctx, src.ID, &core.ChangeSet{
		Cursor: 2,
		Creates: []core.Create{{
			Kind: core.KindTable, ID: "tbl-2", ParentID: "sch-1", Name: "orders",
			TableKind: core.TableKindTable, Path: "warehouse1.shop.public.orders",
		}},
		Touches: []core.Touch{{Kind: core.KindDatabase, ID: "db-1"}, {Kind: core.KindSchema, ID: "sch-1"}},
	}); err != nil {
		t.Fatalf("re-create failed: %v", err)
	}

	view, err := store.CurrentLiveView(ctx, src.ID)
	if err != nil {
		t.Fatalf("failed to read live view: %v", err)
	}
	tbl := view.Tree.Databases[0].Schemas[0].Tables[0]
	if tbl.ID != "tbl-2" {
		t.Errorf("live table ID = %q, want tbl-2", tbl.ID)
	}

	var total int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM tables WHERE name = 'orders'`).Scan(&total); err != nil {
		t.Fatalf("failed to count table rows: %v", err)
	}
	if total != 2 {
		t.Errorf("table rows for orders = %d, want 2 (retired incarnation retained)", total)
	}
}

func TestSQLiteStore_LiveViewConsistentUnderConcurrentApplies(t *testing.T) {
	// A file-backed store gets a real connection pool, so view reads and
	// applies run on separate connections. The view must never observe a
	// half-applied change-set: that would surface as a false orphan error.
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	if err := store.Open(filepath.Join(t.TempDir(), "catalog.db")); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	src := seedSource(t, store, "warehouse1")
	if _, err := store.ApplyChangeSet(ctx, src.ID, initialChangeSet(0)); err != nil {
		t.Fatalf("initial apply failed: %v", err)
	}

	// One applier alternates between retiring the whole tree and recreating
	// it under fresh identities.
	done := make(chan error, 1)
	go func() {
		done <- func() error {
			for i := 0; i < 25; i++ {
				view, err := store.CurrentLiveView(ctx, src.ID)
				if err != nil {
					return err
				}
				var cs *core.ChangeSet
				if len(view.Tree.Databases) > 0 {
					cs = &core.ChangeSet{Cursor: view.Cursor, Retires: []core.Retire{{
						Kind: core.KindDatabase, ID: view.Tree.Databases[0].ID, Path: "warehouse1.shop",
					}}}
				} else {
					n := strconv.Itoa(i)
					cs = &core.ChangeSet{Cursor: view.Cursor, Creates: []core.Create{
						{Kind: core.KindDatabase, ID: "db-gen-" + n, Name: "shop", Path: "warehouse1.shop"},
						{Kind: core.KindSchema, ID: "sch-gen-" + n, ParentID: "db-gen-" + n, Name: "public",
							Path: "warehouse1.shop.public"},
						{Kind: core.KindTable, ID: "tbl-gen-" + n, ParentID: "sch-gen-" + n, Name: "orders",
							TableKind: core.TableKindTable, Path: "warehouse1.shop.public.orders"},
					}}
				}
				if _, err := store.ApplyChangeSet(ctx, src.ID, cs); err != nil {
					return err
				}
			}
			return nil
		}()
	}()

	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("concurrent applier failed: %v", err)
			}
			return
		default:
			if _, err := store.CurrentLiveView(ctx, src.ID); err != nil {
				t.Fatalf("live view read failed during concurrent applies: %v", err)
			}
		}
	}
}

func TestSQLiteStore_SourcesAreIsolated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	src1 := seedSource(t, store, "warehouse1")
	src2 := seedSource(t, store, "warehouse2")

	if _, err := store.ApplyChangeSet(ctx, src1.ID, initialChangeSet(0)); err != nil {
		t.Fatalf("apply to warehouse1 failed: %v", err)
	}

	other := &core.ChangeSet{Cursor: 0, Creates: []core.Create{
		{Kind: core.KindDatabase, ID: "db-9", Name: "analytics", Path: "warehouse2.analytics"},
	}}
	if _, err := store.ApplyChangeSet(ctx, src2.ID, other); err != nil {
		t.Fatalf("apply to warehouse2 failed: %v", err)
	}

	// Retiring everything in warehouse1 must not touch warehouse2.
	if _, err := store.ApplyChangeSet(ctx, src1.ID, &core.ChangeSet{
		Cursor:  1,
		Retires: []core.Retire{{Kind: core.KindDatabase, ID: "db-1", Path: "warehouse1.shop"}},
	}); err != nil {
		t.Fatalf("retire failed: %v", err)
	}

	view2, err := store.CurrentLiveView(ctx, src2.ID)
	if err != nil {
		t.Fatalf("failed to read warehouse2 view: %v", err)
	}
	if len(view2.Tree.Databases) != 1 || view2.Tree.Databases[0].ID != "db-9" {
		t.Errorf("warehouse2 view affected by warehouse1 retirement: %+v", view2.Tree)
	}
	if view2.Cursor != 1 {
		t.Errorf("warehouse2 cursor = %d, want 1", view2.Cursor)
	}
}

func TestSQLiteStore_InvalidChangeSetRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	src := seedSource(t, store, "warehouse1")

	tests := []struct {
		name string
		cs   *core.ChangeSet
	}{
		{
			name: "create without identity",
			cs: &core.ChangeSet{Creates: []core.Create{
				{Kind: core.KindDatabase, Name: "shop", Path: "warehouse1.shop"},
			}},
		},
		{
			name: "child create without parent",
			cs: &core.ChangeSet{Creates: []core.Create{
				{Kind: core.KindSchema, ID: "sch-9", Name: "public", Path: "warehouse1.shop.public"},
			}},
		},
		{
			name: "database create with parent",
			cs: &core.ChangeSet{Creates: []core.Create{
				{Kind: core.KindDatabase, ID: "db-9", ParentID: "nope", Name: "shop", Path: "warehouse1.shop"},
			}},
		},
		{
			name: "unknown kind",
			cs: &core.ChangeSet{Creates: []core.Create{
				{Kind: "partition", ID: "p-1", ParentID: "tbl-1", Name: "p0", Path: "warehouse1.p0"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.ApplyChangeSet(ctx, src.ID, tt.cs)
			var inv *core.InvariantViolationError
			if !errors.As(err, &inv) {
				t.Fatalf("ApplyChangeSet() = %v, want *core.InvariantViolationError", err)
			}
		})
	}

	// Rejected change-sets must not advance the cursor.
	view, err := store.CurrentLiveView(ctx, src.ID)
	if err != nil {
		t.Fatalf("failed to read live view: %v", err)
	}
	if view.Cursor != 0 {
		t.Errorf("cursor = %d, want 0 after rejected applies", view.Cursor)
	}
}

func TestSQLiteStore_SyncRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	src := seedSource(t, store, "warehouse1")

	run, err := store.CreateSyncRun(ctx, src.ID)
	if err != nil {
		t.Fatalf("failed to create sync run: %v", err)
	}
	if run.Status != core.SyncStatusRunning {
		t.Errorf("new run status = %q, want running", run.Status)
	}

	summary := &core.ApplySummary{Created: 6, Touched: 2, Retired: 1}
	if err := store.CompleteSyncRun(ctx, run.ID, core.SyncStatusCommitted, summary, core.ErrKindNone, ""); err != nil {
		t.Fatalf("failed to complete sync run: %v", err)
	}

	failed, err := store.CreateSyncRun(ctx, src.ID)
	if err != nil {
		t.Fatalf("failed to create second run: %v", err)
	}
	if err := store.CompleteSyncRun(ctx, failed.ID, core.SyncStatusFailed, nil, core.ErrKindConnection, "dial tcp: timeout"); err != nil {
		t.Fatalf("failed to complete failed run: %v", err)
	}

	runs, err := store.ListSyncRuns(ctx, src.ID, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}

	byID := map[string]*core.SyncRun{runs[0].ID: runs[0], runs[1].ID: runs[1]}
	committed := byID[run.ID]
	if committed == nil || committed.Status != core.SyncStatusCommitted || committed.Summary.Created != 6 {
		t.Errorf("committed run = %+v", committed)
	}
	if committed != nil && committed.CompletedAt == nil {
		t.Error("committed run has no completion time")
	}
	lost := byID[failed.ID]
	if lost == nil || lost.Status != core.SyncStatusFailed || lost.ErrorKind != core.ErrKindConnection {
		t.Errorf("failed run = %+v", lost)
	}

	if err := store.CompleteSyncRun(ctx, "missing", core.SyncStatusFailed, nil, core.ErrKindNone, ""); err == nil {
		t.Error("completing unknown run should fail")
	}
}
