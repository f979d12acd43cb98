package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// CreateSyncRun opens a history record for one pull-diff-apply cycle.
func (s *SQLiteStore) CreateSyncRun(ctx context.Context, sourceID string) (*core.SyncRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.SyncRun{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		Status:    core.SyncStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, source_id, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.SourceID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	return run, nil
}

// CompleteSyncRun closes a history record with its terminal status. A nil
// summary records zero counts; errKind and errMsg are stored only when set.
func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, id string, status core.SyncStatus, summary *core.ApplySummary, errKind core.ErrorKind, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if summary == nil {
		summary = &core.ApplySummary{}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, error_kind = ?, error = ?,
		 created_count = ?, touched_count = ?, updated_count = ?, retired_count = ?
		 WHERE id = ?`,
		string(status), time.Now().UTC(), nullableString(string(errKind)), nullableString(errMsg),
		summary.Created, summary.Touched, summary.Updated, summary.Retired, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete sync run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync run not found: %s", id)
	}
	return nil
}

// ListSyncRuns retrieves the most recent runs for a source, newest first.
// A limit of zero or less returns all runs.
func (s *SQLiteStore) ListSyncRuns(ctx context.Context, sourceID string, limit int) ([]*core.SyncRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	query := `SELECT id, source_id, status, started_at, completed_at, error_kind, error,
	          created_count, touched_count, updated_count, retired_count
	          FROM sync_runs WHERE source_id = ? ORDER BY started_at DESC`
	args := []any{sourceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.SyncRun
	for rows.Next() {
		run := &core.SyncRun{}
		var status string
		var completedAt sql.NullTime
		var errKind, errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.SourceID, &status, &run.StartedAt, &completedAt,
			&errKind, &errMsg,
			&run.Summary.Created, &run.Summary.Touched, &run.Summary.Updated, &run.Summary.Retired); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.Status = core.SyncStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			run.CompletedAt = &t
		}
		run.ErrorKind = core.ErrorKind(errKind.String)
		run.Error = errMsg.String
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
