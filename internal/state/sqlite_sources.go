package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// EnsureSource registers a source on first sight and returns its current row,
// sync cursor included. The dialect is updated if the configuration changed.
func (s *SQLiteStore) EnsureSource(ctx context.Context, name, dialect string) (*core.Source, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	existing, err := s.GetSource(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Dialect != dialect {
			now := time.Now().UTC()
			_, err := s.db.ExecContext(ctx,
				`UPDATE sources SET dialect = ?, updated_at = ? WHERE id = ?`,
				dialect, now, existing.ID,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to update source dialect: %w", err)
			}
			existing.Dialect = dialect
			existing.UpdatedAt = now
		}
		return existing, nil
	}

	now := time.Now().UTC()
	src := &core.Source{
		ID:        uuid.New().String(),
		Name:      name,
		Dialect:   dialect,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, dialect, sync_version, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		src.ID, src.Name, src.Dialect, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register source: %w", err)
	}

	return src, nil
}

// GetSource retrieves a source by name. Returns nil without error when the
// source is not registered.
func (s *SQLiteStore) GetSource(ctx context.Context, name string) (*core.Source, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	src := &core.Source{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, dialect, sync_version, created_at, updated_at FROM sources WHERE name = ?`,
		name,
	).Scan(&src.ID, &src.Name, &src.Dialect, &src.SyncVersion, &src.CreatedAt, &src.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return src, nil
}

// ListSources retrieves all registered sources ordered by name.
func (s *SQLiteStore) ListSources(ctx context.Context) ([]*core.Source, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, dialect, sync_version, created_at, updated_at FROM sources ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*core.Source
	for rows.Next() {
		src := &core.Source{}
		if err := rows.Scan(&src.ID, &src.Name, &src.Dialect, &src.SyncVersion, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}

	return sources, rows.Err()
}
