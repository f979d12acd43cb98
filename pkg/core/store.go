package core

import (
	"context"
	"time"
)

// Source is one configured metadata source registered in the catalog.
// SyncVersion is the optimistic concurrency cursor: ApplyChangeSet commits
// only if the cursor still matches the value read with the live view.
type Source struct {
	ID          string
	Name        string
	Dialect     string
	SyncVersion int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SyncStatus is the terminal state of one recorded sync cycle.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCommitted SyncStatus = "committed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncRun is the persisted history record of one pull-diff-apply cycle.
type SyncRun struct {
	ID          string
	SourceID    string
	Status      SyncStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	ErrorKind   ErrorKind
	Error       string
	Summary     ApplySummary
}

// Store is the durable keeper of all entities' current and historical state
// for all sources. It is the sole owner and writer of catalog rows; entities
// are never mutated outside ApplyChangeSet.
type Store interface {
	Close() error

	// Source registry.
	EnsureSource(ctx context.Context, name, dialect string) (*Source, error)
	GetSource(ctx context.Context, name string) (*Source, error)
	ListSources(ctx context.Context) ([]*Source, error)

	// CurrentLiveView materializes the live subset for one source together
	// with the sync cursor read in the same transaction.
	CurrentLiveView(ctx context.Context, sourceID string) (*LiveView, error)

	// ApplyChangeSet atomically creates, touches, updates and retires
	// (cascading) entities. Either every instruction commits or none do.
	// Returns *ApplyConflictError when the source's sync cursor moved since
	// the change-set's live view was read.
	ApplyChangeSet(ctx context.Context, sourceID string, cs *ChangeSet) (*ApplySummary, error)

	// Sync run history.
	CreateSyncRun(ctx context.Context, sourceID string) (*SyncRun, error)
	CompleteSyncRun(ctx context.Context, id string, status SyncStatus, summary *ApplySummary, errKind ErrorKind, errMsg string) error
	ListSyncRuns(ctx context.Context, sourceID string, limit int) ([]*SyncRun, error)
}

// CycleStatus is the terminal outcome of one orchestrated source cycle.
type CycleStatus string

const (
	CycleCommitted CycleStatus = "committed"
	CycleFailed    CycleStatus = "failed"
)

// CycleResult reports the outcome of one source's pull-diff-apply cycle.
type CycleResult struct {
	Source    string
	Status    CycleStatus
	Summary   ApplySummary
	ErrorKind ErrorKind
	Error     string
	Attempts  int
	Duration  time.Duration
}
