package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/catsync/internal/connector"
	"github.com/leapstack-labs/catsync/internal/diff"
	"github.com/leapstack-labs/catsync/internal/snapshot"
	"github.com/leapstack-labs/catsync/pkg/core"
)

// RunSync runs one sync cycle for every configured source and reports one
// result per source, keyed by source name. Cycles are isolated: a failing
// source never blocks or aborts the others, so the returned error covers
// only setup problems such as duplicate source names.
func (e *Engine) RunSync(ctx context.Context, sources []core.SourceConfig) (map[string]core.CycleResult, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(sources))
	for _, cfg := range sources {
		if cfg.Name == "" {
			return nil, fmt.Errorf("source with empty name")
		}
		if _, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
	}

	e.logger.Info("starting sync", "sources", len(sources), "concurrency", e.opts.Concurrency)

	results := make(map[string]core.CycleResult, len(sources))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)

	for _, cfg := range sources {
		g.Go(func() error {
			res := e.syncSource(ctx, cfg)
			mu.Lock()
			results[cfg.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// syncSource runs one pull-diff-apply cycle for one source. Every terminal
// outcome, committed or failed, is recorded in the sync run history.
func (e *Engine) syncSource(ctx context.Context, cfg core.SourceConfig) core.CycleResult {
	start := time.Now()
	logger := e.logger.With("source", cfg.Name, "dialect", cfg.Dialect)

	res := core.CycleResult{Source: cfg.Name}
	fail := func(run *core.SyncRun, err error) core.CycleResult {
		res.Status = core.CycleFailed
		res.ErrorKind = core.KindOf(err)
		res.Error = err.Error()
		res.Duration = time.Since(start)
		logger.Error("sync cycle failed", "kind", res.ErrorKind, "error", err, "attempts", res.Attempts)
		e.completeRun(ctx, run, core.SyncStatusFailed, nil, res.ErrorKind, res.Error)
		return res
	}

	conn, err := connector.Get(cfg.Dialect)
	if err != nil {
		return fail(nil, err)
	}

	src, err := e.store.EnsureSource(ctx, cfg.Name, cfg.Dialect)
	if err != nil {
		return fail(nil, err)
	}

	run, err := e.store.CreateSyncRun(ctx, src.ID)
	if err != nil {
		// History is best-effort; the cycle itself proceeds.
		logger.Warn("failed to record sync run", "error", err)
		run = nil
	}

	summary, err := e.runCycle(ctx, logger, conn, cfg, src.ID, &res)
	if err != nil {
		return fail(run, err)
	}

	res.Status = core.CycleCommitted
	res.Summary = *summary
	res.Duration = time.Since(start)
	logger.Info("sync cycle committed",
		"created", summary.Created,
		"touched", summary.Touched,
		"updated", summary.Updated,
		"retired", summary.Retired,
		"attempts", res.Attempts,
		"duration", res.Duration,
	)
	e.completeRun(ctx, run, core.SyncStatusCommitted, summary, core.ErrKindNone, "")
	return res
}

// pull fetches a candidate snapshot, retrying connection failures with
// exponential backoff. All other pull errors fail the cycle immediately.
func (e *Engine) pull(ctx context.Context, conn core.Connector, cfg core.SourceConfig, res *core.CycleResult) (*core.Snapshot, error) {
	backoff := retry.WithMaxRetries(uint64(e.opts.PullAttempts-1), retry.NewExponential(e.opts.PullBackoff))

	var snap *core.Snapshot
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res.Attempts++
		var err error
		snap, err = conn.Pull(ctx, cfg)
		if err != nil {
			var connErr *core.ConnectionError
			if errors.As(err, &connErr) {
				e.logger.Debug("pull failed, retrying", "source", cfg.Name, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// runCycle executes pull, validate, diff, apply. Losing the apply race means
// the committed catalog moved under us, so the whole cycle restarts from a
// fresh pull, up to the configured number of conflict retries. Re-applying
// the stale snapshot would retire entities the winning apply just created.
func (e *Engine) runCycle(ctx context.Context, logger *slog.Logger, conn core.Connector, cfg core.SourceConfig, sourceID string, res *core.CycleResult) (*core.ApplySummary, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.ConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := e.pull(ctx, conn, cfg, res)
		if err != nil {
			return nil, err
		}
		logger.Debug("pulled snapshot", "databases", len(snap.Databases))

		if err := snapshot.Validate(snap); err != nil {
			return nil, err
		}

		live, err := e.store.CurrentLiveView(ctx, sourceID)
		if err != nil {
			return nil, err
		}

		cs, err := diff.Compute(live, snap)
		if err != nil {
			return nil, err
		}

		// Once the apply starts it must run to its commit or rollback;
		// cancellation takes effect on the next attempt boundary.
		summary, err := e.store.ApplyChangeSet(context.WithoutCancel(ctx), sourceID, cs)
		if err == nil {
			return summary, nil
		}

		var conflict *core.ApplyConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		lastErr = err
		logger.Debug("apply conflict, restarting cycle", "attempt", attempt+1)
	}
	return nil, lastErr
}

func (e *Engine) completeRun(ctx context.Context, run *core.SyncRun, status core.SyncStatus, summary *core.ApplySummary, kind core.ErrorKind, msg string) {
	if run == nil {
		return
	}
	if err := e.store.CompleteSyncRun(context.WithoutCancel(ctx), run.ID, status, summary, kind, msg); err != nil {
		e.logger.Warn("failed to complete sync run", "run_id", run.ID, "error", err)
	}
}
