// Package engine orchestrates sync cycles: pull, validate, diff, apply, one
// isolated cycle per configured source, with bounded retries for transient
// failures.
package engine

import (
	"log/slog"
	"time"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// Options tunes the orchestrator's concurrency and retry behavior.
type Options struct {
	// Concurrency bounds how many source cycles run at once.
	Concurrency int

	// PullAttempts is the total number of pull attempts per cycle for
	// connection failures. Non-transient pull errors are never retried.
	PullAttempts int

	// PullBackoff is the base of the exponential backoff between pull
	// attempts.
	PullBackoff time.Duration

	// ConflictRetries is how many times a cycle restarts from a fresh pull
	// after losing an apply race.
	ConflictRetries int
}

// DefaultOptions returns the orchestrator defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:     4,
		PullAttempts:    3,
		PullBackoff:     time.Second,
		ConflictRetries: 3,
	}
}

// Engine runs sync cycles against one catalog store.
type Engine struct {
	store  core.Store
	logger *slog.Logger
	opts   Options
}

// New creates an engine. If logger is nil, a discard logger is used.
func New(store core.Store, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PullAttempts < 1 {
		opts.PullAttempts = 1
	}
	if opts.PullBackoff <= 0 {
		opts.PullBackoff = time.Second
	}
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	return &Engine{store: store, logger: logger, opts: opts}
}
