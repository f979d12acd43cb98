package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/catsync/internal/engine"
	"github.com/leapstack-labs/catsync/pkg/core"
)

func newPullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [source...]",
		Short: "Synchronize sources into the catalog",
		Long: `Run one sync cycle for every configured source, or only the named ones.
Cycles run concurrently and independently; a failing source never blocks
the others. Exits non-zero if any source failed.`,
		Example: `  # Sync all configured sources
  catsync pull

  # Sync only two sources
  catsync pull warehouse1 analytics

  # Machine-readable results
  catsync pull --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd, args)
		},
	}
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg := getConfig(cmd)
	logger := getLogger(cmd)

	sources := cfg.Sources
	if len(args) > 0 {
		sources = nil
		for _, name := range args {
			src := cfg.Source(name)
			if src == nil {
				return fmt.Errorf("source %q is not configured", name)
			}
			sources = append(sources, *src)
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	eng := engine.New(store, logger, engine.Options{
		Concurrency:     cfg.Sync.Concurrency,
		PullAttempts:    cfg.Sync.PullAttempts,
		PullBackoff:     cfg.Sync.PullBackoff,
		ConflictRetries: cfg.Sync.ConflictRetries,
	})

	results, err := eng.RunSync(cmd.Context(), sources)
	if err != nil {
		return err
	}

	if cfg.Output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		renderResults(cmd, sources, results)
	}

	failed := 0
	for _, res := range results {
		if res.Status == core.CycleFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d source(s) failed", failed, len(results))
	}
	return nil
}

// renderResults prints one row per source, in configuration order.
func renderResults(cmd *cobra.Command, sources []core.SourceConfig, results map[string]core.CycleResult) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "Status", "Created", "Touched", "Updated", "Retired", "Attempts", "Duration", "Error"})

	for _, src := range sources {
		res := results[src.Name]
		errMsg := res.Error
		if res.ErrorKind != core.ErrKindNone {
			errMsg = fmt.Sprintf("[%s] %s", res.ErrorKind, res.Error)
		}
		t.AppendRow(table.Row{
			res.Source,
			res.Status,
			res.Summary.Created,
			res.Summary.Touched,
			res.Summary.Updated,
			res.Summary.Retired,
			res.Attempts,
			res.Duration.Round(time.Millisecond),
			errMsg,
		})
	}
	t.Render()
}
