package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <source>",
		Short: "Show sync run history for a source",
		Long:  `Show the most recent sync cycles recorded for a source, newest first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return runHistory(cmd, args[0], limit)
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "max runs to show (0 for all)")
	return cmd
}

func runHistory(cmd *cobra.Command, sourceName string, limit int) error {
	cfg := getConfig(cmd)

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := store.GetSource(cmd.Context(), sourceName)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("source %q is not registered in the catalog", sourceName)
	}

	runs, err := store.ListSyncRuns(cmd.Context(), src.ID, limit)
	if err != nil {
		return err
	}

	if cfg.Output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Started", "Status", "Created", "Touched", "Updated", "Retired", "Duration", "Error"})
	for _, run := range runs {
		duration := ""
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		errMsg := run.Error
		if run.ErrorKind != "" {
			errMsg = fmt.Sprintf("[%s] %s", run.ErrorKind, run.Error)
		}
		t.AppendRow(table.Row{
			run.StartedAt.Format(time.RFC3339),
			run.Status,
			run.Summary.Created,
			run.Summary.Touched,
			run.Summary.Updated,
			run.Summary.Retired,
			duration,
			errMsg,
		})
	}
	t.Render()
	return nil
}
