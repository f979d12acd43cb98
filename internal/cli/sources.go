package cli

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/catsync/internal/connector"
)

func newSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List sources registered in the catalog",
		Long: `List every source the catalog has ever synced, with its dialect and
current sync version. Also shows which dialects this build supports.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSources(cmd)
		},
	}
}

func runSources(cmd *cobra.Command) error {
	cfg := getConfig(cmd)

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	sources, err := store.ListSources(cmd.Context())
	if err != nil {
		return err
	}

	if cfg.Output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sources)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Dialect", "Sync Version", "Registered", "Updated"})
	for _, src := range sources {
		t.AppendRow(table.Row{
			src.Name,
			src.Dialect,
			src.SyncVersion,
			src.CreatedAt.Format(time.RFC3339),
			src.UpdatedAt.Format(time.RFC3339),
		})
	}
	t.Render()

	cmd.Printf("\nSupported dialects: %s\n", strings.Join(connector.Dialects(), ", "))
	return nil
}
