package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/catsync/internal/state"
)

// openStore opens the catalog database and brings its schema up to date.
// The caller closes the returned store.
func openStore(cmd *cobra.Command) (*state.SQLiteStore, error) {
	cfg := getConfig(cmd)

	if dir := filepath.Dir(cfg.CatalogPath); cfg.CatalogPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	store := state.NewSQLiteStore(getLogger(cmd))
	if err := store.Open(cfg.CatalogPath); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
