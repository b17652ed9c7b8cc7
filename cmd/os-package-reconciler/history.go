package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/os-package-reconciler/internal/config"
	"github.com/open-edge-platform/os-package-reconciler/internal/history"
)

var (
	historyLimit  int = 10
	historyPassID string
)

// createHistoryCommand creates the history subcommand
func createHistoryCommand() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history [flags]",
		Short: "Show recorded reconciliation passes",
		Args:  cobra.NoArgs,
		RunE:  executeHistory,
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of passes to show, 0 for all")
	historyCmd.Flags().StringVar(&historyPassID, "pass", "", "Show the entries of one pass")
	return historyCmd
}

func executeHistory(cmd *cobra.Command, args []string) error {
	path, err := config.NewConfigHelpers(globalConfig).HistoryDB()
	if err != nil {
		return fmt.Errorf("resolving history database path: %w", err)
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if historyPassID != "" {
		entries, err := store.Entries(cmd.Context(), historyPassID)
		if err != nil {
			return err
		}
		return renderHistoryEntries(cmd.OutOrStdout(), historyPassID, entries)
	}

	passes, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	return renderHistory(cmd.OutOrStdout(), passes)
}
