// cmd/history.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbalholz/applypilot/internal/observability"
	"github.com/mbalholz/applypilot/internal/store"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished application sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.Store.Path, observability.GetLogger())
			if err != nil {
				return err
			}
			defer db.Close()

			recent, err := db.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(recent) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No applications recorded yet.")
				return nil
			}

			for _, sum := range recent {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-28s %-24s %-24s %3.0f%%  %s\n",
					sum.FinishedAt.Format("2006-01-02 15:04"),
					sum.Company, sum.Title, sum.StopReason,
					sum.SuccessRate*100, sum.ApplicationID)
			}
			return nil
		},
	}

	historyCmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions to list")
	return historyCmd
}
