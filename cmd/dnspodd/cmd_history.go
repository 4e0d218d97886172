package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dnspodd/dnspodd"
)

// newCmdHistory returns the command that prints recent update attempts
// from the journal.
func newCmdHistory() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent update attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.HistoryDB == "" {
				return errors.New("no history database is configured (history_db / --history-db)")
			}
			limit, _ := cmd.Flags().GetInt("limit")

			journal, err := dnspodd.OpenJournal(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer journal.Close()

			recs, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(w, "no update attempts recorded")
				return nil
			}
			for _, r := range recs {
				from := r.From
				if from == "" {
					from = "unknown"
				}
				name := dnspodd.Target{Domain: r.Domain, Sub: r.Sub}.FQDN()
				line := fmt.Sprintf("%s  %-7s  %s  %s -> %s",
					r.CreatedAt.Format(time.RFC3339), r.Outcome, name, from, r.To)
				if r.Detail != "" {
					line += "  (" + r.Detail + ")"
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().Int("limit", 20, "Maximum entries to show")
	return cmd
}
