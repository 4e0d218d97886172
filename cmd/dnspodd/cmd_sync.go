package main

import (
	"github.com/spf13/cobra"
)

// newCmdSync returns the one-shot command: run a single convergence
// cycle and exit non-zero when it fails.
func newCmdSync() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single convergence cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			cfg.staticIP, _ = cmd.Flags().GetString("ip")

			client, journal, err := buildClient(cfg, logger)
			if err != nil {
				return err
			}
			if journal != nil {
				defer journal.Close()
			}
			return client.RunOnce(cmd.Context())
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().String("ip", "", "Skip discovery and push this address")
	return cmd
}
