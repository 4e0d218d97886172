package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCmdRun returns the daemon command: converge immediately, then
// once per interval, until interrupted.
func newCmdRun() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the updater daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			if cfg.interval < time.Minute {
				logger.Warn("short intervals hammer the echo services",
					zap.Duration("interval", cfg.interval))
			}

			client, journal, err := buildClient(cfg, logger)
			if err != nil {
				return err
			}
			if journal != nil {
				defer journal.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return client.Run(ctx)
		},
	}
	addConfigFlags(cmd)
	return cmd
}
