package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger is replaced by PersistentPreRunE before any subcommand runs.
var logger = zap.NewNop()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dnspodd",
		Short:   "Keep a DNS address record pointed at this machine's public IP",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Show help by default when no subcommand is provided.
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", defaultConfigFile, "Path to the YAML config file")
	cmd.PersistentFlags().String("log-format", "console", "Log format (console|json)")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		format, _ := c.Flags().GetString("log-format")
		level, _ := c.Flags().GetString("log-level")
		l, err := newLogger(format, level)
		if err != nil {
			return err
		}
		logger = l
		return nil
	}

	cmd.AddCommand(newCmdRun())
	cmd.AddCommand(newCmdSync())
	cmd.AddCommand(newCmdSetup())
	cmd.AddCommand(newCmdHistory())
	cmd.AddCommand(newCmdVersion())
	return cmd
}

// newLogger builds the process logger. Everything goes to stderr so
// stdout stays clean for command output.
func newLogger(format, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = format
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if format == "console" {
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid log format %q: %w", format, err)
	}
	return l, nil
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		logger.Error("failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}
