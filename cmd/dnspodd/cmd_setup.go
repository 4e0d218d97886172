package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dnspodd/dnspodd"
)

// newCmdSetup returns the interactive credential setup: prompt for the
// login token with terminal echo off, verify it against the live API,
// and store it in a token file only this user can read.
func newCmdSetup() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Store and verify the DNSPod credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("token-file")
			return runSetup(cmd.Context(), path)
		},
	}
	cmd.Flags().String("token-file", defaultTokenFile(), "Where to store the credential")
	return cmd
}

func runSetup(ctx context.Context, path string) error {
	fmt.Printf("Enter DNSPod login token (ID,Token): \n")
	byteToken, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("error reading from stdin: %w", err)
	}
	token := strings.TrimSpace(string(byteToken))
	if err := dnspodd.CheckLoginToken(token); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	logger.Info("verifying token")
	if err := dnspodd.VerifyLoginToken(ctx, token); err != nil {
		return fmt.Errorf("unable to verify login token: %w", err)
	}
	logger.Info("token verified successfully")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", path, err)
	}
	defer f.Close()
	fmt.Fprintln(f, token)
	logger.Info("token written", zap.String("path", path))
	return nil
}
