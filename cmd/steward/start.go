// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sigil-dev/steward/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the control loop",
		Long:  "Load configuration, open the journal, start the health monitor and serve the HTTP API until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log, viper.GetBool("verbose")))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cmd, cfg)
}

func serve(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	st, err := Wire(ctx, cfg, secretStoreFactory())
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting steward on %s (data: %s)\n", cfg.Server.Listen, cfg.Storage.DataDir)
	if err := st.Run(ctx); err != nil {
		return err
	}
	slog.Info("steward stopped")
	return nil
}
