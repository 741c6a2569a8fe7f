// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/advisor-engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat surface",
	Long: `Serve starts the HTTP chat surface: a streaming WebSocket endpoint at /ws,
a one-shot /ask endpoint, /healthz, and /metrics. On SIGINT or SIGTERM the
server drains, in-flight turns are canceled, and the knowledge-base and model
clients close together before exit.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := buildConfig()
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, err := newLogger(cfg, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	srv := server.New(eng.pipe, cfg.Server, logger, eng.metrics.Handler())
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("shutdown complete", zap.String("addr", cfg.Server.Addr))
	return nil
}
