package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/meshbridge/pkg/server"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen != "" {
				a.cfg.Listen = listen
			}
			a.logger.Info("starting meshbridge",
				zap.String("space", a.cfg.Remote.BaseURL),
				zap.String("cache_backend", a.cfg.Cache.Backend),
				zap.String("data_dir", a.cfg.DataDir),
			)
			srv := server.New(a.cfg, a.svc, a.remote, a.metrics, a.logger)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	return cmd
}
