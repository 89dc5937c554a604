package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/meshbridge/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve meshbridge tools over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var ledger mcp.Ledger
			if a.ledger != nil {
				ledger = a.ledger
			}
			return mcp.New(a.svc, ledger, version, a.logger).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
