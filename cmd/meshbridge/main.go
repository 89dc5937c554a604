package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meshbridge",
		Short:         "meshbridge: a caching bridge in front of a text-to-3D service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "meshbridge.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(),
		newGenCmd(),
		newSessionCmd(),
		newCacheCmd(),
		newStatsCmd(),
		newMCPCmd(),
	)
	return root
}
