package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/meshbridge/pkg/cache"
	"github.com/pario-ai/meshbridge/pkg/models"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the asset cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := openCache(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Backend: %s\nEntries: %d\n", stats.Backend, stats.Entries)
			return nil
		},
	}

	var params models.Params
	getCmd := &cobra.Command{
		Use:   "get <prompt>",
		Short: "Look up the cached asset for a prompt and parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := openCache(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			key := cache.Key(params.Request(args[0]))
			ref, ok, err := c.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Printf("Key:   %s\n", key)
			if !ok {
				fmt.Println("Asset: (miss)")
				return nil
			}
			fmt.Printf("Asset: %s\n", ref)
			return nil
		},
	}
	addParamFlags(getCmd, &params, models.DefaultParams())

	cmd.AddCommand(statsCmd, getCmd)
	return cmd
}
