package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmcdole/verdad/internal/adapter"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local collection cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached collection and snippet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := adapter.ClearCache(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", cfg.Cache.Dir)
			return nil
		},
	})

	return cmd
}
