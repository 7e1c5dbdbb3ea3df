package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() (*cobra.Command, *commandContext) {
	var langFlag string
	ctx := newCommandContext(&langFlag)
	return newRootCommandWith(ctx, &langFlag), ctx
}

func newRootCommandWith(ctx *commandContext, langFlag *string) *cobra.Command {
	var filterFlag string

	rootCmd := &cobra.Command{
		Use:           "verdad",
		Short:         "Review flagged radio snippets from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrowse(ctx, filterFlag)
		},
	}

	rootCmd.PersistentFlags().StringVar(langFlag, "lang", "", "Content language (english or spanish)")
	rootCmd.Flags().StringVar(&filterFlag, "filter", "", "Initial filters as a query string")

	rootCmd.AddCommand(newBrowseCommand(ctx))
	rootCmd.AddCommand(newLoginCommand(ctx))
	rootCmd.AddCommand(newLogoutCommand(ctx))
	rootCmd.AddCommand(newSnippetsCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newRecordingsCommand(ctx))
	for _, cmd := range newActionCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newPlayCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
