package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mmcdole/verdad/internal/app"
	"github.com/mmcdole/verdad/internal/filter"
	"github.com/mmcdole/verdad/internal/tui"
)

func newBrowseCommand(ctx *commandContext) *cobra.Command {
	var filterFlag string

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Open the interactive snippet browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrowse(ctx, filterFlag)
		},
	}
	cmd.Flags().StringVar(&filterFlag, "filter", "", "Initial filters as a query string")
	return cmd
}

func runBrowse(ctx *commandContext, filterFlag string) error {
	notifier := tui.NewChannelNotifier(16)

	return ctx.withApp(notifier, func(a *app.App) error {
		state := startingFilter(a, filterFlag)

		model := tui.NewModel(tui.Options{
			Snippets: a.Snippets,
			Player:   a.Player,
			Notices:  notifier.Notices(),
			Filter:   state,
			Language: a.Language(),
		})
		defer model.Close()

		ctx.logger.Info("starting TUI", "filter", filter.Encode(state), "language", a.Language())

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			ctx.logger.Error("TUI error", "error", err)
			return fmt.Errorf("TUI error: %w", err)
		}

		ctx.logger.Info("shutting down")
		return nil
	})
}
