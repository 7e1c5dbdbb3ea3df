package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmcdole/verdad/internal/app"
)

func newPlayCommand(ctx *commandContext) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "play <snippet-id>",
		Short: "Play a snippet's audio in an external player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(nil, func(a *app.App) error {
				s, err := a.Snippets.Get(cmd.Context(), args[0], a.Language())
				if err != nil {
					return fmt.Errorf("failed to load snippet: %w", err)
				}
				if printOnly {
					target, err := a.Player.AudioURL(s.AudioFile)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), target)
					return nil
				}
				if err := a.Player.Play(s.AudioFile); err != nil {
					return fmt.Errorf("failed to start player: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Playing %s\n", s.Title)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&printOnly, "url", false, "Print the audio URL instead of playing it")
	return cmd
}
