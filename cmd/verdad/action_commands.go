package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmcdole/verdad/internal/app"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/mutation"
)

// mutateFunc runs one mutation against the app and returns what to print
type mutateFunc func(ctx context.Context, a *app.App, args []string) (string, error)

func newActionCommands(ctx *commandContext) []*cobra.Command {
	var dislike bool

	like := actionCommand(ctx, "like <snippet-id>", "Like a snippet, or dislike it with --dislike", 1,
		func(c context.Context, a *app.App, args []string) (string, error) {
			vote := domain.Like
			if dislike {
				vote = domain.Dislike
			}
			rec, err := a.Snippets.Like(c, args[0], vote)
			if err != nil {
				return "", err
			}
			if p := snippetResult(rec); p.UserLikeStatus.Set {
				return fmt.Sprintf("Vote on %s: %s", args[0], domain.Snippet{UserLikeStatus: p.UserLikeStatus.Value}.Vote()), nil
			}
			return fmt.Sprintf("Voted on %s", args[0]), nil
		})
	like.Flags().BoolVar(&dislike, "dislike", false, "Dislike instead of like")

	return []*cobra.Command{
		actionCommand(ctx, "star <snippet-id>", "Star or unstar a snippet", 1,
			func(c context.Context, a *app.App, args []string) (string, error) {
				rec, err := a.Snippets.ToggleStar(c, args[0])
				if err != nil {
					return "", err
				}
				if p := snippetResult(rec); p.Starred.Set {
					return fmt.Sprintf("Starred %s: %s", args[0], yesNo(p.Starred.Value)), nil
				}
				return "Toggled star on " + args[0], nil
			}),
		like,
		actionCommand(ctx, "hide <snippet-id>", "Hide a snippet from lists", 1,
			func(c context.Context, a *app.App, args []string) (string, error) {
				_, err := a.Snippets.Hide(c, args[0])
				return "Hidden " + args[0], err
			}),
		actionCommand(ctx, "unhide <snippet-id>", "Show a hidden snippet again", 1,
			func(c context.Context, a *app.App, args []string) (string, error) {
				_, err := a.Snippets.Unhide(c, args[0])
				return "Unhidden " + args[0], err
			}),
		actionCommand(ctx, "label <snippet-id> <text>", "Apply a label to a snippet", 2,
			func(c context.Context, a *app.App, args []string) (string, error) {
				text := strings.Join(args[1:], " ")
				_, err := a.Snippets.AddLabel(c, args[0], text)
				return fmt.Sprintf("Labeled %s: %s", args[0], text), err
			}),
		actionCommand(ctx, "upvote-label <snippet-id> <label-id>", "Toggle your upvote on a label", 2,
			func(c context.Context, a *app.App, args []string) (string, error) {
				rec, err := a.Snippets.ToggleLabelUpvote(c, args[0], args[1])
				if err != nil {
					return "", err
				}
				if p := snippetResult(rec); p.Labels.Set {
					l, _ := domain.Snippet{Labels: p.Labels.Value}.LabelByID(args[1])
					return fmt.Sprintf("Label %s upvoted: %s", args[1], yesNo(l.UpvotedByMe)), nil
				}
				return "Toggled upvote on label " + args[1], nil
			}),
		actionCommand(ctx, "star-recording <recording-id>", "Star or unstar a recording", 1,
			func(c context.Context, a *app.App, args []string) (string, error) {
				_, err := a.Recordings.ToggleStar(c, args[0])
				return "Toggled star on recording " + args[0], err
			}),
	}
}

func actionCommand(ctx *commandContext, use, short string, minArgs int, fn mutateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(minArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(nil, func(a *app.App) error {
				msg, err := fn(cmd.Context(), a, args)
				if err != nil {
					return mutationError(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}
}

// snippetResult returns the server values of a settled snippet mutation
func snippetResult(rec *mutation.Record) mutation.SnippetPatch {
	if rec == nil {
		return mutation.SnippetPatch{}
	}
	p, _ := rec.Result.(mutation.SnippetPatch)
	return p
}

// mutationError keeps the cause for errors.Is while showing the user-facing text
func mutationError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w", mutation.Describe(err), err)
}
