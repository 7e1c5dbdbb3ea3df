package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmcdole/verdad/internal/app"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/filter"
)

const timeLayout = "2006-01-02 15:04"

func newSnippetsCommand(ctx *commandContext) *cobra.Command {
	var filterFlag string
	var pages int

	cmd := &cobra.Command{
		Use:   "snippets",
		Short: "List flagged snippets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(nil, func(a *app.App) error {
				state := startingFilter(a, filterFlag)
				c, err := a.Snippets.List(cmd.Context(), state, a.Language(), pages)
				if err != nil {
					return fmt.Errorf("failed to list snippets: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(c.Items) == 0 {
					fmt.Fprintln(out, "No snippets match")
					return nil
				}
				printSnippets(out, c.Items)
				fmt.Fprintf(out, "%d of %d", len(c.Items), c.TotalCount)
				if c.HasMore {
					fmt.Fprintf(out, " (use --pages for more)")
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filterFlag, "filter", "", "Filters as a query string, e.g. \"labels=Election&sortBy=upvotes\"")
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of pages to fetch")
	return cmd
}

func startingFilter(a *app.App, raw string) filter.State {
	if strings.TrimSpace(raw) == "" {
		return a.Config.DefaultFilter()
	}
	return filter.Decode(strings.TrimPrefix(raw, "?"))
}

func printSnippets(out io.Writer, items []domain.Snippet) {
	rows := make([][]string, 0, len(items))
	for _, s := range items {
		rows = append(rows, []string{
			s.ID,
			s.Title,
			s.SourceCode,
			formatTime(s.RecordedAt),
			fmt.Sprintf("%d/%d", s.LikeCount, s.DislikeCount),
			labelTexts(s.Labels),
			yesNo(s.Starred),
		})
	}
	fmt.Fprintln(out, renderTable([]column{
		{Header: "ID"},
		{Header: "Title", MaxWidth: 48},
		{Header: "Source"},
		{Header: "Recorded"},
		{Header: "Votes", Align: alignRight},
		{Header: "Labels", MaxWidth: 32},
		{Header: "Starred"},
	}, rows))
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <snippet-id>",
		Short: "Show one snippet in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(nil, func(a *app.App) error {
				s, err := a.Snippets.Get(cmd.Context(), args[0], a.Language())
				if err != nil {
					return fmt.Errorf("failed to load snippet: %w", err)
				}
				printSnippet(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func printSnippet(out io.Writer, s domain.Snippet) {
	fmt.Fprintln(out, s.Title)
	fmt.Fprintln(out, strings.Repeat("━", min(len([]rune(s.Title)), 60)))
	fmt.Fprintf(out, "ID:         %s\n", s.ID)
	fmt.Fprintf(out, "Source:     %s (%s, %s)\n", s.SourceName, s.SourceCode, s.State)
	fmt.Fprintf(out, "Recorded:   %s\n", formatTime(s.RecordedAt))
	if s.Duration != "" {
		fmt.Fprintf(out, "Duration:   %s\n", s.Duration)
	}
	fmt.Fprintf(out, "Confidence: %d\n", s.ConfidenceScore)
	fmt.Fprintf(out, "Votes:      +%d -%d (you: %s)\n", s.LikeCount, s.DislikeCount, s.Vote())
	fmt.Fprintf(out, "Comments:   %d\n", s.CommentCount)
	fmt.Fprintf(out, "Starred:    %s\n", yesNo(s.Starred))
	fmt.Fprintf(out, "Hidden:     %s\n", yesNo(s.Hidden))
	if len(s.Labels) > 0 {
		fmt.Fprintln(out, "Labels:")
		for _, l := range s.Labels {
			mine := ""
			if l.UpvotedByMe {
				mine = " (upvoted)"
			}
			fmt.Fprintf(out, "  %-12s %s  ▲%d%s\n", l.ID, l.Text, l.UpvoteCount, mine)
		}
	}
	if s.Summary != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, s.Summary)
	}
	if s.Explanation != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, s.Explanation)
	}
}

func newRecordingsCommand(ctx *commandContext) *cobra.Command {
	var filterFlag string
	var pages int

	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List radio recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(nil, func(a *app.App) error {
				state := filter.Decode(strings.TrimPrefix(filterFlag, "?"))
				c, err := a.Recordings.List(cmd.Context(), state, a.Language(), pages)
				if err != nil {
					return fmt.Errorf("failed to list recordings: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(c.Items) == 0 {
					fmt.Fprintln(out, "No recordings match")
					return nil
				}
				rows := make([][]string, 0, len(c.Items))
				for _, r := range c.Items {
					rows = append(rows, []string{
						r.ID,
						r.RadioStation,
						r.State,
						formatTime(r.RecordedAt),
						strconv.Itoa(r.SnippetCount),
						yesNo(r.Starred),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{Header: "ID"},
					{Header: "Station", MaxWidth: 32},
					{Header: "State"},
					{Header: "Recorded"},
					{Header: "Snippets", Align: alignRight},
					{Header: "Starred"},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filterFlag, "filter", "", "Filters as a query string")
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of pages to fetch")
	return cmd
}

func labelTexts(labels []domain.Label) string {
	texts := make([]string, 0, len(labels))
	for _, l := range labels {
		texts = append(texts, l.Text)
	}
	return strings.Join(texts, ", ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}
