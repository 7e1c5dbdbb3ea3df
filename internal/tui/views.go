package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/filter"
	"github.com/mmcdole/verdad/internal/search"
	"github.com/mmcdole/verdad/internal/tui/styles"
)

// View renders the application
func (m Model) View() string {
	if !m.Ready {
		return "Loading..."
	}

	if m.State == StateHelp {
		return m.renderHelp()
	}

	if m.InputModal.IsVisible() {
		return lipgloss.Place(m.Width, m.Height,
			lipgloss.Center, lipgloss.Center,
			m.InputModal.View())
	}

	height := m.listHeight()
	var body string
	if m.ShowDetail {
		listWidth := m.Width * ListPercent / 100
		detailWidth := m.Width - listWidth
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderList(listWidth, height),
			m.renderDetail(detailWidth, height),
		)
	} else {
		body = m.renderList(m.Width, height)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderFilterLine(),
		body,
		m.renderFooter(),
	)
}

// renderHeader renders the title bar with language and sort
func (m Model) renderHeader() string {
	left := styles.AccentStyle.Bold(true).Render("VERDAD")
	right := styles.DimStyle.Render(fmt.Sprintf("%s · %s", m.Language, sortOrDefault(m.Filter.Sort)))

	count := len(m.Collection.Items)
	var total string
	switch {
	case m.Collection.TotalCount > 0:
		total = fmt.Sprintf("%d of %d", count, m.Collection.TotalCount)
	case m.Collection.Loaded:
		total = fmt.Sprintf("%d loaded", count)
	}
	center := styles.SubtitleStyle.Render(total)

	gap := m.Width - lipgloss.Width(left) - lipgloss.Width(center) - lipgloss.Width(right)
	if gap < 2 {
		return left + " " + right
	}
	leftPad := gap / 2
	return left + strings.Repeat(" ", leftPad) + center + strings.Repeat(" ", gap-leftPad) + right
}

// renderFilterLine shows active filters and the local filter query
func (m Model) renderFilterLine() string {
	var parts []string
	if enc := filter.Encode(m.Filter.Filters()); enc != "" {
		parts = append(parts, styles.AccentStyle.Render("filters: ")+styles.SubtitleStyle.Render(enc))
	} else {
		parts = append(parts, styles.DimStyle.Render("no filters"))
	}
	if term := m.Filter.SearchTerm; term != "" {
		parts = append(parts, styles.AccentStyle.Render("search: ")+styles.SubtitleStyle.Render(term))
	}
	if m.LocalQuery != "" {
		parts = append(parts, styles.AccentStyle.Render("/ ")+styles.SubtitleStyle.Render(m.LocalQuery)+
			styles.DimStyle.Render(fmt.Sprintf(" (%d)", len(m.Results))))
	}
	return lipgloss.NewStyle().MaxWidth(m.Width).Render(strings.Join(parts, "  "))
}

// renderList renders the visible window of snippet rows
func (m Model) renderList(width, height int) string {
	rows := m.rows()
	if len(rows) == 0 {
		var msg string
		switch {
		case m.Collection.Loading:
			msg = RenderSpinner(m.SpinnerFrame) + " Loading snippets..."
		case m.Collection.Err != nil:
			msg = RenderError(m.Collection.Err, width)
		case m.LocalQuery != "":
			msg = styles.DimStyle.Render("No loaded snippets match")
		default:
			msg = styles.DimStyle.Render("No snippets")
		}
		return lipgloss.NewStyle().Width(width).Height(height).Render(msg)
	}

	end := min(m.Offset+height, len(rows))
	lines := make([]string, 0, height)
	for i := m.Offset; i < end; i++ {
		lines = append(lines, m.renderRow(rows[i], i == m.Cursor, width))
	}
	if m.Collection.FetchingNext && len(lines) < height {
		lines = append(lines, " "+RenderSpinner(m.SpinnerFrame)+styles.DimStyle.Render(" loading more..."))
	}
	return lipgloss.NewStyle().Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

// renderRow renders one snippet as a list row
func (m Model) renderRow(r search.Result, selected bool, width int) string {
	s := r.Snippet

	star := styles.NoStar
	if s.Starred {
		star = styles.Star
	}
	vote := " "
	switch s.Vote() {
	case domain.Like:
		vote = styles.Liked
	case domain.Dislike:
		vote = styles.Disliked
	}
	pending := " "
	if m.queries.Pending(s.ID) {
		pending = styles.Pending
	}

	meta := strings.TrimSpace(fmt.Sprintf("%s %s", s.SourceCode, formatRecordedAt(s)))
	var labels []string
	for _, l := range s.Labels {
		labels = append(labels, l.Text)
	}
	suffix := ""
	if len(labels) > 0 {
		suffix = " [" + strings.Join(labels, ", ") + "]"
	}

	// Marker columns and padding
	titleWidth := width - 8 - lipgloss.Width(meta) - lipgloss.Width(suffix)
	if titleWidth < 10 {
		suffix = ""
		titleWidth = width - 8 - lipgloss.Width(meta)
	}
	title := s.Title
	if title == "" {
		title = s.ID
	}
	truncated := styles.Truncate(title, titleWidth)
	if truncated == title {
		title = styles.HighlightMatches(title, r.MatchedIndexes, selected)
	} else {
		title = truncated
	}

	style := styles.NormalItemStyle
	switch {
	case selected:
		style = styles.SelectedItemStyle
	case s.Hidden:
		style = styles.HiddenItemStyle
	}

	line := fmt.Sprintf(" %s%s%s %s%s", star, vote, pending, styles.Pad(title, titleWidth), styles.DimStyle.Render(suffix))
	line = styles.Pad(line, width-lipgloss.Width(meta)-1) + styles.DimStyle.Render(meta)
	return style.Width(width).MaxWidth(width).Render(line)
}

// renderDetail renders the selected snippet's full record
func (m Model) renderDetail(width, height int) string {
	s, ok := m.Selected()
	if !ok {
		return styles.InactiveBorder.Width(width - 2).Height(height - 2).Render(styles.DimStyle.Render("No snippet selected"))
	}

	inner := width - 4
	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render(wordWrap(s.Title, inner)))
	b.WriteString("\n")
	b.WriteString(styles.SubtitleStyle.Render(strings.Join(nonEmpty(s.SourceName, s.State, formatRecordedAt(s), s.Duration), " · ")))
	b.WriteString("\n\n")

	status := []string{fmt.Sprintf("%s %d  %s %d  comments %d", styles.LikeChar, s.LikeCount, styles.DislikeChar, s.DislikeCount, s.CommentCount)}
	if s.Starred {
		status = append(status, styles.Star+" starred")
	}
	if s.Hidden {
		status = append(status, styles.DimStyle.Render("hidden"))
	}
	if v := s.Vote(); v != domain.NoVote {
		status = append(status, v.String())
	}
	if m.queries.Pending(s.ID) {
		status = append(status, styles.DimStyle.Render("saving..."))
	}
	b.WriteString(strings.Join(status, "  "))
	b.WriteString("\n")
	b.WriteString(styles.DimStyle.Render(fmt.Sprintf("confidence %d%%  leaning %+.1f", s.ConfidenceScore, s.PoliticalLeaning)))
	b.WriteString("\n\n")

	if s.Summary != "" {
		b.WriteString(wordWrap(s.Summary, inner))
		b.WriteString("\n\n")
	}
	if s.Explanation != "" {
		b.WriteString(styles.AccentStyle.Render("Why flagged"))
		b.WriteString("\n")
		b.WriteString(styles.SubtitleStyle.Render(wordWrap(s.Explanation, inner)))
		b.WriteString("\n\n")
	}

	if len(s.Labels) > 0 {
		b.WriteString(styles.AccentStyle.Render("Labels"))
		b.WriteString("\n")
		for _, l := range s.Labels {
			mark := " "
			if l.UpvotedByMe {
				mark = styles.Liked
			}
			b.WriteString(fmt.Sprintf("%s %s %s\n", mark, styles.LabelBadgeStyle.Render(l.Text), styles.DimStyle.Render(fmt.Sprintf("%d", l.UpvoteCount))))
		}
	}

	return styles.ActiveBorder.
		Width(width - 2).
		Height(height - 2).
		MaxHeight(height).
		Padding(0, 1).
		Render(b.String())
}

// renderFooter renders the status bar
func (m Model) renderFooter() string {
	var left string
	switch {
	case m.StatusMsg != "":
		if m.StatusIsErr {
			left = styles.ErrorStyle.Render(m.StatusMsg)
		} else {
			left = styles.SuccessStyle.Render(m.StatusMsg)
		}
	case m.Collection.Loading || m.Collection.FetchingNext:
		left = RenderSpinner(m.SpinnerFrame) + " " + styles.DimStyle.Render("Loading...")
	case m.Collection.Stale:
		left = styles.DimStyle.Render("Refreshing...")
	}

	hints := []string{
		hint(Keys.Star), hint(Keys.Like), hint(Keys.Hide), hint(Keys.AddLabel), hint(Keys.Play),
	}
	center := strings.Join(hints, "  ")
	right := styles.HelpKeyStyle.Render("?") + styles.HelpDescStyle.Render(" help")

	leftWidth := lipgloss.Width(left)
	centerWidth := lipgloss.Width(center)
	rightWidth := lipgloss.Width(right)

	if leftWidth+centerWidth+rightWidth >= m.Width {
		gap := max(m.Width-leftWidth-rightWidth, 0)
		return left + strings.Repeat(" ", gap) + right
	}

	available := m.Width - leftWidth - rightWidth
	leftPad := (available - centerWidth) / 2
	rightPad := available - centerWidth - leftPad
	return left + strings.Repeat(" ", leftPad) + center + strings.Repeat(" ", rightPad) + right
}

// renderHelp renders the help screen
func (m Model) renderHelp() string {
	help := `
NAVIGATION                      SNIPPET
  j/k        Up/down               s      Star / unstar
  g/G        First/last            +/-    Like / dislike
  PgUp/PgDn  Scroll page           x      Hide / unhide
  Enter      Details               a      Add label
                                   v      Upvote top label
VIEW                               p      Play audio
  /          Filter loaded
  f          Edit filters        OTHER
  c          Clear filters         r      Refresh
  o          Cycle sort            q      Quit
  L          Toggle language       ?      This help
                                   Esc    Close / Cancel

Press any key to return...
`

	return lipgloss.Place(m.Width, m.Height,
		lipgloss.Center, lipgloss.Center,
		styles.ModalStyle.Render(help))
}

func hint(b key.Binding) string {
	h := b.Help()
	return styles.HelpKeyStyle.Render(h.Key) + " " + styles.HelpDescStyle.Render(h.Desc)
}

func sortOrDefault(s filter.SortOrder) filter.SortOrder {
	if s == "" {
		return filter.DefaultSort
	}
	return s
}

func formatRecordedAt(s domain.Snippet) string {
	if s.RecordedAt.IsZero() {
		return ""
	}
	return s.RecordedAt.Local().Format("Jan 2 15:04")
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// wordWrap wraps text at word boundaries
func wordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	words := strings.Fields(text)
	lineLen := 0

	for i, word := range words {
		wordLen := lipgloss.Width(word)

		if lineLen+wordLen+1 > width && lineLen > 0 {
			result.WriteString("\n")
			lineLen = 0
		}

		if i > 0 && lineLen > 0 {
			result.WriteString(" ")
			lineLen++
		}

		result.WriteString(word)
		lineLen += wordLen
	}

	return result.String()
}

// RenderSpinner renders a loading spinner
func RenderSpinner(frame int) string {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	return styles.SpinnerStyle.Render(frames[frame%len(frames)])
}

// RenderError renders an error message
func RenderError(err error, width int) string {
	msg := wordWrap(err.Error(), width-4)
	return styles.ErrorStyle.Render("Error: " + msg)
}
