package components

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mmcdole/verdad/internal/tui/styles"
)

const modalWidth = 48

// SuggestFunc returns completions for the current input
type SuggestFunc func(input string) []string

// InputModal is a single-line text input modal with optional completions
type InputModal struct {
	visible  bool
	title    string
	input    textinput.Model
	suggest  SuggestFunc
	matches  []string
	selected int
}

// NewInputModal creates a new input modal
func NewInputModal() InputModal {
	ti := textinput.New()
	ti.CharLimit = 200
	ti.Width = modalWidth - 2
	ti.Prompt = "> "
	ti.PromptStyle = styles.AccentStyle
	ti.TextStyle = lipgloss.NewStyle().Foreground(styles.White)
	ti.PlaceholderStyle = styles.DimStyle

	return InputModal{
		input: ti,
	}
}

// Show displays the modal with a title and an initial value
func (m *InputModal) Show(title, value, placeholder string, suggest SuggestFunc) {
	m.visible = true
	m.title = title
	m.suggest = suggest
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
	m.refresh()
}

// Hide dismisses the modal
func (m *InputModal) Hide() {
	m.visible = false
	m.suggest = nil
	m.matches = nil
	m.input.Blur()
}

// IsVisible returns whether the modal is shown
func (m InputModal) IsVisible() bool {
	return m.visible
}

// Value returns the current input value
func (m InputModal) Value() string {
	return m.input.Value()
}

// Suggestions returns the completions for the current input
func (m InputModal) Suggestions() []string {
	return m.matches
}

func (m *InputModal) refresh() {
	m.selected = 0
	if m.suggest == nil {
		m.matches = nil
		return
	}
	m.matches = m.suggest(m.input.Value())
}

// Update handles input events, returns (modal, cmd, submitted)
func (m InputModal) Update(msg tea.Msg) (InputModal, tea.Cmd, bool) {
	if !m.visible {
		return m, nil, false
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "enter":
			return m, nil, true
		case "esc":
			m.Hide()
			return m, nil, false
		case "tab":
			if len(m.matches) > 0 {
				m.input.SetValue(m.matches[m.selected])
				m.input.CursorEnd()
				m.refresh()
			}
			return m, nil, false
		case "up", "ctrl+p":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil, false
		case "down", "ctrl+n":
			if m.selected < len(m.matches)-1 {
				m.selected++
			}
			return m, nil, false
		}
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.refresh()
	}
	return m, cmd, false
}

// View renders the input modal
func (m InputModal) View() string {
	if !m.visible {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Foreground(styles.White).
		Bold(true).
		Width(modalWidth).
		Background(styles.SlateDark)

	lineStyle := lipgloss.NewStyle().
		Width(modalWidth).
		Background(styles.SlateDark)

	rows := []string{
		titleStyle.Render(m.title),
		lineStyle.Render(""),
		lineStyle.Render(m.input.View()),
	}

	if len(m.matches) > 0 {
		rows = append(rows, lineStyle.Render(""))
		for i, s := range m.matches {
			text := styles.Truncate(s, modalWidth-4)
			if i == m.selected {
				rows = append(rows, lineStyle.Render(styles.AccentStyle.Render("▸ "+text)))
			} else {
				rows = append(rows, lineStyle.Render(styles.DimStyle.Render("  "+text)))
			}
		}
		rows = append(rows, lineStyle.Render(styles.DimStyle.Render("  tab to complete")))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.Amber).
		Background(styles.SlateDark).
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
