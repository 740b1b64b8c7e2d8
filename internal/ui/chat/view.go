package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// inputHeight is the textarea pane height including its border.
const inputHeight = 5

var (
	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#2F6F4F", Dark: "#8EC07C"})

	agentLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#1D5FBF", Dark: "#54A0FF"})

	observerLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFB347"})

	systemStyle = lipgloss.NewStyle().
			Faint(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#777777", Dark: "#999999"})

	timestampStyle = lipgloss.NewStyle().
			Faint(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#1D5FBF", Dark: "#54A0FF"})

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.AdaptiveColor{Light: "#AAAAAA", Dark: "#555555"})
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	status := " "
	if m.busy {
		status = m.spin.View() + " thinking... (ctrl+c to stop)"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.vp.View(),
		systemStyle.Render(status),
		inputBorderStyle.Width(max(m.width-2, 1)).Render(m.input.View()),
	)
}

// renderTranscript renders all entries to one scrollable block.
func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return systemStyle.Render("No messages yet. Type below and press enter.")
	}

	wrapW := max(m.width-2, 20)
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderEntry(e, wrapW))
	}
	return b.String()
}

func (m Model) renderEntry(e entry, wrapW int) string {
	ts := timestampStyle.Render(e.at.Format("15:04"))

	switch e.role {
	case roleUser:
		return userLabelStyle.Render("You") + " " + ts + "\n" + wordwrap.String(e.text, wrapW)

	case roleAgent:
		header := agentLabelStyle.Render("Agent") + " " + ts
		body := e.text
		if e.stream {
			// Partial text while the turn runs; no markdown pass so
			// half-open fences don't mangle the transcript.
			if body == "" {
				return header
			}
			return header + "\n" + wordwrap.String(body, wrapW)
		}
		if m.renderMD && m.md != nil {
			body = m.md.Render(body)
		} else {
			body = wordwrap.String(body, wrapW)
		}
		return header + "\n" + body

	case roleObserver:
		header := observerLabelStyle.Render("["+e.label+"]") + " " + ts
		return header + "\n" + wordwrap.String(e.text, wrapW)

	default:
		return systemStyle.Render(wordwrap.String(e.text, wrapW))
	}
}
