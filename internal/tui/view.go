package tui

import (
	"strings"

	"TutorChat/internal/session"
)

// View renders the current screen
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Tutor Chat"))
	if m.sess.SessionID != "" {
		b.WriteString(" " + sessionStyle.Render("session "+m.sess.SessionID))
	}
	b.WriteString("\n\n")

	switch m.stage {
	case stageLoading, stageBootstrapping:
		b.WriteString(m.spinner.View() + " " + pendingStyle.Render("Starting a tutoring session..."))
		b.WriteString("\n")

	case stageFatal:
		b.WriteString(errorStyle.Render(m.fatal))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("ctrl+r try again • ctrl+c quit"))

	case stageProblem:
		b.WriteString(textStyle.Render("What problem would you like to work on?"))
		b.WriteString("\n\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
		if m.busy {
			b.WriteString(m.spinner.View() + " " + pendingStyle.Render("Sending your problem..."))
			b.WriteString("\n")
		}
		if m.problemErr != "" {
			b.WriteString(errorStyle.Render(m.problemErr))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter submit • ctrl+c quit"))

	case stageConversation, stageConfirmExit:
		b.WriteString(m.renderConversation())

	case stageExited:
		b.WriteString(textStyle.Render("Session ended. Goodbye!"))
	}

	return b.String()
}

func (m Model) renderConversation() string {
	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.stage == stageConfirmExit {
		b.WriteString(confirmStyle.Render(m.confirmPrompt + "  (y/n)"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	help := "enter send • pgup/pgdown scroll • ctrl+x end session • ctrl+c quit"
	if m.state.StartFailed || (m.state.Error != "" && len(m.state.Messages) == 0) {
		help = "ctrl+r retry • " + help
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

// renderLog renders the scrollable part of the conversation.
func (m Model) renderLog() string {
	var b strings.Builder

	for _, msg := range m.state.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n\n")
	}

	if m.state.Pending {
		b.WriteString(m.spinner.View() + " " + pendingStyle.Render("Tutor is thinking..."))
		b.WriteString("\n\n")
	}
	if m.state.Error != "" {
		b.WriteString(errorStyle.Render("⚠ " + m.state.Error))
		b.WriteString("\n\n")
	}
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderMessage(msg session.Message) string {
	body := textStyle
	if m.width > 20 {
		body = body.Width(m.width - 8)
	}

	switch msg.Sender {
	case session.SenderTutor:
		text := msg.Text
		if r, ok := m.reveals[msg.ID]; ok {
			text = r.Visible()
		}
		return tutorLabelStyle.Render("Tutor") + "\n" + body.Render(text)

	default:
		line := userLabelStyle.Render("You") + "\n" + body.Render(msg.Text)
		switch msg.Status {
		case session.StatusPending:
			line += "\n" + pendingStyle.Render("sending...")
		case session.StatusFailed:
			line += "\n" + errorStyle.Render("not delivered")
		}
		return line
	}
}
