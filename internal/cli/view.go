package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/rajeee/chatdf/internal/client"
	"github.com/rajeee/chatdf/internal/models"
	"github.com/rajeee/chatdf/internal/session"
	"github.com/rajeee/chatdf/internal/transport"
)

const tickInterval = 300 * time.Millisecond

// tickMsg animates the waiting indicator
type tickMsg time.Time

type statusMsg transport.Status

type snapshotMsg session.Snapshot

type answerMsg outcome

type usageMsg struct {
	usage *client.Usage
	err   error
}

// chatModel is the bubbletea model for a live answer.
type chatModel struct {
	question      string
	showReasoning bool
	theme         Theme
	width         int

	status   transport.Status
	snap     session.Snapshot
	usage    *client.Usage
	limit    bool
	frame    int
	final    *models.Message
	err      error
	done     bool
	quitting bool
}

func newChatModel(question string, showReasoning bool) chatModel {
	return chatModel{
		question:      question,
		showReasoning: showReasoning,
		theme:         defaultTheme,
		width:         terminalWidth(),
		status:        transport.StatusDisconnected,
	}
}

// Init starts the waiting animation.
func (m chatModel) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame++
		return m, tickCmd()

	case statusMsg:
		m.status = transport.Status(msg)

	case snapshotMsg:
		m.snap = session.Snapshot(msg)

	case usageMsg:
		if msg.err == nil {
			m.usage = msg.usage
		}

	case answerMsg:
		m.done = true
		if msg.err != nil {
			m.err = msg.err
		} else {
			final := msg.msg
			m.final = &final
		}
		return m, tea.Quit
	}

	return m, nil
}

// View renders the live answer.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m chatModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	var b strings.Builder
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	wrap := lipgloss.NewStyle().Width(m.width)
	if m.snap.Reasoning != "" && (m.showReasoning || m.snap.Phase == session.PhaseReasoning) {
		b.WriteString(wrap.Inherit(m.theme.reasoningStyle()).Render(m.snap.Reasoning))
		b.WriteString("\n\n")
	}

	if m.snap.Content != "" {
		b.WriteString(wrap.Render(m.snap.Content))
		b.WriteString("\n")
	} else {
		b.WriteString(m.theme.hintStyle().Render("thinking" + strings.Repeat(".", m.frame%4)))
		b.WriteString("\n")
	}

	if m.snap.PendingToolCall != nil {
		b.WriteString("\n")
		b.WriteString(m.theme.toolStyle().Render("⚙ " + formatToolCall(m.snap.PendingToolCall)))
		b.WriteString("\n")
	}

	if m.usage != nil {
		b.WriteString("\n")
		b.WriteString(renderUsage(m.usage, m.limit))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to stop the answer"))
	b.WriteString("\n")
	return b.String()
}

func (m chatModel) statusLine() string {
	label := fmt.Sprintf("[%s]", m.status)
	style := m.theme.statusStyle()
	switch m.status {
	case transport.StatusReconnecting, transport.StatusDisconnected:
		style = m.theme.errorStyle()
	}
	return style.Render(label) + " " + m.theme.hintStyle().Render("> "+m.question)
}

// finalView renders the completed answer.
func (m chatModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nAnswer stopped.\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	var b strings.Builder
	if m.final != nil {
		if m.showReasoning && m.final.Reasoning != nil {
			b.WriteString(m.theme.reasoningStyle().Render(*m.final.Reasoning))
			b.WriteString("\n\n")
		}
		b.WriteString(lipgloss.NewStyle().Width(m.width).Render(m.final.Content))
		b.WriteString("\n")
		writeMessageDetails(&b, m.theme, *m.final)
	}
	return b.String()
}

// tickCmd returns a command that sends a tick after the tick interval.
func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runLiveChat renders the answer with the live view. Quitting the view
// stops the answer on the backend.
func runLiveChat(ctx context.Context, rt *runtime, opts chatOptions, content string) (models.Message, error) {
	opts = opts.withDefaults()

	model := newChatModel(content, opts.showReasoning)
	model.limit = rt.dispatcher.Usage().DailyLimitReached()
	p := tea.NewProgram(model)

	rt.transport.OnStatus(func(s transport.Status) { p.Send(statusMsg(s)) })
	rt.state().OnChange(func(s session.Snapshot) { p.Send(snapshotMsg(s)) })
	rt.dispatcher.Usage().OnInvalidate(func(uint64) {
		go func() {
			u, err := rt.api.Usage(ctx)
			p.Send(usageMsg{usage: u, err: err})
		}()
	})
	answer := rt.watchAnswer()

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		msg, err := streamAnswer(runCtx, rt, opts, content, answer)
		p.Send(answerMsg{msg: msg, err: err})
	}()

	finalModel, err := p.Run()
	cancel()
	wg.Wait()
	if err != nil {
		return models.Message{}, fmt.Errorf("live view error: %w", err)
	}

	m, ok := finalModel.(chatModel)
	if !ok || m.quitting {
		return models.Message{}, nil
	}
	if m.err != nil {
		return models.Message{}, m.err
	}
	if m.final == nil {
		return models.Message{}, nil
	}
	return *m.final, nil
}

// streamAnswer connects, asks and waits for the answer without rendering.
func streamAnswer(ctx context.Context, rt *runtime, opts chatOptions, content string, answer <-chan outcome) (models.Message, error) {
	connectCtx, cancel := context.WithTimeout(ctx, opts.connectTimeout)
	defer cancel()
	if err := rt.connect(connectCtx); err != nil {
		return models.Message{}, err
	}

	conversationID, err := rt.ask(ctx, opts.conversationID, content)
	if err != nil {
		return models.Message{}, err
	}
	return awaitAnswer(ctx, rt, conversationID, answer, opts.answerTimeout)
}
