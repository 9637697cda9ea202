package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rajeee/chatdf/internal/models"
	"github.com/rajeee/chatdf/internal/session"
	"github.com/rajeee/chatdf/internal/transport"
)

// Theme holds the color scheme for chat output.
type Theme struct {
	Status    lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
	Tool      lipgloss.Color
	Reasoning lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:    lipgloss.Color("#5FAFD7"), // light blue
	Success:   lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
	Tool:      lipgloss.Color("#D7AF5F"), // amber
	Reasoning: lipgloss.Color("#8787AF"), // muted violet
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) toolStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Tool)
}

func (t Theme) reasoningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Reasoning).Italic(true)
}

// plainRenderer prints streamed text as deltas, for pipes and --plain.
type plainRenderer struct {
	mu            sync.Mutex
	out           io.Writer
	theme         Theme
	showReasoning bool

	reasoningLen int
	contentLen   int
	tool         string
	lastStatus   transport.Status
}

func newPlainRenderer(out io.Writer, showReasoning bool) *plainRenderer {
	return &plainRenderer{out: out, theme: defaultTheme, showReasoning: showReasoning}
}

func (r *plainRenderer) onChange(s session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.showReasoning && len(s.Reasoning) > r.reasoningLen {
		fmt.Fprint(r.out, r.theme.reasoningStyle().Render(s.Reasoning[r.reasoningLen:]))
		r.reasoningLen = len(s.Reasoning)
	}

	tool := ""
	if s.PendingToolCall != nil {
		tool = s.PendingToolCall.Tool
	}
	if tool != "" && tool != r.tool {
		fmt.Fprintf(r.out, "\n%s\n", r.theme.toolStyle().Render("⚙ "+formatToolCall(s.PendingToolCall)))
	}
	r.tool = tool

	if len(s.Content) > r.contentLen {
		if r.contentLen == 0 && r.reasoningLen > 0 {
			fmt.Fprintln(r.out)
		}
		fmt.Fprint(r.out, s.Content[r.contentLen:])
		r.contentLen = len(s.Content)
	}

	if !s.Active() {
		r.reasoningLen = 0
		r.contentLen = 0
	}
}

func (r *plainRenderer) onStatus(s transport.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Report drops and recoveries only.
	switch {
	case s == transport.StatusReconnecting && r.lastStatus != transport.StatusReconnecting:
		fmt.Fprintf(r.out, "\n%s\n", r.theme.errorStyle().Render("[connection lost, reconnecting]"))
	case s == transport.StatusConnected && r.lastStatus == transport.StatusReconnecting:
		fmt.Fprintf(r.out, "%s\n", r.theme.hintStyle().Render("[reconnected]"))
	}
	r.lastStatus = s
}

// finish prints the parts of msg that only exist once it is finalized.
func (r *plainRenderer) finish(msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out)
	writeMessageDetails(r.out, r.theme, msg)
}

// writeMessageDetails renders SQL executions and errors of a finalized message.
func writeMessageDetails(w io.Writer, theme Theme, msg models.Message) {
	for i, exec := range msg.SQLExecutions {
		fmt.Fprintf(w, "\n%s\n", theme.statusStyle().Render(fmt.Sprintf("SQL #%d", i+1)))
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimSpace(exec.Query), "\n", "\n  "))
		if exec.Error != nil {
			fmt.Fprintf(w, "  %s\n", theme.errorStyle().Render("✗ "+*exec.Error))
			continue
		}
		rows := len(exec.Rows)
		if exec.TotalRows != nil {
			rows = *exec.TotalRows
		}
		line := fmt.Sprintf("  → %d rows", rows)
		if len(exec.Columns) > 0 {
			line += fmt.Sprintf(" × %d columns (%s)", len(exec.Columns), strings.Join(exec.Columns, ", "))
		}
		if exec.ExecutionTimeMs != nil {
			line += fmt.Sprintf(" in %.0fms", *exec.ExecutionTimeMs)
		}
		fmt.Fprintln(w, theme.hintStyle().Render(line))
	}

	if msg.Error != nil {
		fmt.Fprintf(w, "\n%s\n", theme.errorStyle().Render("✗ "+*msg.Error))
	}
}

// formatToolCall renders a tool call as name(key=value, ...), keys sorted.
func formatToolCall(call *models.ToolCall) string {
	if call == nil {
		return ""
	}
	keys := make([]string, 0, len(call.Args))
	for k := range call.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(call.Args[k])
		if len(v) > 60 {
			v = v[:57] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, strings.ReplaceAll(v, "\n", " ")))
	}
	return fmt.Sprintf("%s(%s)", call.Tool, strings.Join(parts, ", "))
}
