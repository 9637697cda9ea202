package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"charm.land/bubbles/v2/progress"
	"github.com/rajeee/chatdf/internal/client"
	"github.com/rajeee/chatdf/internal/metrics"
)

// printStats displays session statistics collected during the command.
func printStats(w io.Writer, snap metrics.Snapshot) {
	fmt.Fprintf(w, "\nSession Statistics\n")
	fmt.Fprintf(w, "═══════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	if len(snap.Counters) > 0 {
		names := make([]string, 0, len(snap.Counters))
		for name := range snap.Counters {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintf(w, "\nCounters:\n")
		for _, name := range names {
			fmt.Fprintf(w, "  %-17s %d\n", name, snap.Counters[name])
		}
	}

	if snap.Dial != nil {
		fmt.Fprintf(w, "\nDial:\n")
		printOpStats(w, snap.Dial)
	}

	if snap.Stream != nil {
		fmt.Fprintf(w, "\nStreamed Messages:\n")
		printOpStats(w, snap.Stream)
		printTokenStats(w, snap.Stream)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Count: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(w io.Writer, op *metrics.OperationSnapshot) {
	if op.TotalContentTokens == nil || op.TotalReasoningTokens == nil {
		return
	}
	fmt.Fprintf(w, "  Content tokens:   %d total", *op.TotalContentTokens)
	if op.AvgContentTokens != nil {
		fmt.Fprintf(w, ", avg %.0f", *op.AvgContentTokens)
	}
	if op.MaxContentTokens != nil {
		fmt.Fprintf(w, ", max %d", *op.MaxContentTokens)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Reasoning tokens: %d total\n", *op.TotalReasoningTokens)
}

// printUsage fetches and displays the daily token usage. Failures are
// reported inline; usage is informational.
func printUsage(ctx context.Context, w io.Writer, rt *runtime) {
	u, err := rt.api.Usage(ctx)
	if err != nil {
		fmt.Fprintf(w, "\n%s\n", defaultTheme.hintStyle().Render("usage unavailable: "+err.Error()))
		return
	}
	fmt.Fprintf(w, "\nDaily Usage:\n  %s\n", renderUsage(u, rt.dispatcher.Usage().DailyLimitReached()))
}

// renderUsage formats usage as a bar with counts.
func renderUsage(u *client.Usage, limitReached bool) string {
	var pct float64
	if u.TokenLimit > 0 {
		pct = float64(u.TokensUsed) / float64(u.TokenLimit)
	}
	if pct > 1 {
		pct = 1
	}

	bar := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(30),
	)
	line := fmt.Sprintf("%s %d/%d tokens", bar.ViewAs(pct), u.TokensUsed, u.TokenLimit)
	if limitReached {
		line += " " + defaultTheme.errorStyle().Render("daily limit reached")
	}
	return line
}
