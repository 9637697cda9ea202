package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rajeee/chatdf/internal/models"
	"github.com/rajeee/chatdf/internal/transport"
	"github.com/spf13/cobra"
)

var (
	listenRaw       bool
	listenKeepalive time.Duration
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print server events and connection changes",
	Long: `Open the real-time session and print every event the server pushes,
along with connection status changes, until interrupted.

Useful to watch dataset loading, usage updates and answers produced by
another client sharing the same session.

Examples:
  chatdf listen
  chatdf listen --raw`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().BoolVar(&listenRaw, "raw", false, "print the full JSON of each event")
	listenCmd.Flags().DurationVar(&listenKeepalive, "keepalive", 0, "send a ping frame at this interval (0 disables)")
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	listen(ctx, rt, cmd.OutOrStdout(), listenOptions{raw: listenRaw, keepalive: listenKeepalive})
	return nil
}

type listenOptions struct {
	raw       bool
	keepalive time.Duration
}

// pingFrame is sent on --keepalive; the backend answers with a pong event.
var pingFrame = map[string]string{"type": "ping"}

// listen prints events from rt until ctx is done. Invalidated usage and
// conversation caches are refetched and printed.
func listen(ctx context.Context, rt *runtime, out io.Writer, opts listenOptions) {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}
	stamp := func() string { return time.Now().Format("15:04:05") }
	theme := defaultTheme

	rt.transport.OnStatus(func(s transport.Status) {
		printf("%s %s\n", stamp(), theme.statusStyle().Render("status "+string(s)))
	})
	rt.transport.OnClose(func(ev transport.CloseEvent) {
		line := fmt.Sprintf("closed code=%d", ev.Code)
		if ev.Reason != "" {
			line += " reason=" + ev.Reason
		}
		if ev.RetryIn > 0 {
			line += " retry_in=" + ev.RetryIn.String()
		}
		printf("%s %s\n", stamp(), theme.hintStyle().Render(line))
	})
	rt.transport.OnError(func(err error) {
		printf("%s %s\n", stamp(), theme.errorStyle().Render("error "+err.Error()))
	})
	rt.transport.OnMessage(func(f transport.Frame) {
		if opts.raw {
			printf("%s %s\n", stamp(), string(f.Raw))
			return
		}
		printf("%s %s\n", stamp(), summarizeFrame(f))
	})
	rt.state().Store().OnAppend(func(m models.Message) {
		printf("%s %s\n", stamp(), theme.completedStyle().Render(fmt.Sprintf("message %s (%s, %d chars)", m.ID, m.Role, len(m.Content))))
	})

	rt.dispatcher.Usage().OnInvalidate(func(uint64) {
		go func() {
			u, err := rt.api.Usage(ctx)
			if err != nil {
				rt.logger.Debug("refresh usage", "error", err)
				return
			}
			printf("%s usage %s\n", stamp(), renderUsage(u, rt.dispatcher.Usage().DailyLimitReached()))
		}()
	})
	rt.dispatcher.Conversations().OnInvalidate(func(uint64) {
		go func() {
			convs, err := rt.api.ListConversations(ctx)
			if err != nil {
				rt.logger.Debug("refresh conversations", "error", err)
				return
			}
			for _, c := range convs {
				printf("%s conversation %s %q\n", stamp(), c.ID, c.Title)
			}
		}()
	})

	rt.transport.Connect(rt.cfg.Token)

	if opts.keepalive <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(opts.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Closed while reconnecting; the next tick retries.
			if err := rt.transport.Send(pingFrame); err != nil && !errors.Is(err, transport.ErrClosed) {
				rt.logger.Warn("send keepalive", "error", err)
			}
		}
	}
}

// summarizeFrame renders one frame on a single line.
func summarizeFrame(f transport.Frame) string {
	var fields struct {
		Token     string `json:"token"`
		Error     string `json:"error"`
		Tool      string `json:"tool"`
		DatasetID string `json:"dataset_id"`
		Dataset   struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"dataset"`
	}
	_ = f.Decode(&fields)

	typ := f.Type
	if typ == "" {
		typ = "(untyped)"
	}
	switch {
	case fields.Token != "":
		return fmt.Sprintf("%s %q", typ, fields.Token)
	case fields.Error != "":
		return fmt.Sprintf("%s error=%q", typ, fields.Error)
	case fields.Tool != "":
		return fmt.Sprintf("%s tool=%s", typ, fields.Tool)
	case fields.Dataset.ID != "":
		return fmt.Sprintf("%s dataset=%s (%s)", typ, fields.Dataset.ID, fields.Dataset.Name)
	case fields.DatasetID != "":
		return fmt.Sprintf("%s dataset=%s", typ, fields.DatasetID)
	}
	return typ
}
