package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rajeee/chatdf/internal/models"
	"github.com/spf13/cobra"
)

var (
	chatConversation   string
	chatPlain          bool
	chatShowReasoning  bool
	chatStats          bool
	chatConnectTimeout time.Duration
	chatAnswerTimeout  time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Ask a question and stream the answer",
	Long: `Ask a question about the datasets in a conversation and stream the answer.

Without --conversation a new conversation is created. On a terminal the
answer is rendered live; otherwise (or with --plain) tokens are printed as
they arrive. Ctrl+C asks the backend to stop answering.

Examples:
  chatdf chat "How many rows are in sales?"
  chatdf chat "Break it down by region" --conversation 3f2a...
  chatdf chat "Top 10 customers" --plain --reasoning --stats`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "reuse an existing conversation")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "print tokens without the live view")
	chatCmd.Flags().BoolVar(&chatShowReasoning, "reasoning", false, "also print the model's reasoning")
	chatCmd.Flags().BoolVar(&chatStats, "stats", false, "print session statistics afterwards")
	chatCmd.Flags().DurationVar(&chatConnectTimeout, "connect-timeout", 15*time.Second, "give up connecting after this long")
	chatCmd.Flags().DurationVar(&chatAnswerTimeout, "timeout", 5*time.Minute, "give up waiting for the answer after this long")
}

// wantsLiveView reports whether cmd will render with the live view.
func wantsLiveView(cmd *cobra.Command) bool {
	return cmd.Name() == "chat" && !chatPlain && isStdoutTTY()
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	opts := chatOptions{
		conversationID: chatConversation,
		showReasoning:  chatShowReasoning,
		connectTimeout: chatConnectTimeout,
		answerTimeout:  chatAnswerTimeout,
	}

	out := cmd.OutOrStdout()
	var msg models.Message
	if wantsLiveView(cmd) {
		msg, err = runLiveChat(ctx, rt, opts, args[0])
	} else {
		msg, err = chat(ctx, rt, opts, args[0], out)
	}
	if err == nil && msg.Error != nil {
		err = fmt.Errorf("%w: %s", errAnswerFailed, *msg.Error)
	}

	if chatStats {
		printStats(out, rt.metrics.Snapshot())
		printUsage(ctx, out, rt)
	}
	return err
}

type chatOptions struct {
	conversationID string
	showReasoning  bool
	connectTimeout time.Duration
	answerTimeout  time.Duration
}

func (o chatOptions) withDefaults() chatOptions {
	if o.connectTimeout <= 0 {
		o.connectTimeout = 15 * time.Second
	}
	if o.answerTimeout <= 0 {
		o.answerTimeout = 5 * time.Minute
	}
	return o
}

// chat connects, asks and streams the answer to out as plain text.
func chat(ctx context.Context, rt *runtime, opts chatOptions, content string, out io.Writer) (models.Message, error) {
	opts = opts.withDefaults()

	r := newPlainRenderer(out, opts.showReasoning)
	rt.state().OnChange(r.onChange)
	rt.transport.OnStatus(r.onStatus)
	answer := rt.watchAnswer()

	msg, err := streamAnswer(ctx, rt, opts, content, answer)
	if err != nil {
		return models.Message{}, err
	}
	r.finish(msg)
	return msg, nil
}

// awaitAnswer blocks until the answer is finalized. Cancellation or timeout
// asks the backend to stop.
func awaitAnswer(ctx context.Context, rt *runtime, conversationID string, answer <-chan outcome, timeout time.Duration) (models.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-answer:
		return o.msg, o.err
	case <-ctx.Done():
		rt.stop(conversationID)
		return models.Message{}, fmt.Errorf("wait for answer: %w", ctx.Err())
	case <-timer.C:
		rt.stop(conversationID)
		return models.Message{}, errors.New("wait for answer: timed out")
	}
}
