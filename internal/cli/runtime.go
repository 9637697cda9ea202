package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"sync"
	"sync/atomic"

	"github.com/rajeee/chatdf/internal/client"
	"github.com/rajeee/chatdf/internal/config"
	"github.com/rajeee/chatdf/internal/dispatch"
	"github.com/rajeee/chatdf/internal/metrics"
	"github.com/rajeee/chatdf/internal/models"
	"github.com/rajeee/chatdf/internal/session"
	"github.com/rajeee/chatdf/internal/transport"
)

// runtime wires the real-time session layer for one command invocation.
type runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	metrics    *metrics.Collector
	transport  *transport.Transport
	dispatcher *dispatch.Dispatcher
	api        *client.Client
}

func newRuntime(cfg config.Config, logger *slog.Logger) (*runtime, error) {
	env, err := transport.NewEnvironment(cfg.WSURL, cfg.PageURL)
	if err != nil {
		return nil, fmt.Errorf("resolve socket address: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	m := metrics.NewCollector()
	tr := transport.New(transport.Options{
		Environment: env,
		Dialer: transport.WebsocketDialer{
			Jar:              jar,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		Logger:         logger,
		Metrics:        m,
		BackoffFloor:   cfg.BackoffFloor,
		BackoffCeiling: cfg.BackoffCeiling,
	})

	d := dispatch.New(dispatch.Dependencies{Logger: logger, Metrics: m})
	d.Attach(tr)

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		transport:  tr,
		dispatcher: d,
		api:        client.New(cfg.APIURL, client.WithToken(cfg.Token), client.WithCookieJar(jar)),
	}, nil
}

func (r *runtime) state() *session.State { return r.dispatcher.State() }

// connect opens the transport and waits for the first open. Dial failures
// are retried by the transport until ctx expires.
func (r *runtime) connect(ctx context.Context) error {
	opened := make(chan struct{}, 1)
	r.transport.OnOpen(func() {
		select {
		case opened <- struct{}{}:
		default:
		}
	})

	r.transport.Connect(r.cfg.Token)
	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		r.transport.Disconnect()
		return fmt.Errorf("connect: %w", ctx.Err())
	}
}

func (r *runtime) close() {
	r.transport.Disconnect()
}

// outcome is how a streamed answer ended.
type outcome struct {
	msg models.Message
	err error
}

var (
	// errAnswerFailed wraps a chat_error that arrived before any token.
	errAnswerFailed = errors.New("answer failed")
	// errAnswerDiscarded reports a stream dropped by a reconnect; the
	// question has to be sent again.
	errAnswerDiscarded = errors.New("answer discarded after reconnect, send the message again")
)

// watchAnswer returns a channel that receives the first finalized assistant
// message, the error of a stream that failed before it started, or
// errAnswerDiscarded when a stream ends without either.
func (r *runtime) watchAnswer() <-chan outcome {
	done := make(chan outcome, 1)
	var once sync.Once
	send := func(o outcome) {
		once.Do(func() { done <- o })
	}

	r.state().Store().OnAppend(func(m models.Message) {
		if m.Role == models.RoleAssistant {
			send(outcome{msg: m})
		}
	})
	// Finalize appends before it notifies, so an idle snapshot after an
	// active one without an error means the stream was reset.
	var streaming atomic.Bool
	r.state().OnChange(func(s session.Snapshot) {
		if s.Active() {
			streaming.Store(true)
			return
		}
		wasStreaming := streaming.Swap(false)
		switch {
		case s.LastError != "":
			send(outcome{err: fmt.Errorf("%w: %s", errAnswerFailed, s.LastError)})
		case wasStreaming:
			send(outcome{err: errAnswerDiscarded})
		}
	})
	return done
}

// ask resolves the conversation, records the optimistic user message and
// posts it. The returned conversation id is the one used.
func (r *runtime) ask(ctx context.Context, conversationID, content string) (string, error) {
	if conversationID == "" {
		conv, err := r.api.CreateConversation(ctx)
		if err != nil {
			return "", err
		}
		conversationID = conv.ID
		r.logger.Info("conversation created", "conversation_id", conversationID)
	}

	msg := r.state().Store().AddUserMessage(content)
	if _, err := r.api.SendMessage(ctx, conversationID, content); err != nil {
		r.state().Store().MarkSendFailed(msg.ID)
		return conversationID, err
	}
	return conversationID, nil
}

// stop asks the backend to abort the answer; failures are only logged.
func (r *runtime) stop(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()
	if err := r.api.Stop(ctx, conversationID); err != nil {
		r.logger.Warn("stop request failed", "conversation_id", conversationID, "error", err)
	}
}
