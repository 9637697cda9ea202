// Package dispatch routes parsed server frames to the streaming session
// and the collaborator stores.
package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/rajeee/chatdf/internal/metrics"
	"github.com/rajeee/chatdf/internal/models"
	"github.com/rajeee/chatdf/internal/session"
	"github.com/rajeee/chatdf/internal/stores"
	"github.com/rajeee/chatdf/internal/transport"
)

// Dependencies holds the state a Dispatcher mutates.
type Dependencies struct {
	State         *session.State
	Datasets      *stores.Datasets
	Usage         *stores.UsageCache
	Conversations *stores.ConversationCache
	Logger        *slog.Logger
	Metrics       *metrics.Collector
}

// Source is the subset of a transport a Dispatcher subscribes to.
type Source interface {
	OnMessage(func(transport.Frame))
	OnOpen(func())
}

type handler func(transport.Frame) error

// Dispatcher switches on the frame type and applies exactly one update
// per recognized frame.
type Dispatcher struct {
	deps     Dependencies
	handlers map[FrameType]handler
}

// New creates a Dispatcher. Nil stores are replaced with empty ones.
func New(deps Dependencies) *Dispatcher {
	if deps.State == nil {
		deps.State = session.NewState(session.NewStore(), deps.Metrics)
	}
	if deps.Datasets == nil {
		deps.Datasets = stores.NewDatasets()
	}
	if deps.Usage == nil {
		deps.Usage = stores.NewUsageCache()
	}
	if deps.Conversations == nil {
		deps.Conversations = stores.NewConversationCache()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	d := &Dispatcher{deps: deps}
	d.handlers = map[FrameType]handler{
		FrameReasoningToken:           d.reasoningToken,
		FrameReasoningComplete:        d.reasoningComplete,
		FrameChatToken:                d.chatToken,
		FrameChatComplete:             d.chatComplete,
		FrameChatError:                d.chatError,
		FrameToolCallStart:            d.toolCallStart,
		FrameToolCallStartShort:       d.toolCallStart,
		FrameDatasetLoaded:            d.datasetLoaded,
		FrameDatasetError:             d.datasetError,
		FrameUsageUpdate:              d.usageUpdate,
		FrameRateLimitWarning:         d.rateLimitWarning,
		FrameConversationTitleUpdated: d.conversationTitleUpdated,
	}
	return d
}

// State returns the session state the dispatcher drives.
func (d *Dispatcher) State() *session.State { return d.deps.State }

// Datasets returns the dataset registry.
func (d *Dispatcher) Datasets() *stores.Datasets { return d.deps.Datasets }

// Usage returns the usage cache.
func (d *Dispatcher) Usage() *stores.UsageCache { return d.deps.Usage }

// Conversations returns the conversation list cache.
func (d *Dispatcher) Conversations() *stores.ConversationCache { return d.deps.Conversations }

// Attach subscribes the dispatcher to src. A (re)open while a message is
// streaming discards the partial message, since the server does not resume it.
func (d *Dispatcher) Attach(src Source) {
	src.OnMessage(func(f transport.Frame) {
		if err := d.Dispatch(f); err != nil {
			d.deps.Logger.Debug("frame ignored", "type", f.Type, "error", err)
		}
	})
	src.OnOpen(d.handleOpen)
}

// Dispatch applies f. Unknown types are a no-op; a recognized type whose
// payload does not decode returns an error and changes nothing.
func (d *Dispatcher) Dispatch(f transport.Frame) error {
	h, ok := d.handlers[FrameType(f.Type)]
	if !ok {
		d.deps.Metrics.Inc(metrics.CounterFramesUnknown)
		d.deps.Logger.Debug("unknown frame type", "type", f.Type)
		return nil
	}
	return h(f)
}

func (d *Dispatcher) handleOpen() {
	snap := d.deps.State.Snapshot()
	if !snap.Active() && snap.PendingToolCall == nil {
		return
	}
	d.deps.Logger.Info("discarding partial message after reconnect",
		"message_id", snap.MessageID, "content_len", len(snap.Content))
	d.deps.State.Reset()
}

func decode[T any](f transport.Frame) (T, error) {
	var v T
	if err := f.Decode(&v); err != nil {
		return v, fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return v, nil
}

func (d *Dispatcher) reasoningToken(f transport.Frame) error {
	p, err := decode[TokenPayload](f)
	if err != nil {
		return err
	}
	d.deps.State.BeginIfNeeded(p.MessageID)
	d.deps.State.SetReasoningPhase(true)
	d.deps.State.AppendReasoning(p.Token)
	return nil
}

func (d *Dispatcher) reasoningComplete(transport.Frame) error {
	d.deps.State.SetReasoningPhase(false)
	return nil
}

func (d *Dispatcher) chatToken(f transport.Frame) error {
	p, err := decode[TokenPayload](f)
	if err != nil {
		return err
	}
	d.deps.State.BeginIfNeeded(p.MessageID)
	d.deps.State.AppendContent(p.Token)
	return nil
}

func (d *Dispatcher) chatComplete(f transport.Frame) error {
	p, err := decode[ChatCompletePayload](f)
	if err != nil {
		return err
	}
	msg, ok := d.deps.State.Finalize(session.Metadata{
		SQLQuery:      p.SQLQuery,
		SQLExecutions: p.SQLExecutions,
		Reasoning:     p.Reasoning,
		ToolCallTrace: p.ToolCallTrace,
	})
	if ok {
		d.deps.Logger.Debug("message finalized", "message_id", msg.ID, "executions", len(msg.SQLExecutions))
	}
	return nil
}

func (d *Dispatcher) chatError(f transport.Frame) error {
	p, err := decode[ChatErrorPayload](f)
	if err != nil {
		return err
	}
	d.deps.Logger.Warn("chat error", "error", p.Error)
	d.deps.State.Fail(p.Error)
	return nil
}

func (d *Dispatcher) toolCallStart(f transport.Frame) error {
	p, err := decode[ToolCallStartPayload](f)
	if err != nil {
		return err
	}
	d.deps.State.SetPendingToolCall(&models.ToolCall{Tool: p.Tool, Args: p.Args})
	return nil
}

func (d *Dispatcher) datasetLoaded(f transport.Frame) error {
	p, err := decode[DatasetLoadedPayload](f)
	if err != nil {
		return err
	}
	if !d.deps.Datasets.Upsert(p.Dataset) {
		return fmt.Errorf("decode %s: dataset without id", f.Type)
	}
	return nil
}

func (d *Dispatcher) datasetError(f transport.Frame) error {
	p, err := decode[DatasetErrorPayload](f)
	if err != nil {
		return err
	}
	if p.DatasetID == "" {
		return fmt.Errorf("decode %s: missing dataset_id", f.Type)
	}
	d.deps.Datasets.MarkError(p.DatasetID, p.Error)
	return nil
}

func (d *Dispatcher) usageUpdate(transport.Frame) error {
	d.deps.Usage.Invalidate()
	return nil
}

func (d *Dispatcher) rateLimitWarning(f transport.Frame) error {
	p, err := decode[RateLimitWarningPayload](f)
	if err != nil {
		return err
	}
	if p.DailyLimitReached {
		d.deps.Usage.SetDailyLimitReached(true)
	}
	d.deps.Usage.Invalidate()
	return nil
}

func (d *Dispatcher) conversationTitleUpdated(transport.Frame) error {
	d.deps.Conversations.Invalidate()
	return nil
}
