// Package session assembles streamed assistant output into finalized
// chat messages.
//
// A State holds at most one in-progress message. Tokens are appended in
// arrival order; the producer is trusted to deliver them in order and to
// finish reasoning before content. Finalizing, failing or resetting always
// returns the State to idle and clears any pending tool-call preview.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rajeee/chatdf/internal/metrics"
	"github.com/rajeee/chatdf/internal/models"
)

// Phase is the state of the streaming state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseReasoning Phase = "reasoning"
	PhaseContent   Phase = "content"
)

// Metadata is merged into a message when it is finalized.
type Metadata struct {
	// SQLQuery is the single-query form older servers send; it is used
	// only when SQLExecutions is empty.
	SQLQuery      *string
	SQLExecutions []models.SQLExecution
	Reasoning     *string
	ToolCallTrace []models.ToolCall
	Error         *string
}

// Snapshot is a read-only view of the in-progress message.
type Snapshot struct {
	Phase           Phase
	MessageID       string
	Content         string
	Reasoning       string
	PendingToolCall *models.ToolCall
	StartedAt       time.Time
	// LastError is the error text of the most recent failed stream.
	LastError string
}

// Active reports whether a message is streaming.
func (s Snapshot) Active() bool {
	return s.Phase != PhaseIdle
}

type stream struct {
	messageID       string
	content         strings.Builder
	reasoning       strings.Builder
	reasoningPhase  bool
	startedAt       time.Time
	contentTokens   int64
	reasoningTokens int64
}

// State is the streaming session state machine.
type State struct {
	store   *Store
	metrics *metrics.Collector
	now     func() time.Time

	mu          sync.Mutex
	active      *stream
	pendingTool *models.ToolCall
	lastError   string

	subsMu   sync.RWMutex
	onChange []func(Snapshot)
}

// NewState creates an idle State that finalizes into store.
func NewState(store *Store, m *metrics.Collector) *State {
	return &State{store: store, metrics: m, now: time.Now}
}

// OnChange registers a subscriber called after every mutation.
func (s *State) OnChange(cb func(Snapshot)) {
	s.subsMu.Lock()
	s.onChange = append(s.onChange, cb)
	s.subsMu.Unlock()
}

// Store returns the store finalized messages are appended to.
func (s *State) Store() *Store {
	return s.store
}

// BeginIfNeeded opens a session for messageID unless one is active.
// An empty messageID gets a generated one. Reports whether a session was opened.
func (s *State) BeginIfNeeded(messageID string) bool {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return false
	}
	if messageID == "" {
		messageID = uuid.New().String()
	}
	s.active = &stream{messageID: messageID, startedAt: s.now()}
	s.lastError = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

// AppendReasoning adds text to the reasoning buffer of the active session.
func (s *State) AppendReasoning(text string) {
	s.mutate(func(st *stream) {
		st.reasoning.WriteString(text)
		st.reasoningTokens++
	})
}

// AppendContent adds text to the answer buffer of the active session.
func (s *State) AppendContent(text string) {
	s.mutate(func(st *stream) {
		st.content.WriteString(text)
		st.contentTokens++
	})
}

// SetReasoningPhase marks whether incoming text is reasoning.
func (s *State) SetReasoningPhase(on bool) {
	s.mutate(func(st *stream) {
		st.reasoningPhase = on
	})
}

// SetPendingToolCall records an in-flight tool preview; nil clears it.
func (s *State) SetPendingToolCall(call *models.ToolCall) {
	s.mu.Lock()
	if call != nil {
		c := *call
		s.pendingTool = &c
	} else {
		s.pendingTool = nil
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Finalize turns the active buffers into a message, appends it to the
// store and returns to idle. Without an active session it does nothing.
func (s *State) Finalize(meta Metadata) (models.Message, bool) {
	s.mu.Lock()
	st := s.active
	if st == nil {
		s.mu.Unlock()
		return models.Message{}, false
	}
	s.active = nil
	s.pendingTool = nil
	if meta.Error != nil {
		s.lastError = *meta.Error
	}
	finishedAt := s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	// Clone detaches the message from slices and pointers the caller still holds.
	msg := models.Message{
		ID:            st.messageID,
		Role:          models.RoleAssistant,
		Content:       st.content.String(),
		SQLExecutions: meta.SQLExecutions,
		ToolCallTrace: meta.ToolCallTrace,
		Error:         meta.Error,
		CreatedAt:     st.startedAt,
	}.Clone()
	if len(msg.SQLExecutions) == 0 && meta.SQLQuery != nil && *meta.SQLQuery != "" {
		msg.SQLExecutions = []models.SQLExecution{{Query: *meta.SQLQuery}}
	}
	if st.reasoning.Len() > 0 {
		r := st.reasoning.String()
		msg.Reasoning = &r
	} else if meta.Reasoning != nil && *meta.Reasoning != "" {
		r := *meta.Reasoning
		msg.Reasoning = &r
	}

	s.metrics.RecordStream(finishedAt.Sub(st.startedAt), st.reasoningTokens, st.contentTokens)
	s.store.Append(msg)
	s.notify(snap)
	return msg.Clone(), true
}

// Fail ends the active session with errText, keeping whatever was
// streamed so far. The error is remembered even when nothing was streaming.
func (s *State) Fail(errText string) (models.Message, bool) {
	s.metrics.Inc(metrics.CounterStreamErrors)

	msg, ok := s.Finalize(Metadata{Error: &errText})
	if ok {
		return msg, true
	}

	s.mu.Lock()
	s.lastError = errText
	s.pendingTool = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return models.Message{}, false
}

// Reset discards the active session and any pending tool call.
func (s *State) Reset() {
	s.mu.Lock()
	s.active = nil
	s.pendingTool = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Active reports whether a message is streaming.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// LastError returns the error text of the most recent failed stream.
func (s *State) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Snapshot returns the current view of the in-progress message.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// mutate applies f to the active session; a no-op when idle.
func (s *State) mutate(f func(*stream)) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return
	}
	f(s.active)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{Phase: PhaseIdle, LastError: s.lastError}
	if s.pendingTool != nil {
		c := *s.pendingTool
		snap.PendingToolCall = &c
	}
	st := s.active
	if st == nil {
		return snap
	}
	snap.MessageID = st.messageID
	snap.Content = st.content.String()
	snap.Reasoning = st.reasoning.String()
	snap.StartedAt = st.startedAt
	if st.reasoningPhase {
		snap.Phase = PhaseReasoning
	} else {
		snap.Phase = PhaseContent
	}
	return snap
}

func (s *State) notify(snap Snapshot) {
	s.subsMu.RLock()
	subs := s.onChange
	s.subsMu.RUnlock()
	for _, cb := range subs {
		cb(snap)
	}
}
