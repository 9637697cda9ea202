package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rajeee/chatdf/internal/models"
)

// Store is the ordered list of finalized messages in one conversation.
// Messages are appended and never edited, except for the SendFailed flag
// on optimistic user messages.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	now      func() time.Time

	subsMu   sync.RWMutex
	onAppend []func(models.Message)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// OnAppend registers a subscriber called after each appended message.
func (s *Store) OnAppend(cb func(models.Message)) {
	s.subsMu.Lock()
	s.onAppend = append(s.onAppend, cb)
	s.subsMu.Unlock()
}

// AddUserMessage appends an optimistic user message and returns it.
func (s *Store) AddUserMessage(content string) models.Message {
	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.Append(msg)
	return msg
}

// Append adds a copy of a finalized message. Subscribers receive their
// own copy.
func (s *Store) Append(msg models.Message) {
	msg = msg.Clone()
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.subsMu.RLock()
	subs := s.onAppend
	s.subsMu.RUnlock()
	for _, cb := range subs {
		cb(msg.Clone())
	}
}

// MarkSendFailed flags an optimistic user message whose post failed.
// Reports whether a user message with that id exists.
func (s *Store) MarkSendFailed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id && s.messages[i].Role == models.RoleUser {
			s.messages[i].SendFailed = true
			return true
		}
	}
	return false
}

// Messages returns a deep copy of all messages in order.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Last returns the most recent message.
func (s *Store) Last() (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return models.Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Clear removes every message, e.g. when switching conversations.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}
