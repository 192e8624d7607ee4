package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session owns one conversation. At most one prompt task runs per session.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	conversation *Conversation
	pending      bool
}

// begin marks the session pending. It reports false when a task is already
// running.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return false
	}
	s.pending = true
	return true
}

func (s *Session) finish() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// update runs fn with the conversation locked.
func (s *Session) update(fn func(c *Conversation) Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.conversation)
}

func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation.Visible()
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	systemPrompt string
	newID        func() string
	now          func() time.Time
}

func NewStore(systemPrompt string, newID func() string, now func() time.Time) *Store {
	if newID == nil {
		newID = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		sessions:     make(map[string]*Session),
		systemPrompt: systemPrompt,
		newID:        newID,
		now:          now,
	}
}

func (s *Store) Create() *Session {
	session := &Session{
		ID:           s.newID(),
		CreatedAt:    s.now().UTC(),
		conversation: NewConversation(s.systemPrompt, s.newID, s.now),
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
