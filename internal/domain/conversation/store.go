package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")

	// ErrTurnInFlight rejects a second concurrent turn on the same session.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")
)

// Store holds sessions in memory. Histories are append-only; messages are
// only ever added in user+assistant pairs.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	inFlight map[string]bool
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		inFlight: make(map[string]bool),
	}
}

// Create makes a new empty session.
func (s *Store) Create() *Session {
	now := time.Now().UTC()
	session := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

// Get returns a copy of the session's current state.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *session
	copied.Messages = append([]Message(nil), session.Messages...)
	return &copied, nil
}

// Delete discards a session and its history.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.inFlight, id)
	return nil
}

// BeginTurn marks a session busy. A session accepts at most one turn at a
// time; concurrent turns are rejected, not queued.
func (s *Store) BeginTurn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	if s.inFlight[id] {
		return ErrTurnInFlight
	}
	s.inFlight[id] = true
	return nil
}

// EndTurn clears the busy marker. Safe to call regardless of how the turn
// ended, so an abandoned turn never wedges the session.
func (s *Store) EndTurn(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// SetConversationID records the AI service conversation backing the session.
func (s *Store) SetConversationID(id, conversationID string) {
	s.mu.Lock()
	if session, ok := s.sessions[id]; ok {
		session.ConversationID = conversationID
	}
	s.mu.Unlock()
}

// ConversationID returns the AI service conversation id, or "" before the
// first successful turn.
func (s *Store) ConversationID(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[id]; ok {
		return session.ConversationID
	}
	return ""
}

// AppendPair atomically appends a user message and its assistant reply.
// History never holds a user message without its answer.
func (s *Store) AppendPair(id string, user, assistant Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if assistant.ID == "" {
		assistant.ID = uuid.New().String()
	}
	user.Role, assistant.Role = RoleUser, RoleAssistant
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if assistant.CreatedAt.IsZero() {
		assistant.CreatedAt = now
	}
	session.Messages = append(session.Messages, user, assistant)
	session.UpdatedAt = now
	return nil
}
