package rag

import (
	"sync"

	"github.com/xhad/deptbot/internal/models"
)

// Session is the chat history of one UI session.
type Session struct {
	mu      sync.Mutex
	history []models.ChatMessage
}

func NewSession() *Session {
	return &Session{}
}

// History returns a copy of the messages so far.
func (s *Session) History() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Append(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, models.ChatMessage{Role: role, Content: content})
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}
