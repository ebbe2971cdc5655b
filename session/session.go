// Package session keeps per-session conversation history in process memory.
package session

import "sync"

// DefaultID is used when a request names no session.
const DefaultID = "default"

// Turn is one answered question.
type Turn struct {
	Question string
	Answer   string
}

type Store interface {
	Get(id string) []Turn
	Append(id, question, answer string)
}

// MemoryStore is a Store that forgets everything at process exit. Each session keeps at most
// maxTurns most recent turns; 0 means unbounded.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]Turn
	maxTurns int
}

func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns < 0 {
		maxTurns = 0
	}
	return &MemoryStore{sessions: make(map[string][]Turn), maxTurns: maxTurns}
}

// Get returns a copy of the session's turns, oldest first. Unknown sessions yield an empty slice.
func (s *MemoryStore) Get(id string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.sessions[id]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

func (s *MemoryStore) Append(id, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[id], Turn{Question: question, Answer: answer})
	if s.maxTurns > 0 && len(turns) > s.maxTurns {
		turns = append([]Turn(nil), turns[len(turns)-s.maxTurns:]...)
	}
	s.sessions[id] = turns
}

// Len reports how many sessions hold history.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Last returns the trailing n turns of history, or all of them when n <= 0.
func Last(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

var _ Store = (*MemoryStore)(nil)
