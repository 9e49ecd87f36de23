package assessment

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// State is the coarse position of a conversation in the interview.
type State string

const (
	StateNoSession State = "no_session"
	StateAwaiting  State = "awaiting_question"
	StateCompleted State = "completed"
)

// Session is the per-conversation interview state.
type Session struct {
	ID              string         `json:"sessionId"`
	CurrentQuestion int            `json:"currentQuestion"`
	Answers         map[int]string `json:"answers"`
	IsCompleted     bool           `json:"isCompleted"`
	StartTime       time.Time      `json:"startTime"`
	LastUpdate      time.Time      `json:"lastUpdate"`
	// LastOutput is the text delivered on the previous turn: the sanitized
	// tool output, or the template that replaced it. Drift is checked against it.
	LastOutput string `json:"-"`
	DriftCount int    `json:"driftCount"`
}

// NewSession creates a session waiting for the answer to question 1.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:              id,
		CurrentQuestion: 1,
		Answers:         make(map[int]string),
		StartTime:       now,
		LastUpdate:      now,
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = make(map[int]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return &c
}

// State reports the session's state machine position.
func (s *Session) State() State {
	switch {
	case s == nil:
		return StateNoSession
	case s.IsCompleted:
		return StateCompleted
	default:
		return StateAwaiting
	}
}

// Progress renders answered/total for the UI banner.
func (s *Session) Progress() string {
	return fmt.Sprintf("%d/%d", len(s.Answers), QuestionCount)
}

// OrderedAnswers returns answers sorted by question index.
func (s *Session) OrderedAnswers() []int {
	keys := make([]int, 0, len(s.Answers))
	for k := range s.Answers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// SessionStore holds sessions by id. Implementations return copies so
// callers can mutate freely and commit with Put.
type SessionStore interface {
	Get(id string) (*Session, bool)
	Put(s *Session)
	Delete(id string) bool
	// Sweep deletes sessions whose LastUpdate is older than now-ttl and
	// returns their ids.
	Sweep(now time.Time, ttl time.Duration) []string
	Len() int
}

// MemoryStore is an in-process SessionStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (m *MemoryStore) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
}

func (m *MemoryStore) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

func (m *MemoryStore) Sweep(now time.Time, ttl time.Duration) []string {
	cutoff := now.Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for id, s := range m.sessions {
		if s.LastUpdate.Before(cutoff) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// keyedMutex serializes work per key and frees idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns the unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
