package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound means the session id is unknown.
var ErrNotFound = errors.New("session not found")

// maxHistory bounds per-session query history; the oldest entries are
// evicted first. Sessions themselves live for the process lifetime.
const maxHistory = 100

// QueryRecord is one question/answer pair in a session's history.
type QueryRecord struct {
	Question     string      `json:"question"`
	ResponseType string      `json:"response_type"`
	ResponseData interface{} `json:"response_data"`
	TranscriptID string      `json:"transcript_id,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Session is a process-wide shared record of one caller's multi-turn
// interaction. Concurrent access to the same session serializes on its own
// mutex; distinct sessions never contend.
type Session struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	history   []QueryRecord
	contexts  []interface{}
}

func (s *Session) ID() string { return s.id }

// AddQuery appends to the ordered history, evicting the oldest entry past
// the bound.
func (s *Session) AddQuery(question, responseType string, responseData interface{}, transcriptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, QueryRecord{
		Question:     question,
		ResponseType: responseType,
		ResponseData: responseData,
		TranscriptID: transcriptID,
		Timestamp:    time.Now().UTC(),
	})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// AddContext attaches auxiliary caller state, e.g. a submitted transcript
// and its analysis, for later follow-up reasoning.
func (s *Session) AddContext(payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = append(s.contexts, payload)
}

// Export is a point-in-time structured snapshot of a session.
type Export struct {
	SessionID  string        `json:"session_id"`
	CreatedAt  time.Time     `json:"created_at"`
	QueryCount int           `json:"query_count"`
	History    []QueryRecord `json:"history"`
	Contexts   []interface{} `json:"contexts,omitempty"`
}

// Export snapshots the session for external inspection.
func (s *Session) Export() Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Export{
		SessionID:  s.id,
		CreatedAt:  s.createdAt,
		QueryCount: len(s.history),
		History:    append([]QueryRecord(nil), s.history...),
		Contexts:   append([]interface{}(nil), s.contexts...),
	}
}

// Manager is the process-wide session registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: map[string]*Session{}}
}

// Create registers a session under the given id, generating an opaque uuid
// when id is empty. Creating an id that already exists returns the existing
// session, so identifiers are never shared between two sessions.
func (m *Manager) Create(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		id = uuid.New().String()
	}
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := &Session{id: id, createdAt: time.Now().UTC()}
	m.sessions[id] = s
	return s
}

// Get resolves a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
