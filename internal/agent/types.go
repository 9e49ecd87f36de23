// Package agent serves chat with the Q CLI: the 老祖 assessment when one is
// active, plain memory-aware chat otherwise.
package agent

import (
	"time"

	"github.com/ashureev/qmind/internal/assessment"
	"github.com/ashureev/qmind/internal/memory"
)

// ChatRequest is the body of POST /api/chat-with-q.
type ChatRequest struct {
	Message   string          `json:"message"`
	SessionID string          `json:"sessionId,omitempty"`
	Memories  []memory.Memory `json:"memories,omitempty"`
	RequestID string          `json:"-"`
}

// ChatResponse is a successful chat reply.
type ChatResponse struct {
	Success              bool      `json:"success"`
	Response             string    `json:"response"`
	SessionID            string    `json:"sessionId"`
	ActuallyUsedMemories []string  `json:"actuallyUsedMemories"`
	Debug                ChatDebug `json:"debug"`
}

// ChatDebug carries turn metadata the UI shows in its debug panel.
type ChatDebug struct {
	Mode       string `json:"mode"`
	Action     string `json:"action,omitempty"`
	Intent     string `json:"intent,omitempty"`
	Template   string `json:"template,omitempty"`
	Drift      bool   `json:"drift,omitempty"`
	Cleared    bool   `json:"cleared,omitempty"`
	Hint       string `json:"hint,omitempty"`
	Progress   string `json:"progress,omitempty"`
	Completed  bool   `json:"completed,omitempty"`
	Realm      string `json:"realm,omitempty"`
	DurationMS int64  `json:"durationMs"`
	RawLength  int    `json:"rawLength"`
	RequestID  string `json:"requestId,omitempty"`
}

// StatusResponse is returned by GET /api/q-status.
type StatusResponse struct {
	Available bool `json:"available"`
	Sessions  int  `json:"sessions"`
}

// SessionView is the JSON shape of an assessment session.
type SessionView struct {
	ID              string         `json:"sessionId"`
	CurrentQuestion int            `json:"currentQuestion"`
	Answers         map[int]string `json:"answers"`
	IsCompleted     bool           `json:"isCompleted"`
	State           string         `json:"state"`
	Progress        string         `json:"progress"`
	Question        string         `json:"question,omitempty"`
	DriftCount      int            `json:"driftCount"`
	StartTime       time.Time      `json:"startTime"`
	LastUpdate      time.Time      `json:"lastUpdate"`
}

// SessionResponse is returned by GET /api/laozi-session/{sessionId}.
type SessionResponse struct {
	Success bool         `json:"success"`
	Session *SessionView `json:"session"`
}

// ResetResponse is returned by the reset endpoints.
type ResetResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Deleted   bool   `json:"deleted"`
	Killed    int    `json:"killed"`
}

func newSessionView(s *assessment.Session, c *assessment.Catalog) *SessionView {
	if s == nil {
		return nil
	}
	v := &SessionView{
		ID:              s.ID,
		CurrentQuestion: s.CurrentQuestion,
		Answers:         s.Answers,
		IsCompleted:     s.IsCompleted,
		State:           string(s.State()),
		Progress:        s.Progress(),
		DriftCount:      s.DriftCount,
		StartTime:       s.StartTime,
		LastUpdate:      s.LastUpdate,
	}
	if c != nil && !s.IsCompleted {
		if q, ok := c.Question(s.CurrentQuestion); ok {
			v.Question = q.Text
		}
	}
	return v
}
