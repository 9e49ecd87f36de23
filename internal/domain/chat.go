package domain

import "time"

// Chat turn modes.
const (
	ModeAssessment = "assessment"
	ModeChat       = "chat"
)

// ChatTurn is one request/response pair through the chat endpoint.
type ChatTurn struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	Mode       string    `json:"mode"`
	Action     string    `json:"action,omitempty"`
	Message    string    `json:"message"`
	Response   string    `json:"response"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}
