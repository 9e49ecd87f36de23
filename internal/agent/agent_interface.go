package agent

import (
	"context"
)

// ChatService is what the HTTP and WebSocket transports need from the
// chat pipeline. *Service implements it.
type ChatService interface {
	// Chat handles one user message.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Status reports CLI availability and live session count.
	Status(ctx context.Context) StatusResponse

	// Session returns an assessment session view, or nil when none exists.
	Session(sessionID string) *SessionView

	// Reset clears a session after its in-flight turn finishes.
	Reset(sessionID string) ResetResponse

	// ForceReset clears a session and kills its running processes.
	ForceReset(sessionID string) ResetResponse
}

// Ensure Service implements ChatService.
var _ ChatService = (*Service)(nil)
