// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/qmind/internal/domain"
)

// Repository persists evaluation history and chat turns.
type Repository interface {
	// SaveEvaluation stores a finished assessment.
	SaveEvaluation(ctx context.Context, e *domain.Evaluation) error

	// GetEvaluation returns an evaluation by id, or nil when missing.
	GetEvaluation(ctx context.Context, id string) (*domain.Evaluation, error)

	// ListEvaluations returns the newest evaluations first.
	ListEvaluations(ctx context.Context, limit int) ([]*domain.Evaluation, error)

	// RecordChatTurn appends one chat exchange.
	RecordChatTurn(ctx context.Context, turn *domain.ChatTurn) error

	// ListChatTurns returns a session's turns, oldest first.
	ListChatTurns(ctx context.Context, sessionID string, limit int) ([]*domain.ChatTurn, error)

	// CleanupChatTurns removes turns older than ttl.
	CleanupChatTurns(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
