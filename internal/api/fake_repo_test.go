package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/qmind/internal/domain"
)

type fakeRepo struct {
	mu      sync.Mutex
	evals   []*domain.Evaluation
	pingErr error
	lastLim int
}

func (f *fakeRepo) SaveEvaluation(_ context.Context, e *domain.Evaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, e)
	return nil
}

func (f *fakeRepo) GetEvaluation(_ context.Context, id string) (*domain.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.evals {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListEvaluations(_ context.Context, limit int) ([]*domain.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLim = limit
	if len(f.evals) > limit {
		return f.evals[:limit], nil
	}
	return f.evals, nil
}

func (f *fakeRepo) RecordChatTurn(context.Context, *domain.ChatTurn) error { return nil }

func (f *fakeRepo) ListChatTurns(context.Context, string, int) ([]*domain.ChatTurn, error) {
	return nil, nil
}

func (f *fakeRepo) CleanupChatTurns(context.Context, time.Duration) (int64, error) { return 0, nil }

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error               { return nil }

type fakeProber bool

func (p fakeProber) CheckAvailable(context.Context) bool { return bool(p) }

var errDBDown = errors.New("database is locked")
