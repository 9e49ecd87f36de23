package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/qmind/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEvaluationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"e1", "e2"} {
		err := s.SaveEvaluation(ctx, &domain.Evaluation{
			ID:         id,
			SessionID:  "sess-" + id,
			Tier:       "applied",
			Title:      "筑基期",
			Scores:     map[string]int{"applied": 2},
			Answers:    map[int]string{1: "答一", 3: "script"},
			Transcript: "## 记录",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveEvaluation(%s) failed: %v", id, err)
		}
	}

	got, err := s.GetEvaluation(ctx, "e1")
	if err != nil || got == nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if got.Answers[3] != "script" || got.Scores["applied"] != 2 || got.AnsweredCount() != 2 {
		t.Fatalf("unexpected evaluation %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("unexpected created_at %v", got.CreatedAt)
	}

	list, err := s.ListEvaluations(ctx, 10)
	if err != nil {
		t.Fatalf("ListEvaluations failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "e2" {
		t.Fatalf("expected newest first, got %d items", len(list))
	}

	missing, err := s.GetEvaluation(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing evaluation, got %v %v", missing, err)
	}
}

func TestChatTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &domain.ChatTurn{SessionID: "s1", Mode: domain.ModeChat, Message: "old", Response: "r", CreatedAt: time.Now().Add(-48 * time.Hour)}
	if err := s.RecordChatTurn(ctx, old); err != nil {
		t.Fatalf("RecordChatTurn failed: %v", err)
	}
	for _, msg := range []string{"a", "b", "c"} {
		turn := &domain.ChatTurn{SessionID: "s1", Mode: domain.ModeAssessment, Action: "advanced", Message: msg, Response: "r", CreatedAt: time.Now()}
		if err := s.RecordChatTurn(ctx, turn); err != nil {
			t.Fatalf("RecordChatTurn failed: %v", err)
		}
		if turn.ID == 0 {
			t.Fatal("expected id to be set")
		}
	}

	turns, err := s.ListChatTurns(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("ListChatTurns failed: %v", err)
	}
	if len(turns) != 2 || turns[0].Message != "b" || turns[1].Message != "c" {
		t.Fatalf("expected last two turns oldest first, got %+v", turns)
	}

	removed, err := s.CleanupChatTurns(ctx, 24*time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("CleanupChatTurns removed %d, err %v", removed, err)
	}
}
