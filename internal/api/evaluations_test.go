package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/qmind/internal/domain"
)

func TestListEvaluations(t *testing.T) {
	repo := &fakeRepo{}
	for _, id := range []string{"a", "b", "c"} {
		repo.evals = append(repo.evals, &domain.Evaluation{ID: id, Tier: "applied", CreatedAt: time.Now()})
	}
	r := chi.NewRouter()
	NewHandler(nil, repo, "").RegisterEvaluationRoutes(r)

	w := do(t, r, http.MethodGet, "/api/evaluations?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		Success     bool                 `json:"success"`
		Evaluations []*domain.Evaluation `json:"evaluations"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || len(got.Evaluations) != 2 {
		t.Errorf("unexpected response %+v", got)
	}

	do(t, r, http.MethodGet, "/api/evaluations?limit=5000", "")
	if repo.lastLim != maxEvaluationLimit {
		t.Errorf("limit not capped: %d", repo.lastLim)
	}

	if w := do(t, r, http.MethodGet, "/api/evaluations?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestGetEvaluation(t *testing.T) {
	repo := &fakeRepo{evals: []*domain.Evaluation{{ID: "e1", Title: "练气期"}}}
	r := chi.NewRouter()
	NewHandler(nil, repo, "").RegisterEvaluationRoutes(r)

	if w := do(t, r, http.MethodGet, "/api/evaluations/e1", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/evaluations/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
