package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/qmind/internal/memory"
)

func newMemoryRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	notes, err := memory.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	h := NewHandler(notes, &fakeRepo{}, "")
	r := chi.NewRouter()
	h.RegisterMemoryRoutes(r)
	return r, notes
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSaveAndListMemories(t *testing.T) {
	r, notes := newMemoryRouter(t)

	w := do(t, r, http.MethodPost, "/api/save-memory", `{"filename":"基本信息 v1","content":"# 我的基本信息\n\n姓名：张三"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var saved memoryWriteResponse
	if err := json.NewDecoder(w.Body).Decode(&saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if saved.Filename != "基本信息_v1.md" {
		t.Errorf("unexpected sanitized filename %q", saved.Filename)
	}
	if _, err := os.Stat(filepath.Join(notes.Dir(), saved.Filename)); err != nil {
		t.Errorf("note not written: %v", err)
	}

	w = do(t, r, http.MethodGet, "/api/memories", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var list []memory.Note
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 note, got %d", len(list))
	}
	if list[0].Title != "我的基本信息" || list[0].Category != "个人信息" {
		t.Errorf("unexpected note %+v", list[0])
	}
}

func TestSaveMemoryValidation(t *testing.T) {
	r, _ := newMemoryRouter(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing content", `{"filename":"a.md"}`, http.StatusBadRequest},
		{"missing filename", `{"content":"x"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/save-memory", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestUpdateMemoryReplacesTitle(t *testing.T) {
	r, notes := newMemoryRouter(t)
	if _, _, err := notes.Save("愿景.md", "# 旧标题\n\n十年计划"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := do(t, r, http.MethodPut, "/api/memories/"+url.PathEscape("愿景.md"), `{"title":"新标题","content":"# 旧标题\n\n十年计划"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data, err := os.ReadFile(filepath.Join(notes.Dir(), "愿景.md"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(data), "# 新标题") {
		t.Errorf("title not replaced: %q", data)
	}
}

func TestUpdateAndDeleteMissingMemory(t *testing.T) {
	r, _ := newMemoryRouter(t)

	if w := do(t, r, http.MethodPut, "/api/memories/nope.md", `{"content":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("update: expected 404, got %d", w.Code)
	}
	if w := do(t, r, http.MethodDelete, "/api/memories/nope.md", ""); w.Code != http.StatusNotFound {
		t.Errorf("delete: expected 404, got %d", w.Code)
	}
}

func TestDeleteMemory(t *testing.T) {
	r, notes := newMemoryRouter(t)
	if _, _, err := notes.Save("习惯.md", "早睡早起"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if w := do(t, r, http.MethodDelete, "/api/memories/"+url.PathEscape("习惯.md"), ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	list, err := notes.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty listing, got %d", len(list))
	}
}

func TestRefreshMemoriesSeesExternalWrites(t *testing.T) {
	r, notes := newMemoryRouter(t)
	if _, err := notes.List(); err != nil {
		t.Fatalf("List: %v", err)
	}
	if err := os.WriteFile(filepath.Join(notes.Dir(), "成就.md"), []byte("# 成就"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := do(t, r, http.MethodPost, "/api/memories/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Count != 1 {
		t.Errorf("expected refreshed count 1, got %d", got.Count)
	}
}
