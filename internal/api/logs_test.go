package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestLogsReturnsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "all.ndjson")
	var b strings.Builder
	for i := 1; i <= 150; i++ {
		fmt.Fprintf(&b, "{\"n\":%d}\n", i)
		if i%50 == 0 {
			b.WriteString("\n")
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := chi.NewRouter()
	NewHandler(nil, &fakeRepo{}, path).RegisterLogRoutes(r)
	w := do(t, r, http.MethodGet, "/api/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != logTailLines {
		t.Fatalf("expected %d lines, got %d", logTailLines, len(lines))
	}
	if lines[0] != `{"n":51}` || lines[len(lines)-1] != `{"n":150}` {
		t.Errorf("unexpected window %q .. %q", lines[0], lines[len(lines)-1])
	}
}

func TestLogsMissingFileIsEmpty(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, &fakeRepo{}, filepath.Join(t.TempDir(), "none.ndjson")).RegisterLogRoutes(r)
	w := do(t, r, http.MethodGet, "/api/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
}

func TestTailLinesSkipsPartialFirstLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	long := strings.Repeat("x", logTailBytes)
	if err := os.WriteFile(path, []byte(long+"\nlast\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines, err := tailLines(path, 10)
	if err != nil {
		t.Fatalf("tailLines: %v", err)
	}
	if len(lines) != 1 || lines[0] != "last" {
		t.Errorf("unexpected lines %q", lines)
	}
}
