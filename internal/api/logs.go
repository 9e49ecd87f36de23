package api

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	logTailLines = 100
	// logTailBytes bounds how much of the file end is read.
	logTailBytes = 256 << 10
)

// RegisterLogRoutes registers GET /api/logs.
func (h *Handler) RegisterLogRoutes(r chi.Router) {
	r.Get("/api/logs", h.Logs)
}

// Logs returns the last lines of the global conversation log as plain text.
func (h *Handler) Logs(w http.ResponseWriter, _ *http.Request) {
	lines, err := tailLines(h.logPath, logTailLines)
	if err != nil {
		slog.Error("Failed to read conversation log", "path", h.logPath, "error", err)
		Error(w, http.StatusInternalServerError, "读取日志失败")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if len(lines) > 0 {
		_, _ = io.WriteString(w, strings.Join(lines, "\n")+"\n")
	}
}

// tailLines returns up to n non-empty trailing lines. A missing file has none.
func tailLines(path string, n int) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size() - logTailBytes
	partial := offset > 0
	if !partial {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), logTailBytes)
	var lines []string
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first && partial {
			// Starts mid-line.
			first = false
			continue
		}
		first = false
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
