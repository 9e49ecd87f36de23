package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/qmind/internal/memory"
)

// RegisterMemoryRoutes registers the notes endpoints.
func (h *Handler) RegisterMemoryRoutes(r chi.Router) {
	r.Get("/api/memories", h.ListMemories)
	r.Post("/api/memories/refresh", h.RefreshMemories)
	r.Put("/api/memories/{filename}", h.UpdateMemory)
	r.Delete("/api/memories/{filename}", h.DeleteMemory)
	r.Post("/api/save-memory", h.SaveMemory)
}

type saveMemoryRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type updateMemoryRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

type memoryWriteResponse struct {
	Success  bool   `json:"success"`
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message"`
}

// ListMemories returns every note in the notes directory.
func (h *Handler) ListMemories(w http.ResponseWriter, _ *http.Request) {
	notes, err := h.notes.List()
	if err != nil {
		slog.Error("Failed to list notes", "error", err)
		Error(w, http.StatusInternalServerError, "读取记忆失败")
		return
	}
	JSON(w, http.StatusOK, notes)
}

// RefreshMemories drops the cached listing so the next read hits disk.
func (h *Handler) RefreshMemories(w http.ResponseWriter, _ *http.Request) {
	h.notes.Invalidate()
	notes, err := h.notes.List()
	if err != nil {
		slog.Error("Failed to reload notes", "error", err)
		Error(w, http.StatusInternalServerError, "读取记忆失败")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(notes),
	})
}

// SaveMemory writes a new note, or overwrites one with the same name.
func (h *Handler) SaveMemory(w http.ResponseWriter, r *http.Request) {
	var req saveMemoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Filename) == "" || req.Content == "" {
		Error(w, http.StatusBadRequest, "文件名和内容不能为空")
		return
	}

	name, path, err := h.notes.Save(req.Filename, req.Content)
	if err != nil {
		writeNoteError(w, err)
		return
	}
	slog.Info("Note saved", "filename", name)
	JSON(w, http.StatusOK, memoryWriteResponse{
		Success:  true,
		Path:     path,
		Filename: name,
		Message:  "文件 " + name + " 已保存到个人记忆文件夹",
	})
}

// UpdateMemory rewrites an existing note, replacing its title line.
func (h *Handler) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	var req updateMemoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if filename == "" || req.Content == "" {
		Error(w, http.StatusBadRequest, "文件名和内容不能为空")
		return
	}

	path, err := h.notes.Update(filename, req.Title, req.Content)
	if err != nil {
		writeNoteError(w, err)
		return
	}
	JSON(w, http.StatusOK, memoryWriteResponse{
		Success:  true,
		Path:     path,
		Filename: filename,
		Message:  "文件 " + filename + " 已更新",
	})
}

// DeleteMemory removes a note.
func (h *Handler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if err := h.notes.Delete(filename); err != nil {
		writeNoteError(w, err)
		return
	}
	slog.Info("Note deleted", "filename", filename)
	JSON(w, http.StatusOK, memoryWriteResponse{
		Success: true,
		Message: "文件 " + filename + " 已删除",
	})
}

func writeNoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		Error(w, http.StatusNotFound, "文件不存在")
	case errors.Is(err, memory.ErrInvalidName):
		Error(w, http.StatusBadRequest, "文件名无效")
	default:
		slog.Error("Note operation failed", "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
	}
}
