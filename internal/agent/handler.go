package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/qmind/internal/api"
	"github.com/ashureev/qmind/internal/assessment"
	"github.com/ashureev/qmind/internal/config"
	"github.com/ashureev/qmind/internal/identity"
	"github.com/ashureev/qmind/internal/qcli"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// Handler serves the chat and assessment session endpoints.
type Handler struct {
	svc         ChatService
	rateLimiter *RateLimiter
	log         ConversationLogger
	maxBodySize int64
}

// RateLimiter implements a sliding-window limiter per key.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// startEviction runs a background goroutine that periodically removes expired
// keys from the requests map, preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

// NewHandler creates the chat handler. logger may be nil.
func NewHandler(svc ChatService, logger ConversationLogger, cfg *config.Config) *Handler {
	if logger == nil {
		logger = noopConversationLogger{}
	}

	rateLimitRequests := 20
	rateLimitWindow := time.Minute
	maxBodySize := int64(defaultMaxRequestBodySize)
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		maxBodySize = cfg.MaxRequestBodySize
	}

	return &Handler{
		svc:         svc,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		log:         logger,
		maxBodySize: maxBodySize,
	}
}

// RegisterRoutes registers the chat and session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat-with-q", h.HandleChat)
	r.Get("/api/q-status", h.HandleStatus)
	r.Route("/api/laozi-session/{sessionId}", func(r chi.Router) {
		r.Get("/", h.HandleSession)
		r.Post("/reset", h.HandleReset)
		r.Post("/force-reset", h.HandleForceReset)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

// HandleChat handles POST /api/chat-with-q.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !h.rateLimiter.Allow(identity.IPFromRequest(r)) {
		api.Error(w, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}
	req.SessionID = identity.SanitizeSessionID(req.SessionID)
	req.RequestID = chiMiddleware.GetReqID(r.Context())
	clientID := identity.ClientIDFromContext(r.Context())

	slog.Info("Chat request",
		"client_id", clientID,
		"session_id", req.SessionID,
		"message_length", len(req.Message),
		"memories", len(req.Memories),
	)
	h.log.Log(ConversationLogEvent{
		UserID:     clientID,
		SessionID:  req.SessionID,
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta: map[string]any{
			"request_id": req.RequestID,
			"memories":   len(req.Memories),
		},
	})

	resp, err := h.svc.Chat(r.Context(), req)
	if err != nil {
		status, body := ErrorResponseFor(err)
		slog.Warn("Chat request failed", "session_id", req.SessionID, "status", status, "error", err)
		h.log.Log(ConversationLogEvent{
			UserID:     clientID,
			SessionID:  req.SessionID,
			Channel:    "chat_http",
			Direction:  "inbound",
			EventType:  "chat_error",
			ContentRaw: err.Error(),
			Meta:       map[string]any{"request_id": req.RequestID, "status": status},
		})
		api.WriteError(w, status, body)
		return
	}

	h.log.Log(ConversationLogEvent{
		UserID:     clientID,
		SessionID:  req.SessionID,
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: resp.Response,
		Meta: map[string]any{
			"request_id": req.RequestID,
			"mode":       resp.Debug.Mode,
			"action":     resp.Debug.Action,
			"template":   resp.Debug.Template,
			"drift":      resp.Debug.Drift,
		},
	})
	api.JSON(w, http.StatusOK, resp)
}

// ErrorResponseFor maps a chat failure to its HTTP status and body. Only an
// unavailable CLI is a 503; every other failure is a 500 whose details carry
// the process error text.
func ErrorResponseFor(err error) (int, api.ErrorResponse) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest, api.ErrorResponse{Error: "消息不能为空"}
	case errors.Is(err, qcli.ErrProcessUnavailable):
		return http.StatusServiceUnavailable, api.ErrorResponse{
			Error:      "Q CLI不可用",
			Suggestion: "请确保已安装并配置Q CLI",
		}
	case errors.Is(err, qcli.ErrProcessTimeout):
		return http.StatusInternalServerError, api.ErrorResponse{
			Error:   "Q CLI响应超时，请稍后重试",
			Details: err.Error(),
		}
	case errors.Is(err, qcli.ErrProcessNonZeroExit):
		return http.StatusInternalServerError, api.ErrorResponse{
			Error:   "Q CLI执行失败",
			Details: err.Error(),
		}
	case errors.Is(err, qcli.ErrProcessKilled), errors.Is(err, assessment.ErrSessionReset):
		return http.StatusInternalServerError, api.ErrorResponse{
			Error:   "会话已被重置，本轮回答作废",
			Details: err.Error(),
		}
	default:
		return http.StatusInternalServerError, api.ErrorResponse{
			Error:   "处理消息时出错",
			Details: err.Error(),
		}
	}
}

// HandleStatus handles GET /api/q-status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// HandleSession handles GET /api/laozi-session/{sessionId}.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SanitizeSessionID(chi.URLParam(r, "sessionId"))
	api.JSON(w, http.StatusOK, SessionResponse{
		Success: true,
		Session: h.svc.Session(sessionID),
	})
}

// HandleReset handles POST /api/laozi-session/{sessionId}/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SanitizeSessionID(chi.URLParam(r, "sessionId"))
	api.JSON(w, http.StatusOK, h.svc.Reset(sessionID))
}

// HandleForceReset handles POST /api/laozi-session/{sessionId}/force-reset.
func (h *Handler) HandleForceReset(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SanitizeSessionID(chi.URLParam(r, "sessionId"))
	api.JSON(w, http.StatusOK, h.svc.ForceReset(sessionID))
}
