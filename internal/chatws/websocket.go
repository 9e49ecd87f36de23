package chatws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/qmind/internal/agent"
	"github.com/ashureev/qmind/internal/identity"
	"github.com/ashureev/qmind/internal/memory"
)

const (
	readLimit    = 1 << 20
	writeTimeout = 10 * time.Second
)

// Handler upgrades requests and runs chat turns over the socket.
type Handler struct {
	svc           agent.ChatService
	sm            *SessionManager
	limiter       *agent.RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket chat handler. limiter may be nil.
func NewHandler(svc agent.ChatService, sm *SessionManager, limiter *agent.RateLimiter, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		svc:           svc,
		sm:            sm,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inbound is a client frame.
type inbound struct {
	Type     string          `json:"type"` // chat, ping, status, session, reset, force-reset
	ID       string          `json:"id,omitempty"`
	Message  string          `json:"message,omitempty"`
	Memories []memory.Memory `json:"memories,omitempty"`
}

// outbound is a server frame. Payload is the reply body for its type.
type outbound struct {
	Type       string      `json:"type"` // reply, error, pong, status, session, reset, thinking
	ID         string      `json:"id,omitempty"`
	Status     int         `json:"status,omitempty"`
	Error      string      `json:"error,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	ip := identity.IPFromRequest(r)
	slog.Info("Chat socket request", "client_id", clientID, "session_id", sessionID, "ip", ip)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	ws.SetReadLimit(readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()

	h.sm.Register(clientID, sessionID, ws)
	defer h.sm.Unregister(clientID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Chat socket closed by client", "client_id", clientID)
			} else if ctx.Err() == nil {
				slog.Warn("Chat socket read error", "error", err, "client_id", clientID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.write(ctx, ws, outbound{Type: "error", Status: http.StatusBadRequest, Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			h.write(ctx, ws, outbound{Type: "pong", ID: msg.ID})
		case "status":
			h.write(ctx, ws, outbound{Type: "status", ID: msg.ID, Payload: h.svc.Status(ctx)})
		case "session":
			h.write(ctx, ws, outbound{Type: "session", ID: msg.ID, Payload: agent.SessionResponse{
				Success: true,
				Session: h.svc.Session(sessionID),
			}})
		case "reset":
			h.write(ctx, ws, outbound{Type: "reset", ID: msg.ID, Payload: h.svc.Reset(sessionID)})
		case "force-reset":
			h.write(ctx, ws, outbound{Type: "reset", ID: msg.ID, Payload: h.svc.ForceReset(sessionID)})
		case "chat":
			if h.limiter != nil && !h.limiter.Allow(ip) {
				h.write(ctx, ws, outbound{Type: "error", ID: msg.ID, Status: http.StatusTooManyRequests, Error: "请求过于频繁，请稍后再试"})
				continue
			}
			h.write(ctx, ws, outbound{Type: "thinking", ID: msg.ID})
			// Turns run off the read loop so pings are answered during a
			// long invocation. The orchestrator serializes per session.
			wg.Add(1)
			go func(msg inbound) {
				defer wg.Done()
				h.chat(ctx, ws, sessionID, msg)
			}(msg)
		default:
			h.write(ctx, ws, outbound{Type: "error", ID: msg.ID, Status: http.StatusBadRequest, Error: "unknown message type"})
		}
	}
}

func (h *Handler) chat(ctx context.Context, ws *websocket.Conn, sessionID string, msg inbound) {
	resp, err := h.svc.Chat(ctx, agent.ChatRequest{
		Message:   msg.Message,
		SessionID: sessionID,
		Memories:  msg.Memories,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		status, body := agent.ErrorResponseFor(err)
		slog.Warn("Chat socket turn failed", "session_id", sessionID, "status", status, "error", err)
		h.write(ctx, ws, outbound{
			Type:       "error",
			ID:         msg.ID,
			Status:     status,
			Error:      body.Error,
			Suggestion: body.Suggestion,
		})
		return
	}
	h.write(ctx, ws, outbound{Type: "reply", ID: msg.ID, Payload: resp})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v outbound) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to encode socket frame", "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(wctx, websocket.MessageText, data); err != nil && ctx.Err() == nil {
		slog.Debug("Chat socket write error", "error", err)
	}
}
