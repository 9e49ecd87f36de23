// Package chatws serves the chat pipeline over WebSocket at /ws/chat.
package chatws

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks one live connection per client and chat session.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the live connection for a client and session.
func (m *SessionManager) GetActive(clientID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[clientID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds conn, closing any older connection for the same session.
func (m *SessionManager) Register(clientID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[clientID]; !exists {
		m.active[clientID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[clientID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[clientID][sessionID] = conn
	slog.Info("Chat socket registered", "client_id", clientID, "session_id", sessionID)
}

// Unregister removes conn if it is still the registered one.
func (m *SessionManager) Unregister(clientID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[clientID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, clientID)
			}
			slog.Info("Chat socket unregistered", "client_id", clientID, "session_id", sessionID)
		}
	}
}

// Count returns the number of live connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseAll closes every connection, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for clientID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, clientID)
	}
}
