package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSMessage represents a WebSocket message exchanged with the mini-app
type WSMessage struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// MiniAppHub manages the WebSocket connections of open mini-apps
type MiniAppHub struct {
	mu          sync.RWMutex
	connections map[int64]*hubConn
}

type hubConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewMiniAppHub creates a new WebSocket hub
func NewMiniAppHub() *MiniAppHub {
	return &MiniAppHub{
		connections: make(map[int64]*hubConn),
	}
}

// Register registers a new WebSocket connection for a user
func (h *MiniAppHub) Register(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Close existing connection if any
	if existing, exists := h.connections[userID]; exists {
		existing.conn.Close()
	}

	h.connections[userID] = &hubConn{conn: conn}

	log.Info().Int64("user_id", userID).Msg("WebSocket connection registered")
}

// Unregister removes the WebSocket connection of a user if it is still conn
func (h *MiniAppHub) Unregister(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.connections[userID]; exists && current.conn == conn {
		current.conn.Close()
		delete(h.connections, userID)
		log.Info().Int64("user_id", userID).Msg("WebSocket connection unregistered")
	}
}

// SendToUser sends a message to a specific user
func (h *MiniAppHub) SendToUser(userID int64, message WSMessage) error {
	h.mu.RLock()
	current, exists := h.connections[userID]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("user %d is not connected", userID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	current.writeMu.Lock()
	err = current.conn.WriteMessage(websocket.TextMessage, data)
	current.writeMu.Unlock()
	if err != nil {
		h.Unregister(userID, current.conn)
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// IsOnline checks if a user has the mini-app open
func (h *MiniAppHub) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.connections[userID]
	return exists
}

// NotifyAnalysisComplete tells an open mini-app that the result can be loaded
func (h *MiniAppHub) NotifyAnalysisComplete(userID int64) error {
	return h.SendToUser(userID, WSMessage{
		Type:      "analysis_complete",
		Timestamp: time.Now().UnixMilli(),
	})
}
