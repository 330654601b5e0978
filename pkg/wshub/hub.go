// Package wshub implements the WebSocket hub: a single-process in-memory
// session_id to set-of-connections mapping, best-effort fan-out with pruning
// of dead sockets, and a per-connection read loop that routes chat frames to
// the Coordinator.
package wshub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const defaultWriteTimeout = 5 * time.Second

// ChatHandler routes an inbound {type: chat} frame to the Coordinator.
// Implemented by pkg/coordinator.Coordinator.
type ChatHandler interface {
	HandleChat(ctx context.Context, sessionID, text string, contextPatch map[string]any) (map[string]any, error)
}

// StatsHandler answers a {type: get_status} frame.
type StatsHandler interface {
	Stats(ctx context.Context, sessionID string) (map[string]any, error)
}

// clientFrame is the shape of a client-to-server message.
type clientFrame struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// connection is a single live WebSocket, scoped to one session.
type connection struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
}

// Hub is the WebSocket Hub. Its zero value is not usable; construct with New.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*connection // session_id -> connection_id -> connection

	writeTimeout time.Duration
	chat         ChatHandler
	stats        StatsHandler
	logger       *slog.Logger
}

// New creates a Hub routing chat frames to chat and status frames to stats.
func New(chat ChatHandler, stats StatsHandler) *Hub {
	return &Hub{
		sessions:     make(map[string]map[string]*connection),
		writeTimeout: defaultWriteTimeout,
		chat:         chat,
		stats:        stats,
		logger:       slog.Default().With("component", "wshub"),
	}
}

// HandleConnection manages one upgraded WebSocket end to end: registers it,
// pushes the connected frame, runs the read loop, and unregisters it on
// return. Called by the HTTP layer's upgrade handler; blocks until the
// connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn, sessionID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:        uuid.New().String(),
		sessionID: sessionID,
		conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
	}

	h.connect(c)
	defer h.disconnect(c)

	h.sendJSON(c, map[string]any{
		"type":       "connected",
		"session_id": sessionID,
		"timestamp":  time.Now().UTC(),
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		h.handleFrame(ctx, c, data)
	}
}

func (h *Hub) connect(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[c.sessionID] == nil {
		h.sessions[c.sessionID] = make(map[string]*connection)
	}
	h.sessions[c.sessionID][c.id] = c
}

func (h *Hub) disconnect(c *connection) {
	h.mu.Lock()
	if conns, ok := h.sessions[c.sessionID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.sessions, c.sessionID)
		}
	}
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// SendToSession best-effort-sends payload as JSON to every connection of
// sessionID; connections whose send fails are pruned. Satisfies
// pkg/eventbus.Pusher.
func (h *Hub) SendToSession(ctx context.Context, sessionID string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ws payload: %w", err)
	}

	h.mu.RLock()
	conns := make([]*connection, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, data); err != nil {
			h.logger.Warn("send to session failed, pruning connection", "session", sessionID, "error", err)
			h.disconnect(c)
		}
	}
	return nil
}

// Broadcast best-effort-sends payload to every connection across every
// session, pruning failed sockets the same way.
func (h *Hub) Broadcast(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ws payload: %w", err)
	}

	h.mu.RLock()
	var conns []*connection
	for _, set := range h.sessions {
		for _, c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, data); err != nil {
			h.logger.Warn("broadcast failed, pruning connection", "error", err)
			h.disconnect(c)
		}
	}
	return nil
}

// ActiveConnections reports the number of live WebSocket connections for
// sessionID.
func (h *Hub) ActiveConnections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) handleFrame(ctx context.Context, c *connection, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.sendJSON(c, map[string]any{"type": "error", "message": "Invalid JSON format"})
		return
	}

	switch frame.Type {
	case "chat":
		h.handleChat(ctx, c, frame)
	case "ping":
		h.sendJSON(c, map[string]any{"type": "pong"})
	case "get_status":
		h.handleGetStatus(ctx, c)
	default:
		h.sendJSON(c, map[string]any{"type": "error", "message": "unknown frame type: " + frame.Type})
	}
}

func (h *Hub) handleChat(ctx context.Context, c *connection, frame clientFrame) {
	if h.chat == nil {
		h.sendJSON(c, map[string]any{"type": "error", "message": "chat handler not available"})
		return
	}
	result, err := h.chat.HandleChat(ctx, c.sessionID, frame.Message, frame.Context)
	if err != nil {
		h.sendJSON(c, map[string]any{"type": "error", "message": err.Error()})
		return
	}
	h.sendJSON(c, map[string]any{"type": "chat_response", "data": result})
}

func (h *Hub) handleGetStatus(ctx context.Context, c *connection) {
	if h.stats == nil {
		h.sendJSON(c, map[string]any{"type": "error", "message": "stats handler not available"})
		return
	}
	result, err := h.stats.Stats(ctx, c.sessionID)
	if err != nil {
		h.sendJSON(c, map[string]any{"type": "error", "message": err.Error()})
		return
	}
	h.sendJSON(c, map[string]any{"type": "status", "data": result})
}

func (h *Hub) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("marshal ws message failed", "connection", c.id, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		h.logger.Warn("send ws message failed", "connection", c.id, "error", err)
	}
}

func (h *Hub) sendRaw(c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
