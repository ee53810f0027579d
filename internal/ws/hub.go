// Package ws carries the WebSocket surfaces: live chat session
// streaming on /ws and the agent-to-agent envelope protocol on
// /a2a/stream.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Timeouts for the websocket pumps.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrAgentTaken is returned when an agent ID is already connected.
var ErrAgentTaken = errors.New("agent id already connected")

// Envelope is one A2A message. To is empty for broadcasts.
type Envelope struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TS        time.Time       `json:"ts"`
}

// client is one connected A2A agent.
type client struct {
	id   string
	conn *websocket.Conn
	send chan Envelope

	mu     sync.Mutex
	closed bool
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.conn.Close()
}

// Hub routes A2A envelopes between connected agents.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates an empty A2A hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// AgentCount returns the number of connected agents.
func (h *Hub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Agents returns the connected agent IDs.
func (h *Hub) Agents() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// HandleAgent serves one agent connection until it disconnects. The
// agent ID must be unique among connected agents.
func (h *Hub) HandleAgent(agentID string, conn *websocket.Conn) error {
	c := &client{
		id:   agentID,
		conn: conn,
		send: make(chan Envelope, 64),
	}

	h.mu.Lock()
	if _, taken := h.clients[agentID]; taken {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "agent id already connected"),
			time.Now().Add(writeWait))
		conn.Close()
		return fmt.Errorf("%w: %s", ErrAgentTaken, agentID)
	}
	h.clients[agentID] = c
	h.mu.Unlock()

	h.logger.Info("a2a agent connected", "agent_id", agentID)
	defer func() {
		h.mu.Lock()
		delete(h.clients, agentID)
		h.mu.Unlock()
		c.close()
		h.logger.Info("a2a agent disconnected", "agent_id", agentID)
	}()

	go h.writePump(c)
	return h.readPump(c)
}

// Route delivers an envelope: direct when To is set, broadcast to every
// other agent otherwise. Returns false for a direct send to an unknown
// agent.
func (h *Hub) Route(env Envelope) bool {
	if env.TS.IsZero() {
		env.TS = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if env.To != "" {
		target, ok := h.clients[env.To]
		if !ok {
			return false
		}
		h.deliver(target, env)
		return true
	}

	for id, c := range h.clients {
		if id == env.From {
			continue
		}
		h.deliver(c, env)
	}
	return true
}

func (h *Hub) deliver(c *client, env Envelope) {
	select {
	case c.send <- env:
	default:
		h.logger.Warn("a2a send buffer full, dropping envelope", "agent_id", c.id, "type", env.Type)
	}
}

func (h *Hub) readPump(c *client) error {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading a2a envelope: %w", err)
		}

		// The sender identity comes from the connection, not the wire.
		env.From = c.id
		env.TS = time.Now().UTC()

		if !h.Route(env) {
			h.deliver(c, Envelope{
				Type: "error",
				To:   c.id,
				TS:   time.Now().UTC(),
				Payload: mustJSON(map[string]string{
					"error": "unknown recipient: " + env.To,
				}),
			})
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				h.logger.Debug("a2a write error", "agent_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
