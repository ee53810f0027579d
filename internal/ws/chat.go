package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/garyzero/gary-zero/internal/agent"
)

// ClientMessage is what a chat client sends over /ws.
type ClientMessage struct {
	Type    string `json:"type"` // "message" or "ping"
	Content string `json:"content,omitempty"`
}

// ChatStream bridges one websocket connection to a chat session: agent
// stream events flow out, client messages trigger exchanges.
type ChatStream struct {
	agent  *agent.Service
	logger *slog.Logger
}

// NewChatStream creates the /ws connection handler.
func NewChatStream(agentSvc *agent.Service, logger *slog.Logger) *ChatStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatStream{agent: agentSvc, logger: logger}
}

// Handle serves one chat connection until the client disconnects or the
// context is cancelled.
func (cs *ChatStream) Handle(ctx context.Context, sessionID, userID string, conn *websocket.Conn) error {
	defer conn.Close()

	if _, err := cs.agent.GetSession(ctx, sessionID); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session"),
			time.Now().Add(writeWait))
		return err
	}

	events, cancel := cs.agent.Subscribe(sessionID)
	defer cancel()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// The write side owns the connection for outbound frames.
	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeJSON(ev); err != nil {
					cs.logger.Debug("chat stream write error", "session_id", sessionID, "error", err)
					stop()
					return
				}
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					stop()
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("reading chat message: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			writeJSON(agent.StreamEvent{Type: agent.StreamError, SessionID: sessionID, Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case "ping":
			// Application-level keepalive from browser clients.
		case "message":
			if msg.Content == "" {
				continue
			}
			// Run the exchange off the read loop so streamed chunks can
			// flow while we keep reading control frames.
			go func(content string) {
				if _, err := cs.agent.SendMessage(ctx, sessionID, userID, content); err != nil {
					cs.logger.Warn("chat exchange failed", "session_id", sessionID, "error", err)
				}
			}(msg.Content)
		default:
			writeJSON(agent.StreamEvent{Type: agent.StreamError, SessionID: sessionID, Error: "unknown message type: " + msg.Type})
		}
	}
}
