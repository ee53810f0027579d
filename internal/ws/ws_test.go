package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/garyzero/gary-zero/internal/agent"
	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/providers"
	"github.com/garyzero/gary-zero/internal/security"
	"github.com/garyzero/gary-zero/internal/settings"
	"github.com/garyzero/gary-zero/internal/store/sqlite"
	"github.com/garyzero/gary-zero/pkg/config"
)

var testUpgrader = websocket.Upgrader{}

// newHubServer runs a hub behind an httptest server; the agent ID comes
// from the "agent" query parameter.
func newHubServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.HandleAgent(r.URL.Query().Get("agent"), conn)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, agentID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?agent="+agentID, nil)
	if err != nil {
		t.Fatalf("dialing as %s: %v", agentID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("reading envelope: %v", err)
	}
	return env
}

func waitForAgents(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.AgentCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d agents connected, want %d", hub.AgentCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDirectRouting(t *testing.T) {
	hub, url := newHubServer(t)
	alpha := dial(t, url, "alpha")
	beta := dial(t, url, "beta")
	waitForAgents(t, hub, 2)

	payload, _ := json.Marshal(map[string]string{"text": "hello beta"})
	if err := alpha.WriteJSON(Envelope{Type: "task", To: "beta", SessionID: "s-1", Payload: payload}); err != nil {
		t.Fatalf("sending envelope: %v", err)
	}

	env := readEnvelope(t, beta)
	if env.Type != "task" || env.From != "alpha" || env.SessionID != "s-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.TS.IsZero() {
		t.Fatal("envelope not timestamped")
	}
}

func TestHubBroadcast(t *testing.T) {
	hub, url := newHubServer(t)
	alpha := dial(t, url, "alpha")
	beta := dial(t, url, "beta")
	gamma := dial(t, url, "gamma")
	waitForAgents(t, hub, 3)

	if err := alpha.WriteJSON(Envelope{Type: "announce"}); err != nil {
		t.Fatalf("sending broadcast: %v", err)
	}

	for _, conn := range []*websocket.Conn{beta, gamma} {
		env := readEnvelope(t, conn)
		if env.Type != "announce" || env.From != "alpha" {
			t.Fatalf("unexpected broadcast: %+v", env)
		}
	}
}

func TestHubSenderIdentityFromConnection(t *testing.T) {
	hub, url := newHubServer(t)
	alpha := dial(t, url, "alpha")
	beta := dial(t, url, "beta")
	waitForAgents(t, hub, 2)

	// A spoofed From must be overwritten with the connection identity.
	if err := alpha.WriteJSON(Envelope{Type: "task", From: "admin", To: "beta"}); err != nil {
		t.Fatalf("sending envelope: %v", err)
	}
	if env := readEnvelope(t, beta); env.From != "alpha" {
		t.Fatalf("spoofed sender passed through: %+v", env)
	}
}

func TestHubUnknownRecipient(t *testing.T) {
	hub, url := newHubServer(t)
	alpha := dial(t, url, "alpha")
	waitForAgents(t, hub, 1)

	if err := alpha.WriteJSON(Envelope{Type: "task", To: "nobody"}); err != nil {
		t.Fatalf("sending envelope: %v", err)
	}

	env := readEnvelope(t, alpha)
	if env.Type != "error" {
		t.Fatalf("expected error envelope, got %+v", env)
	}
	if !strings.Contains(string(env.Payload), "unknown recipient") {
		t.Fatalf("unexpected error payload: %s", env.Payload)
	}
}

func TestHubRejectsDuplicateAgentID(t *testing.T) {
	hub, url := newHubServer(t)
	dial(t, url, "alpha")
	waitForAgents(t, hub, 1)

	dup := dial(t, url, "alpha")
	dup.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := dup.ReadMessage(); err == nil {
		t.Fatal("duplicate connection not closed")
	}
	if hub.AgentCount() != 1 {
		t.Fatalf("agent count = %d, want 1", hub.AgentCount())
	}
}

// echoProvider streams back a fixed reply.
type echoProvider struct{ reply string }

func (p *echoProvider) Name() string { return providers.NameOpenAI }

func (p *echoProvider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return &providers.CompletionResponse{Content: p.reply, Model: req.Model}, nil
}

func (p *echoProvider) Stream(ctx context.Context, req providers.CompletionRequest, handler providers.ChunkHandler) (*providers.CompletionResponse, error) {
	if err := handler(providers.Chunk{Delta: p.reply}); err != nil {
		return nil, err
	}
	if err := handler(providers.Chunk{Done: true, Usage: &providers.Usage{}}); err != nil {
		return nil, err
	}
	return &providers.CompletionResponse{Content: p.reply, Model: req.Model}, nil
}

func TestChatStreamDeliversExchange(t *testing.T) {
	st, err := sqlite.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	settingsSvc, err := settings.NewService(t.TempDir(), nil, config.ProviderConfig{}, nil)
	if err != nil {
		t.Fatalf("creating settings: %v", err)
	}

	registry := providers.NewEmptyRegistry()
	registry.Register(&echoProvider{reply: "echoed"})
	events := eventlog.NewService(st, eventlog.Config{}, nil)
	agentSvc := agent.NewService(st, registry, settingsSvc, nil, events, security.NewValidator(nil), nil, nil)

	session, err := agentSvc.CreateSession(context.Background(), "user-1", "", "")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	stream := NewChatStream(agentSvc, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stream.Handle(r.Context(), session.ID, "user-1", conn)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ClientMessage{Type: "message", Content: "hi"}); err != nil {
		t.Fatalf("sending client message: %v", err)
	}

	var sawChunk, sawDone bool
	deadline := time.Now().Add(3 * time.Second)
	for !sawDone && time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var ev agent.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading stream event: %v", err)
		}
		switch ev.Type {
		case agent.StreamChunk:
			if ev.Delta == "echoed" {
				sawChunk = true
			}
		case agent.StreamDone:
			sawDone = true
			if ev.Message == nil || ev.Message.Content != "echoed" {
				t.Fatalf("done event: %+v", ev)
			}
		}
	}
	if !sawChunk || !sawDone {
		t.Fatalf("chunk=%v done=%v", sawChunk, sawDone)
	}
}
