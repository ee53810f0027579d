package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/garyzero/gary-zero/internal/agent"
	"github.com/garyzero/gary-zero/internal/auth"
	"github.com/garyzero/gary-zero/internal/benchmark"
	"github.com/garyzero/gary-zero/internal/configmgr"
	"github.com/garyzero/gary-zero/internal/deploy"
	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/flags"
	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/monitor"
	"github.com/garyzero/gary-zero/internal/providers"
	queuesqlite "github.com/garyzero/gary-zero/internal/queue/sqlite"
	"github.com/garyzero/gary-zero/internal/security"
	"github.com/garyzero/gary-zero/internal/settings"
	"github.com/garyzero/gary-zero/internal/store/sqlite"
	"github.com/garyzero/gary-zero/internal/ws"
	"github.com/garyzero/gary-zero/pkg/config"
)

// cannedProvider returns fixed responses under the openai name so
// sessions resolved from default settings find it.
type cannedProvider struct {
	reply string
}

func (p *cannedProvider) Name() string { return providers.NameOpenAI }

func (p *cannedProvider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return &providers.CompletionResponse{
		Content: p.reply,
		Model:   req.Model,
		Usage:   providers.Usage{TokensIn: 3, TokensOut: 5},
	}, nil
}

func (p *cannedProvider) Stream(ctx context.Context, req providers.CompletionRequest, handler providers.ChunkHandler) (*providers.CompletionResponse, error) {
	if err := handler(providers.Chunk{Delta: p.reply}); err != nil {
		return nil, err
	}
	usage := providers.Usage{TokensIn: 3, TokensOut: 5}
	if err := handler(providers.Chunk{Done: true, Usage: &usage}); err != nil {
		return nil, err
	}
	return &providers.CompletionResponse{Content: p.reply, Model: req.Model, Usage: usage}, nil
}

type noopApplier struct{}

func (noopApplier) Apply(ctx context.Context, host string, d *models.Deployment, env map[string]string) error {
	return nil
}
func (noopApplier) HealthCheck(ctx context.Context, host string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	st, err := sqlite.NewSQLiteStore(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pub, priv, err := settings.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generating key pair: %v", err)
	}
	cipher, err := settings.NewCipher(settings.CipherConfig{AgePublicKey: pub, AgePrivateKey: priv}, nil)
	if err != nil {
		t.Fatalf("creating cipher: %v", err)
	}
	settingsSvc, err := settings.NewService(dir, cipher, config.ProviderConfig{}, nil)
	if err != nil {
		t.Fatalf("creating settings service: %v", err)
	}

	events := eventlog.NewService(st, eventlog.Config{BufferSize: 100}, nil)
	flagSvc := flags.NewService(st, "test", nil)
	configSvc := configmgr.NewService(st, events, nil)
	deployMgr := deploy.NewManager(st, events, noopApplier{}, nil)
	t.Cleanup(deployMgr.Close)

	registry := providers.NewEmptyRegistry()
	registry.Register(&cannedProvider{reply: "Hello from the model."})

	collector := monitor.NewCollector()
	agentSvc := agent.NewService(st, registry, settingsSvc, flagSvc, events, security.NewValidator(nil), collector, nil)

	suites := benchmark.NewRegistry()
	harness := benchmark.NewHarness(benchmark.HarnessConfig{Concurrency: 1, TaskTimeout: time.Second}, nil)
	benchSvc := benchmark.NewService(st, queuesqlite.NewSQLiteQueue(st.DB(), nil), suites, harness, events, time.Second, nil)
	if err := suites.Register("smoke", &benchmark.Task{
		Name: "always-passes",
		Run:  func(ctx context.Context) (float64, error) { return 1, nil },
	}); err != nil {
		t.Fatalf("registering suite: %v", err)
	}

	authSvc := auth.NewService(&auth.Config{
		JWTSecret:   []byte("test-secret-test-secret-test-1234"),
		TokenExpiry: time.Hour,
	}, auth.NewMemoryKeyStore(), nil)

	cfg := &config.Config{APIKeyHeader: "X-API-Key"}

	return NewServer(cfg, st, Services{
		Auth:      authSvc,
		Keys:      auth.NewMemoryKeyStore(),
		Agent:     agentSvc,
		Settings:  settingsSvc,
		Flags:     flagSvc,
		Config:    configSvc,
		Deploy:    deployMgr,
		Events:    events,
		Benchmark: benchSvc,
		Suites:    suites,
		Collector: collector,
		Hub:       ws.NewHub(nil),
	}, nil)
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 && strings.Contains(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, decoded
}

func registerAdmin(t *testing.T, router http.Handler) string {
	t.Helper()
	rr, body := doJSON(t, router, "POST", "/auth/register", "", map[string]string{
		"email":    "admin@example.com",
		"password": "correct-horse",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", rr.Code, rr.Body.String())
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("register returned no token")
	}
	return token
}

func TestRegistrationClosesAfterFirstUser(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rr, body := doJSON(t, router, "GET", "/auth/can-register", "", nil)
	if rr.Code != http.StatusOK || body["can_register"] != true {
		t.Fatalf("expected open registration, got %d %v", rr.Code, body)
	}

	token := registerAdmin(t, router)

	rr, _ = doJSON(t, router, "POST", "/auth/register", "", map[string]string{
		"email":    "second@example.com",
		"password": "another-pass",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("second registration returned %d, want 403", rr.Code)
	}

	rr, body = doJSON(t, router, "GET", "/v1/auth/me", token, nil)
	if rr.Code != http.StatusOK || body["email"] != "admin@example.com" || body["role"] != "admin" {
		t.Fatalf("me returned %d %v", rr.Code, body)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rr, _ := doJSON(t, router, "GET", "/v1/flags", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request returned %d, want 401", rr.Code)
	}

	rr, _ = doJSON(t, router, "GET", "/v1/flags", "not-a-real-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token returned %d, want 401", rr.Code)
	}
}

func TestMemberCannotManageFlags(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	adminToken := registerAdmin(t, router)

	rr, _ := doJSON(t, router, "POST", "/v1/users", adminToken, map[string]string{
		"email":    "member@example.com",
		"password": "member-pass",
		"role":     "member",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("creating member returned %d: %s", rr.Code, rr.Body.String())
	}

	rr, body := doJSON(t, router, "POST", "/auth/login", "", map[string]string{
		"email":    "member@example.com",
		"password": "member-pass",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("member login returned %d", rr.Code)
	}
	memberToken := body["token"].(string)

	rr, _ = doJSON(t, router, "POST", "/v1/flags", memberToken, map[string]any{
		"key":  "dark-mode",
		"type": "boolean",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("member flag create returned %d, want 403", rr.Code)
	}

	rr, _ = doJSON(t, router, "GET", "/v1/flags", memberToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("member flag list returned %d, want 200", rr.Code)
	}
}

func TestFlagLifecycle(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	token := registerAdmin(t, router)

	rr, _ := doJSON(t, router, "POST", "/v1/flags", token, map[string]any{
		"key":     "new-ui",
		"type":    "boolean",
		"enabled": true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("flag create returned %d: %s", rr.Code, rr.Body.String())
	}

	rr, body := doJSON(t, router, "GET", "/v1/flags/new-ui/evaluate", token, nil)
	if rr.Code != http.StatusOK || body["enabled"] != true {
		t.Fatalf("evaluate returned %d %v", rr.Code, body)
	}

	rr, _ = doJSON(t, router, "DELETE", "/v1/flags/new-ui", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("flag delete returned %d", rr.Code)
	}

	rr, _ = doJSON(t, router, "GET", "/v1/flags/new-ui", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("deleted flag returned %d, want 404", rr.Code)
	}
}

func TestChatExchangeOverHTTP(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	token := registerAdmin(t, router)

	rr, session := doJSON(t, router, "POST", "/v1/sessions", token, map[string]string{})
	if rr.Code != http.StatusCreated {
		t.Fatalf("session create returned %d: %s", rr.Code, rr.Body.String())
	}
	sessionID := session["id"].(string)

	rr, reply := doJSON(t, router, "POST", "/v1/sessions/"+sessionID+"/messages", token, map[string]string{
		"content": "Say hello",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("send returned %d: %s", rr.Code, rr.Body.String())
	}
	if reply["role"] != "assistant" || reply["content"] != "Hello from the model." {
		t.Fatalf("unexpected reply: %v", reply)
	}

	rr, body := doJSON(t, router, "GET", "/v1/sessions/"+sessionID+"/messages", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("messages returned %d", rr.Code)
	}
	messages := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want user + assistant", len(messages))
	}
}

func TestSessionOwnershipEnforced(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	adminToken := registerAdmin(t, router)

	rr, _ := doJSON(t, router, "POST", "/v1/users", adminToken, map[string]string{
		"email":    "member@example.com",
		"password": "member-pass",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("creating member returned %d", rr.Code)
	}
	rr, body := doJSON(t, router, "POST", "/auth/login", "", map[string]string{
		"email":    "member@example.com",
		"password": "member-pass",
	})
	memberToken := body["token"].(string)

	rr, session := doJSON(t, router, "POST", "/v1/sessions", memberToken, map[string]string{})
	if rr.Code != http.StatusCreated {
		t.Fatalf("session create returned %d", rr.Code)
	}
	sessionID := session["id"].(string)

	// The admin can read any session; a stranger member cannot.
	rr, _ = doJSON(t, router, "GET", "/v1/sessions/"+sessionID, adminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin session read returned %d", rr.Code)
	}

	rr, _ = doJSON(t, router, "POST", "/v1/users", adminToken, map[string]string{
		"email":    "other@example.com",
		"password": "other-pass",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("creating second member returned %d", rr.Code)
	}
	rr, body = doJSON(t, router, "POST", "/auth/login", "", map[string]string{
		"email":    "other@example.com",
		"password": "other-pass",
	})
	otherToken := body["token"].(string)

	rr, _ = doJSON(t, router, "GET", "/v1/sessions/"+sessionID, otherToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("stranger session read returned %d, want 404", rr.Code)
	}
}

func TestChatSocketOwnershipEnforced(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	adminToken := registerAdmin(t, router)

	rr, _ := doJSON(t, router, "POST", "/v1/users", adminToken, map[string]string{
		"email":    "member@example.com",
		"password": "member-pass",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("creating member returned %d", rr.Code)
	}
	rr, body := doJSON(t, router, "POST", "/auth/login", "", map[string]string{
		"email":    "member@example.com",
		"password": "member-pass",
	})
	memberToken := body["token"].(string)

	rr, session := doJSON(t, router, "POST", "/v1/sessions", memberToken, map[string]string{})
	if rr.Code != http.StatusCreated {
		t.Fatalf("session create returned %d", rr.Code)
	}
	sessionID := session["id"].(string)

	rr, _ = doJSON(t, router, "POST", "/v1/users", adminToken, map[string]string{
		"email":    "other@example.com",
		"password": "other-pass",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("creating second member returned %d", rr.Code)
	}
	rr, body = doJSON(t, router, "POST", "/auth/login", "", map[string]string{
		"email":    "other@example.com",
		"password": "other-pass",
	})
	otherToken := body["token"].(string)

	srv := httptest.NewServer(router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + sessionID + "/ws"

	dial := func(token string) (*websocket.Conn, *http.Response, error) {
		header := http.Header{"Authorization": []string{"Bearer " + token}}
		return websocket.DefaultDialer.Dial(wsURL, header)
	}

	// A stranger with chat permission must not attach to the session;
	// like the REST endpoints, they see 404 rather than 403.
	conn, resp, err := dial(otherToken)
	if err == nil {
		conn.Close()
		t.Fatal("stranger websocket dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger dial response = %+v, want 404", resp)
	}
	resp.Body.Close()

	conn, resp, err = dial(memberToken)
	if err != nil {
		t.Fatalf("owner dial: %v", err)
	}
	resp.Body.Close()
	conn.Close()
}

func TestAgentStreamGatedBySetting(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	token := registerAdmin(t, router)

	srv := httptest.NewServer(router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/a2a/stream?agent_id=agent-1"
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		conn.Close()
		t.Fatal("a2a dial succeeded while disabled")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("a2a dial response = %+v, want 403", resp)
	}
	resp.Body.Close()

	rr, _ := doJSON(t, router, "PATCH", "/v1/settings", token, map[string]any{"a2a_enabled": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("enabling a2a returned %d: %s", rr.Code, rr.Body.String())
	}

	conn, resp, err = websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("a2a dial after enabling: %v", err)
	}
	resp.Body.Close()
	conn.Close()
}

func TestSettingsMaskedRoundTrip(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	token := registerAdmin(t, router)

	rr, body := doJSON(t, router, "PATCH", "/v1/settings", token, map[string]any{
		"chat_provider": "anthropic",
		"chat_model":    "claude-sonnet-4-5",
		"temperature":   0.3,
		"api_keys":      map[string]string{"anthropic": "sk-ant-test-key-123456"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("settings update returned %d: %s", rr.Code, rr.Body.String())
	}
	keys := body["api_keys"].(map[string]any)
	if keys["anthropic"] != settings.MaskedValue {
		t.Fatalf("API key not masked in response: %v", keys)
	}

	rr, body = doJSON(t, router, "GET", "/v1/settings", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("settings get returned %d", rr.Code)
	}
	if body["chat_provider"] != "anthropic" {
		t.Fatalf("provider not persisted: %v", body)
	}
	keys = body["api_keys"].(map[string]any)
	if keys["anthropic"] != settings.MaskedValue {
		t.Fatalf("API key not masked on read: %v", keys)
	}

	rr, body = doJSON(t, router, "GET", "/v1/settings/providers", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("providers returned %d", rr.Code)
	}
	configured := body["providers"].(map[string]any)
	if configured["anthropic"] != true || configured["openai"] != false {
		t.Fatalf("unexpected provider availability: %v", configured)
	}
}

func TestConfigVersioningEndpoints(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	token := registerAdmin(t, router)

	for i, value := range []string{"50", "75"} {
		rr, body := doJSON(t, router, "PUT", "/v1/config/rate-limit", token, map[string]string{"value": value})
		if rr.Code != http.StatusOK {
			t.Fatalf("config set returned %d: %s", rr.Code, rr.Body.String())
		}
		if int(body["version"].(float64)) != i+1 {
			t.Fatalf("version = %v, want %d", body["version"], i+1)
		}
	}

	rr, body := doJSON(t, router, "GET", "/v1/config/rate-limit/history", token, nil)
	if rr.Code != http.StatusOK || len(body["history"].([]any)) != 2 {
		t.Fatalf("history returned %d %v", rr.Code, body)
	}

	rr, body = doJSON(t, router, "POST", "/v1/config/rate-limit/rollback", token, map[string]int{"version": 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("rollback returned %d: %s", rr.Code, rr.Body.String())
	}
	if body["value"] != "50" || int(body["version"].(float64)) != 3 {
		t.Fatalf("rollback produced %v", body)
	}
}

func TestBenchmarkEnqueueAndRunLookup(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	token := registerAdmin(t, router)

	rr, body := doJSON(t, router, "GET", "/v1/benchmarks/suites", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("suites returned %d", rr.Code)
	}
	suites := body["suites"].([]any)
	if len(suites) != 1 || suites[0] != "smoke" {
		t.Fatalf("unexpected suites: %v", suites)
	}

	rr, run := doJSON(t, router, "POST", "/v1/benchmarks/runs", token, map[string]string{"suite": "smoke"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("enqueue returned %d: %s", rr.Code, rr.Body.String())
	}
	runID := run["id"].(string)

	rr, body = doJSON(t, router, "GET", "/v1/benchmarks/runs/"+runID, token, nil)
	if rr.Code != http.StatusOK || body["status"] != "queued" {
		t.Fatalf("run lookup returned %d %v", rr.Code, body)
	}

	rr, _ = doJSON(t, router, "POST", "/v1/benchmarks/runs", token, map[string]string{"suite": "missing"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown suite returned %d, want 404", rr.Code)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health returned %d: %s", rr.Code, rr.Body.String())
	}
	var healthBody map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &healthBody); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	components := healthBody["components"].(map[string]any)
	if _, ok := components["database"]; !ok {
		t.Fatalf("health missing database component: %v", healthBody)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("metrics content type = %q", rr.Header().Get("Content-Type"))
	}
}

func TestEventLogEndpoints(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	token := registerAdmin(t, router)

	for i := 0; i < 3; i++ {
		err := s.services.Events.Log(context.Background(), &models.LogEvent{
			Type:      models.EventTypeSystem,
			Level:     models.EventLevelInfo,
			Component: "test",
			Message:   fmt.Sprintf("event %d", i),
		})
		if err != nil {
			t.Fatalf("logging event: %v", err)
		}
	}

	rr, body := doJSON(t, router, "GET", "/v1/logs?component=test", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logs query returned %d", rr.Code)
	}
	if events := body["events"].([]any); len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	rr, body = doJSON(t, router, "GET", "/v1/logs/counts", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("counts returned %d", rr.Code)
	}
	counts := body["counts"].(map[string]any)
	if counts["info"].(float64) < 3 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
