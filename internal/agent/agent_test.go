package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/providers"
	"github.com/garyzero/gary-zero/internal/security"
	"github.com/garyzero/gary-zero/internal/settings"
	"github.com/garyzero/gary-zero/internal/store"
	"github.com/garyzero/gary-zero/internal/store/sqlite"
	"github.com/garyzero/gary-zero/pkg/config"
)

// scriptedProvider returns canned responses in order, streaming each as
// two chunks.
type scriptedProvider struct {
	name      string
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	content := p.next()
	return &providers.CompletionResponse{Content: content, Model: req.Model, Usage: providers.Usage{TokensIn: 10, TokensOut: 5}}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req providers.CompletionRequest, handler providers.ChunkHandler) (*providers.CompletionResponse, error) {
	content := p.next()
	half := len(content) / 2
	if err := handler(providers.Chunk{Delta: content[:half]}); err != nil {
		return nil, err
	}
	if err := handler(providers.Chunk{Delta: content[half:]}); err != nil {
		return nil, err
	}
	usage := providers.Usage{TokensIn: 10, TokensOut: 5}
	if err := handler(providers.Chunk{Done: true, Usage: &usage}); err != nil {
		return nil, err
	}
	return &providers.CompletionResponse{Content: content, Model: req.Model, Usage: usage}, nil
}

func (p *scriptedProvider) next() string {
	if p.calls >= len(p.responses) {
		return "no more responses"
	}
	content := p.responses[p.calls]
	p.calls++
	return content
}

func newTestService(t *testing.T, responses ...string) (*Service, store.Store) {
	t.Helper()

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
	registry.Register(&scriptedProvider{name: providers.NameOpenAI, responses: responses})

	events := eventlog.NewService(st, eventlog.Config{}, nil)
	svc := NewService(st, registry, settingsSvc, nil, events, security.NewValidator(nil), nil, nil)
	return svc, st
}

func TestSendMessagePersistsExchange(t *testing.T) {
	svc, st := newTestService(t, "hello from the model")
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "user-1", "", "")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if session.Provider != settings.ProviderOpenAI {
		t.Fatalf("session provider = %q", session.Provider)
	}

	msg, err := svc.SendMessage(ctx, session.ID, "user-1", "hi")
	if err != nil {
		t.Fatalf("sending message: %v", err)
	}
	if msg.Role != models.RoleAssistant || msg.Content != "hello from the model" {
		t.Fatalf("unexpected assistant message: %+v", msg)
	}
	if msg.TokensIn != 10 || msg.TokensOut != 5 {
		t.Fatalf("usage not recorded: %+v", msg)
	}

	stored, err := st.Messages().List(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("got %d stored messages, want 2", len(stored))
	}
	if stored[0].Role != models.RoleUser || stored[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", stored[0].Role, stored[1].Role)
	}
}

func TestSendMessageSetsTitleFromFirstMessage(t *testing.T) {
	svc, st := newTestService(t, "sure")
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "user-1", "", "")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	if _, err := svc.SendMessage(ctx, session.ID, "user-1", "help me write a parser"); err != nil {
		t.Fatalf("sending message: %v", err)
	}

	got, err := st.Sessions().Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if got.Title != "help me write a parser" {
		t.Fatalf("title = %q", got.Title)
	}
}

func TestSessionTitleTruncatesOnRuneBoundary(t *testing.T) {
	svc, st := newTestService(t, "sure")
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "user-1", "", "")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	long := strings.Repeat("héllo wörld ", 10)
	if _, err := svc.SendMessage(ctx, session.ID, "user-1", long); err != nil {
		t.Fatalf("sending message: %v", err)
	}

	got, err := st.Sessions().Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if !utf8.ValidString(got.Title) {
		t.Fatalf("title is not valid UTF-8: %q", got.Title)
	}
	if !strings.HasSuffix(got.Title, "...") {
		t.Fatalf("title not truncated: %q", got.Title)
	}
	if n := utf8.RuneCountInString(got.Title); n != 80 {
		t.Fatalf("title rune count = %d, want 80", n)
	}
}

func TestSubscribersReceiveChunksAndDone(t *testing.T) {
	svc, _ := newTestService(t, "streamed reply")
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "user-1", "", "")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	ch, cancel := svc.Subscribe(session.ID)
	defer cancel()

	if _, err := svc.SendMessage(ctx, session.ID, "user-1", "hi"); err != nil {
		t.Fatalf("sending message: %v", err)
	}

	var deltas []string
	var done bool
	for !done {
		select {
		case ev := <-ch:
			switch ev.Type {
			case StreamChunk:
				deltas = append(deltas, ev.Delta)
			case StreamDone:
				done = true
				if ev.Message == nil || ev.Message.Content != "streamed reply" {
					t.Fatalf("done event message: %+v", ev.Message)
				}
			}
		default:
			t.Fatal("subscriber channel drained before done event")
		}
	}
	if strings.Join(deltas, "") != "streamed reply" {
		t.Fatalf("deltas = %v", deltas)
	}
}

func TestToolLoopExecutesAndFeedsBack(t *testing.T) {
	toolCall := "```tool\n{\"name\": \"clock\", \"input\": \"\"}\n```"
	svc, st := newTestService(t, toolCall, "the time is above")
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "user-1", "", "")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	msg, err := svc.SendMessage(ctx, session.ID, "user-1", "what time is it")
	if err != nil {
		t.Fatalf("sending message: %v", err)
	}
	if msg.Content != "the time is above" {
		t.Fatalf("final message = %q", msg.Content)
	}

	stored, err := st.Messages().List(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	// user, assistant(tool call), tool, assistant(final)
	if len(stored) != 4 {
		t.Fatalf("got %d stored messages, want 4", len(stored))
	}
	if stored[2].Role != models.RoleTool || stored[2].ToolName != "clock" {
		t.Fatalf("tool message: %+v", stored[2])
	}
}

func TestDangerousToolCallBlocked(t *testing.T) {
	toolCall := "```tool\n{\"name\": \"shell\", \"input\": \"rm -rf /\"}\n```"
	svc, st := newTestService(t, toolCall, "understood")
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "user-1", "", "")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	if _, err := svc.SendMessage(ctx, session.ID, "user-1", "wipe the disk"); err != nil {
		t.Fatalf("sending message: %v", err)
	}

	stored, err := st.Messages().List(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	var toolMsg *models.Message
	for _, m := range stored {
		if m.Role == models.RoleTool {
			toolMsg = m
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message recorded")
	}
	if !strings.Contains(toolMsg.Content, "blocked by security policy") {
		t.Fatalf("tool message = %q", toolMsg.Content)
	}
}

func TestParseToolCall(t *testing.T) {
	cases := []struct {
		content string
		want    *ToolCall
		wantErr bool
	}{
		{"plain response", nil, false},
		{"```tool\n{\"name\": \"shell\", \"input\": \"ls\"}\n```", &ToolCall{Name: "shell", Input: "ls"}, false},
		{"before\n```tool\n{\"name\": \"clock\", \"input\": \"\"}\n```\nafter", &ToolCall{Name: "clock"}, false},
		{"```tool\nnot json\n```", nil, true},
		{"```tool\n{\"input\": \"ls\"}\n```", nil, true},
	}
	for _, tc := range cases {
		got, err := ParseToolCall(tc.content)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseToolCall(%q): expected error", tc.content)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseToolCall(%q): %v", tc.content, err)
			continue
		}
		if fmt.Sprintf("%+v", got) != fmt.Sprintf("%+v", tc.want) {
			t.Errorf("ParseToolCall(%q) = %+v, want %+v", tc.content, got, tc.want)
		}
	}
}

func TestSendMessageUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.SendMessage(context.Background(), "missing", "user-1", "hi"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
