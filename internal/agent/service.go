// Package agent orchestrates chat sessions: it persists messages,
// resolves the provider and model for each exchange, streams completions
// to subscribers, and runs the tool loop with security screening.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/flags"
	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/monitor"
	"github.com/garyzero/gary-zero/internal/providers"
	"github.com/garyzero/gary-zero/internal/security"
	"github.com/garyzero/gary-zero/internal/settings"
	"github.com/garyzero/gary-zero/internal/store"
)

// ErrSessionNotFound is returned when a session ID resolves to nothing.
var ErrSessionNotFound = errors.New("session not found")

// FlagUtilityModel routes a user's chat to the cheaper utility model
// when enabled for them.
const FlagUtilityModel = "use_utility_model"

// historyLimit bounds how many stored messages are replayed to the
// provider per exchange.
const historyLimit = 50

// systemPrompt is prepended to every exchange. It documents the tool
// protocol the agent parses from assistant responses.
const systemPrompt = `You are Gary-Zero, an autonomous agent. You may invoke a tool by
responding with a fenced block:

` + "```tool\n" + `{"name": "<tool name>", "input": "<tool input>"}
` + "```" + `

Available tools: shell (run a shell command), clock (current UTC time).
Tool output will be returned to you in a follow-up message. Respond
normally when no tool is needed.`

// StreamEventType tags events delivered to session subscribers.
type StreamEventType string

const (
	// StreamChunk carries one streamed completion fragment.
	StreamChunk StreamEventType = "chunk"
	// StreamTool reports a tool invocation and its result.
	StreamTool StreamEventType = "tool"
	// StreamDone carries the persisted assistant message.
	StreamDone StreamEventType = "done"
	// StreamError reports a failed exchange.
	StreamError StreamEventType = "error"
)

// StreamEvent is delivered to session subscribers during an exchange.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	SessionID string          `json:"session_id"`
	Delta     string          `json:"delta,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Service orchestrates chat exchanges.
type Service struct {
	store     store.Store
	registry  *providers.Registry
	settings  *settings.Service
	flags     *flags.Service
	events    *eventlog.Service
	validator *security.Validator
	collector *monitor.Collector
	logger    *slog.Logger

	toolsMu sync.RWMutex
	tools   map[string]Tool

	subsMu sync.RWMutex
	subs   map[string]map[string]chan StreamEvent
}

// NewService creates the agent service. The flags service and metrics
// collector are optional.
func NewService(
	st store.Store,
	registry *providers.Registry,
	settingsSvc *settings.Service,
	flagsSvc *flags.Service,
	events *eventlog.Service,
	validator *security.Validator,
	collector *monitor.Collector,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		registry:  registry,
		settings:  settingsSvc,
		flags:     flagsSvc,
		events:    events,
		validator: validator,
		collector: collector,
		logger:    logger,
		tools:     make(map[string]Tool),
		subs:      make(map[string]map[string]chan StreamEvent),
	}
	s.RegisterTool(&ClockTool{})
	s.RegisterTool(&ShellTool{})
	return s
}

// RegisterTool adds or replaces a tool.
func (s *Service) RegisterTool(tool Tool) {
	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()
	s.tools[tool.Name()] = tool
}

// CreateSession creates a session with the provider and model resolved
// from settings and feature flags at creation time.
func (s *Service) CreateSession(ctx context.Context, userID, agentName, title string) (*models.ChatSession, error) {
	provider, model := s.resolveModel(ctx, userID)

	now := time.Now().UTC()
	session := &models.ChatSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		AgentName: agentName,
		Title:     title,
		Provider:  provider,
		Model:     model,
		Status:    models.SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if session.AgentName == "" {
		session.AgentName = "gary-zero"
	}

	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session, mapping store misses to
// ErrSessionNotFound.
func (s *Service) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	session, err := s.store.Sessions().Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// Subscribe registers a live stream subscriber for a session. The
// returned cancel function must be called to release it.
func (s *Service) Subscribe(sessionID string) (<-chan StreamEvent, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := uuid.New().String()
	ch := make(chan StreamEvent, 64)
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[string]chan StreamEvent)
	}
	s.subs[sessionID][id] = ch

	cancel := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if subs, ok := s.subs[sessionID]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(s.subs, sessionID)
			}
		}
	}
	return ch, cancel
}

func (s *Service) publish(sessionID string, event StreamEvent) {
	event.SessionID = sessionID

	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, ch := range s.subs[sessionID] {
		select {
		case ch <- event:
		default:
			s.logger.Warn("stream subscriber channel full, dropping event", "session_id", sessionID)
		}
	}
}

// SendMessage runs one full exchange: persist the user message, stream
// a completion, run requested tools (screened by the validator), and
// return the final assistant message.
func (s *Service) SendMessage(ctx context.Context, sessionID, userID, content string) (*models.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userMsg := &models.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Messages().Create(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}
	s.maybeSetTitle(ctx, session, content)
	s.logEvent(ctx, session, models.EventTypeMessage, models.EventLevelInfo,
		"user message received", map[string]string{"role": "user"})

	history, err := s.buildHistory(ctx, session)
	if err != nil {
		return nil, err
	}

	maxIterations := s.settings.Get().MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	var assistantMsg *models.Message
	for iteration := 0; iteration < maxIterations; iteration++ {
		assistantMsg, err = s.complete(ctx, session, history)
		if err != nil {
			s.publish(sessionID, StreamEvent{Type: StreamError, Error: err.Error()})
			s.logEvent(ctx, session, models.EventTypeProvider, models.EventLevelError,
				"completion failed: "+err.Error(), nil)
			return nil, err
		}
		history = append(history, providers.Message{Role: "assistant", Content: assistantMsg.Content})

		call, parseErr := ParseToolCall(assistantMsg.Content)
		if parseErr != nil {
			s.logger.Warn("malformed tool call in response", "session_id", sessionID, "error", parseErr)
			break
		}
		if call == nil {
			break
		}

		toolMsg := s.runTool(ctx, session, call)
		history = append(history, providers.Message{Role: "user", Content: toolMsg.Content})
	}

	if err := s.store.Sessions().Touch(ctx, sessionID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to touch session", "session_id", sessionID, "error", err)
	}
	return assistantMsg, nil
}

// complete streams one completion and persists the assistant message.
func (s *Service) complete(ctx context.Context, session *models.ChatSession, history []providers.Message) (*models.Message, error) {
	provider, err := s.registry.Get(session.Provider)
	if err != nil {
		return nil, err
	}

	cfg := s.settings.Get()
	req := providers.CompletionRequest{
		Model:       session.Model,
		Messages:    history,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := provider.Stream(ctx, req, func(chunk providers.Chunk) error {
		if chunk.Delta != "" {
			s.publish(session.ID, StreamEvent{Type: StreamChunk, Delta: chunk.Delta})
		}
		return nil
	})
	elapsed := time.Since(start)

	if s.collector != nil {
		var in, out int
		if resp != nil {
			in, out = resp.Usage.TokensIn, resp.Usage.TokensOut
		}
		s.collector.RecordProviderCall(session.Provider, err == nil, elapsed, in, out)
	}
	if err != nil {
		return nil, fmt.Errorf("completing with %s: %w", session.Provider, err)
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		TokensIn:  resp.Usage.TokensIn,
		TokensOut: resp.Usage.TokensOut,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	s.publish(session.ID, StreamEvent{Type: StreamDone, Message: msg})
	s.logEvent(ctx, session, models.EventTypeProvider, models.EventLevelInfo,
		"completion finished", map[string]string{
			"provider":   session.Provider,
			"model":      session.Model,
			"tokens_in":  fmt.Sprintf("%d", msg.TokensIn),
			"tokens_out": fmt.Sprintf("%d", msg.TokensOut),
		})
	return msg, nil
}

// runTool screens and executes one tool call, persisting the tool
// message either way.
func (s *Service) runTool(ctx context.Context, session *models.ChatSession, call *ToolCall) *models.Message {
	var result string

	s.toolsMu.RLock()
	tool, ok := s.tools[call.Name]
	s.toolsMu.RUnlock()

	switch {
	case !ok:
		result = fmt.Sprintf("tool error: unknown tool %q", call.Name)
	default:
		verdict := screenInput(s.validator, tool, call.Input)
		switch {
		case !verdict.Allowed:
			result = fmt.Sprintf("tool blocked by security policy (%s): %s", verdict.Rule, verdict.Reason)
			s.logEvent(ctx, session, models.EventTypeSecurity, models.EventLevelWarn,
				"tool call blocked", map[string]string{
					"tool": call.Name, "rule": verdict.Rule, "risk": string(verdict.Risk),
				})
		case verdict.RequiresApproval:
			result = fmt.Sprintf("tool requires operator approval (%s): %s", verdict.Rule, verdict.Reason)
			s.logEvent(ctx, session, models.EventTypeSecurity, models.EventLevelWarn,
				"tool call held for approval", map[string]string{
					"tool": call.Name, "rule": verdict.Rule, "risk": string(verdict.Risk),
				})
		default:
			out, err := tool.Run(ctx, call.Input)
			if err != nil {
				result = fmt.Sprintf("tool error: %v\n%s", err, out)
			} else {
				result = out
			}
		}
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      models.RoleTool,
		ToolName:  call.Name,
		Content:   result,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		s.logger.Error("failed to persist tool message", "session_id", session.ID, "error", err)
	}

	s.publish(session.ID, StreamEvent{Type: StreamTool, ToolName: call.Name, Message: msg})
	s.logEvent(ctx, session, models.EventTypeToolCall, models.EventLevelInfo,
		"tool executed: "+call.Name, map[string]string{"tool": call.Name})
	return msg
}

// buildHistory assembles the provider message list: system prompt plus
// the stored conversation. Tool messages are replayed as user turns so
// every provider sees a valid alternation.
func (s *Service) buildHistory(ctx context.Context, session *models.ChatSession) ([]providers.Message, error) {
	stored, err := s.store.Messages().List(ctx, session.ID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading session history: %w", err)
	}

	history := make([]providers.Message, 0, len(stored)+1)
	history = append(history, providers.Message{Role: "system", Content: systemPrompt})
	for _, m := range stored {
		role := string(m.Role)
		if m.Role == models.RoleTool {
			role = "user"
		}
		history = append(history, providers.Message{Role: role, Content: m.Content})
	}
	return history, nil
}

// resolveModel picks the provider and model for a new session from
// settings, with the utility-model flag overriding per user.
func (s *Service) resolveModel(ctx context.Context, userID string) (string, string) {
	cfg := s.settings.Get()
	provider, model := cfg.ChatProvider, cfg.ChatModel

	if s.flags != nil && s.flags.IsEnabled(ctx, FlagUtilityModel, userID) {
		provider, model = cfg.UtilityProvider, cfg.UtilityModel
	}
	return provider, model
}

// maybeSetTitle derives a session title from the first user message.
func (s *Service) maybeSetTitle(ctx context.Context, session *models.ChatSession, content string) {
	if session.Title != "" {
		return
	}

	title := strings.TrimSpace(content)
	// Truncate on rune boundaries so multibyte input stays valid UTF-8.
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:77]) + "..."
	}
	session.Title = title
	if err := s.store.Sessions().Update(ctx, session); err != nil {
		s.logger.Warn("failed to set session title", "session_id", session.ID, "error", err)
	}
}

func (s *Service) logEvent(ctx context.Context, session *models.ChatSession, typ models.EventType, level models.EventLevel, message string, metadata map[string]string) {
	if s.events == nil {
		return
	}
	err := s.events.Log(ctx, &models.LogEvent{
		Type:      typ,
		Level:     level,
		Component: "agent",
		SessionID: session.ID,
		UserID:    session.UserID,
		Message:   message,
		Metadata:  metadata,
	})
	if err != nil {
		s.logger.Error("failed to log agent event", "error", err)
	}
}
