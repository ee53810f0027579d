// Package models defines the core data types shared across the Gary-Zero server.
package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of a chat session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusIdle     SessionStatus = "idle"
	SessionStatusArchived SessionStatus = "archived"
)

// ChatSession represents a conversation between a user and an agent.
type ChatSession struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	AgentName string        `json:"agent_name"`
	Title     string        `json:"title,omitempty"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate checks that required session fields are present.
func (s *ChatSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.UserID == "" {
		return fmt.Errorf("session user_id is required")
	}
	switch s.Status {
	case SessionStatusActive, SessionStatusIdle, SessionStatusArchived:
	default:
		return fmt.Errorf("invalid session status: %q", s.Status)
	}
	return nil
}

// MessageRole identifies the author of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message represents a single message within a chat session.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	// ToolName is set for tool-role messages describing a tool invocation.
	ToolName string `json:"tool_name,omitempty"`
	// TokensIn/TokensOut record provider-reported token usage for the
	// exchange that produced this message (assistant messages only).
	TokensIn  int       `json:"tokens_in,omitempty"`
	TokensOut int       `json:"tokens_out,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that required message fields are present.
func (m *Message) Validate() error {
	if m.SessionID == "" {
		return fmt.Errorf("message session_id is required")
	}
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %q", m.Role)
	}
	return nil
}
