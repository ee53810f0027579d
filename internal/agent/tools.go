package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/garyzero/gary-zero/internal/security"
)

// ToolKind selects which validator rule set screens a tool's input.
type ToolKind string

const (
	ToolKindCommand ToolKind = "command"
	ToolKindCode    ToolKind = "code"
	ToolKindOther   ToolKind = "other"
)

// Tool is an action the agent can invoke between completions.
type Tool interface {
	Name() string
	Description() string
	Kind() ToolKind
	Run(ctx context.Context, input string) (string, error)
}

// ToolCall is a tool invocation parsed from an assistant response.
type ToolCall struct {
	Name  string `json:"name"`
	Input string `json:"input"`
}

// Assistant responses request a tool by emitting a fenced block:
//
//	```tool
//	{"name": "shell", "input": "ls -la"}
//	```
var toolBlockRe = regexp.MustCompile("(?s)```tool\\s*\\n(.*?)\\n```")

// ParseToolCall extracts the first tool call from an assistant response.
// Returns nil when the response contains none.
func ParseToolCall(content string) (*ToolCall, error) {
	match := toolBlockRe.FindStringSubmatch(content)
	if match == nil {
		return nil, nil
	}

	var call ToolCall
	if err := json.Unmarshal([]byte(strings.TrimSpace(match[1])), &call); err != nil {
		return nil, fmt.Errorf("parsing tool call: %w", err)
	}
	if call.Name == "" {
		return nil, fmt.Errorf("tool call missing name")
	}
	return &call, nil
}

// ShellTool runs shell commands in a working directory. Input is
// screened by the security validator before it reaches Run.
type ShellTool struct {
	WorkDir string
	Timeout time.Duration
}

func (t *ShellTool) Name() string        { return "shell" }
func (t *ShellTool) Description() string { return "run a shell command and return its output" }
func (t *ShellTool) Kind() ToolKind      { return ToolKindCommand }

func (t *ShellTool) Run(ctx context.Context, input string) (string, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", input)
	cmd.Dir = t.WorkDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("running command: %w", err)
	}
	return string(out), nil
}

// ClockTool reports the current time, a zero-risk built-in.
type ClockTool struct{}

func (t *ClockTool) Name() string        { return "clock" }
func (t *ClockTool) Description() string { return "return the current UTC time" }
func (t *ClockTool) Kind() ToolKind      { return ToolKindOther }

func (t *ClockTool) Run(ctx context.Context, input string) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// screenInput applies the validator rule set matching the tool's kind.
func screenInput(validator *security.Validator, tool Tool, input string) security.Verdict {
	switch tool.Kind() {
	case ToolKindCommand:
		return validator.ValidateCommand(input)
	case ToolKindCode:
		return validator.ValidateCode(input)
	default:
		return security.Verdict{Allowed: true, Risk: security.RiskLow}
	}
}
