package eventlog

import (
	"regexp"

	"github.com/garyzero/gary-zero/internal/models"
)

// Redacted replaces any recognized credential in event payloads.
const Redacted = "[REDACTED]"

// secretPatterns match credential material that must never reach the
// event store. Order matters: more specific prefixes first.
var secretPatterns = []*regexp.Regexp{
	// Anthropic keys
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{16,}`),
	// OpenAI-style keys (sk-..., sk-proj-...)
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	// Groq keys
	regexp.MustCompile(`gsk_[A-Za-z0-9]{16,}`),
	// Google AI keys
	regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`),
	// Internal API keys
	regexp.MustCompile(`gz_[A-Za-z0-9_-]{16,}`),
	// Bearer tokens in headers or log lines
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{8,}=*`),
	// key=value style assignments
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[=:]\s*\S+`),
}

// SanitizeString redacts credential material from a string.
func SanitizeString(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, Redacted)
	}
	return s
}

// Sanitize redacts credential material from an event's message and
// metadata in place and returns the event.
func Sanitize(event *models.LogEvent) *models.LogEvent {
	if event == nil {
		return nil
	}

	event.Message = SanitizeString(event.Message)
	for k, v := range event.Metadata {
		event.Metadata[k] = SanitizeString(v)
	}
	return event
}
