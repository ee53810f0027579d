package eventlog

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/garyzero/gary-zero/internal/models"
)

// **Feature: gary-zero, Property 5: Credentials never survive sanitization**
// For any message containing a recognizable API key or bearer token, the
// sanitized output SHALL NOT contain the original secret.

// genSecret generates strings shaped like real provider credentials.
func genSecret() gopter.Gen {
	return gen.OneGenOf(
		gen.Identifier().Map(func(s string) string { return "sk-" + s + "0123456789abcdef" }),
		gen.Identifier().Map(func(s string) string { return "sk-ant-" + s + "0123456789abcdef" }),
		gen.Identifier().Map(func(s string) string { return "gsk_" + s + "0123456789abcdef" }),
		gen.Identifier().Map(func(s string) string { return "gz_" + s + "0123456789abcdef" }),
		gen.Identifier().Map(func(s string) string { return "Bearer " + s + "0123456789" }),
	)
}

func TestSanitizeRedactsSecrets(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Secrets embedded in messages are redacted", prop.ForAll(
		func(prefix, secret, suffix string) bool {
			message := prefix + " " + secret + " " + suffix
			sanitized := SanitizeString(message)
			return !contains(sanitized, secret)
		},
		gen.AlphaString(),
		genSecret(),
		gen.AlphaString(),
	))

	properties.Property("Metadata values are redacted", prop.ForAll(
		func(secret string) bool {
			event := &models.LogEvent{
				Type:     models.EventTypeProvider,
				Message:  "request sent",
				Metadata: map[string]string{"header": secret},
			}
			Sanitize(event)
			return !contains(event.Metadata["header"], secret)
		},
		genSecret(),
	))

	properties.TestingRun(t)
}

func TestSanitizeRedactsAnthropicKeys(t *testing.T) {
	key := "sk-ant-REDACTED"
	got := SanitizeString("using " + key + " for auth")
	if contains(got, key) {
		t.Fatalf("anthropic key survived sanitization: %q", got)
	}
	if contains(got, "sk-ant-") {
		t.Fatalf("anthropic key prefix survived sanitization: %q", got)
	}
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// **Feature: gary-zero, Property 6: Buffer capacity is never exceeded**
// For any sequence of events added to a bounded buffer, the buffer length
// SHALL never exceed its configured capacity.

func TestBufferBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Buffer never exceeds capacity", prop.ForAll(
		func(capacity, count int) bool {
			buf := NewBuffer(capacity)
			for i := 0; i < count; i++ {
				buf.Add(&models.LogEvent{ID: "e", Message: "m"})
			}
			return buf.Len() <= buf.MaxEvents()
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 200),
	))

	properties.Property("GetLast returns at most n events in order", prop.ForAll(
		func(count, n int) bool {
			buf := NewBuffer(1000)
			for i := 0; i < count; i++ {
				buf.Add(&models.LogEvent{ID: string(rune('a' + i%26))})
			}
			last := buf.GetLast(n)
			if n <= 0 {
				return last == nil
			}
			expect := n
			if count < n {
				expect = count
			}
			return len(last) == expect
		},
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// **Feature: gary-zero, Property 7: Broker delivers only matching events**
// For any subscriber filter, published events reach the subscriber if and
// only if every non-empty filter field matches.

func TestBrokerFilterDelivery(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	genComponent := gen.OneConstOf("agent", "providers", "deploy", "flags")

	properties.Property("Component filter is respected", prop.ForAll(
		func(subComponent, eventComponent string) bool {
			broker := NewBroker(nil)
			sub := broker.Subscribe(context.Background(), models.EventFilter{Component: subComponent})
			defer broker.Unsubscribe(sub)

			broker.Publish(&models.LogEvent{
				ID:        "e1",
				Type:      models.EventTypeSystem,
				Level:     models.EventLevelInfo,
				Component: eventComponent,
				Message:   "hello",
			})

			select {
			case <-sub.Ch:
				return subComponent == eventComponent
			default:
				return subComponent != eventComponent
			}
		},
		genComponent,
		genComponent,
	))

	properties.Property("Empty filter matches everything", prop.ForAll(
		func(component string) bool {
			broker := NewBroker(nil)
			sub := broker.Subscribe(context.Background(), models.EventFilter{})
			defer broker.Unsubscribe(sub)

			broker.Publish(&models.LogEvent{
				ID:        "e1",
				Component: component,
				Message:   "hello",
			})

			select {
			case <-sub.Ch:
				return true
			default:
				return false
			}
		},
		genComponent,
	))

	properties.TestingRun(t)
}
