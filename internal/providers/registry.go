package providers

import (
	"fmt"
	"log/slog"

	"github.com/garyzero/gary-zero/pkg/config"
)

// Registry holds the configured provider clients by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry with all supported providers wired to
// the given key source. Keys are resolved per call, so providers whose
// keys arrive later through settings still work without re-wiring.
func NewRegistry(keys KeySource, cfg config.ProviderConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	policy := RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff}

	r := &Registry{providers: make(map[string]Provider)}
	r.Register(NewOpenAI(keys, cfg.RequestTimeout, policy, logger))
	r.Register(NewAnthropic(keys, cfg.RequestTimeout, policy, logger))
	r.Register(NewGoogle(keys, cfg.RequestTimeout, policy, logger))
	r.Register(NewGroq(keys, cfg.RequestTimeout, policy, logger))
	return r
}

// NewEmptyRegistry creates a registry with no providers, used by tests.
func NewEmptyRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the provider for a name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
