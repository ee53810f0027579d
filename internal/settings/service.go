// Package settings manages the Gary-Zero settings file: model selection,
// agent preferences, and provider API keys. Settings live as JSON under
// the data directory and are written atomically. API keys are encrypted
// at rest with age when keys are configured, and always redacted in
// values handed to API responses.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/garyzero/gary-zero/pkg/config"
)

// FileName is the settings file name under the data directory.
const FileName = "settings.json"

// MaskedValue replaces API key material in redacted settings copies.
// An update carrying this value leaves the stored key untouched.
const MaskedValue = "********"

// encPrefix marks a stored API key value as age ciphertext.
const encPrefix = "enc:"

// Known provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderGroq      = "groq"
)

// ErrNoAPIKey is returned when no key is available for a provider,
// neither in the settings file nor in the environment.
var ErrNoAPIKey = errors.New("no API key configured for provider")

// Settings is the persisted shape of DATA_DIR/settings.json.
type Settings struct {
	// ChatProvider and ChatModel select the main conversation model.
	ChatProvider string `json:"chat_provider"`
	ChatModel    string `json:"chat_model"`

	// UtilityProvider and UtilityModel select the cheaper model used for
	// summaries and tool-argument repair.
	UtilityProvider string `json:"utility_provider"`
	UtilityModel    string `json:"utility_model"`

	// Generation parameters applied to chat completions.
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`

	// MaxToolIterations bounds the agent tool loop per user message.
	MaxToolIterations int `json:"max_tool_iterations"`

	// A2AEnabled gates the agent-to-agent streaming endpoint.
	A2AEnabled bool `json:"a2a_enabled"`

	// APIKeys maps provider name to stored key material. Values are
	// either plaintext or "enc:" + base64 age ciphertext.
	APIKeys map[string]string `json:"api_keys,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Defaults returns the settings used when no file exists yet.
func Defaults() Settings {
	return Settings{
		ChatProvider:      ProviderOpenAI,
		ChatModel:         "gpt-4o",
		UtilityProvider:   ProviderOpenAI,
		UtilityModel:      "gpt-4o-mini",
		Temperature:       0.7,
		MaxTokens:         4096,
		MaxToolIterations: 10,
		A2AEnabled:        false,
		APIKeys:           map[string]string{},
	}
}

// Service loads, serves, and persists settings. All methods are safe for
// concurrent use.
type Service struct {
	path      string
	cipher    *Cipher
	providers config.ProviderConfig
	logger    *slog.Logger

	mu       sync.RWMutex
	current  Settings
	watchers map[int]chan Settings
	nextID   int
}

// NewService loads settings from dataDir (creating defaults if no file
// exists) and returns a service over them. The cipher may be nil when
// no encryption keys are configured.
func NewService(dataDir string, cipher *Cipher, providers config.ProviderConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		path:      filepath.Join(dataDir, FileName),
		cipher:    cipher,
		providers: providers,
		logger:    logger,
		watchers:  make(map[int]chan Settings),
	}

	loaded, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current = loaded

	return s, nil
}

func (s *Service) load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no settings file, using defaults", "path", s.path)
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings file: %w", err)
	}

	loaded := Defaults()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return Settings{}, fmt.Errorf("parsing settings file: %w", err)
	}
	if loaded.APIKeys == nil {
		loaded.APIKeys = map[string]string{}
	}
	return loaded, nil
}

// Get returns a redacted copy: API key values are replaced with
// MaskedValue. Safe to serialize into API responses.
func (s *Service) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.current
	out.APIKeys = make(map[string]string, len(s.current.APIKeys))
	for provider := range s.current.APIKeys {
		out.APIKeys[provider] = MaskedValue
	}
	return out
}

// Update applies new settings and persists them. Incoming API key
// values equal to MaskedValue keep the stored key; empty values remove
// the key; anything else is stored (encrypted when a public key is
// configured). Watchers are notified with a redacted copy.
func (s *Service) Update(incoming Settings) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := incoming
	next.APIKeys = make(map[string]string, len(incoming.APIKeys))
	for provider, value := range incoming.APIKeys {
		switch value {
		case "":
			// dropped
		case MaskedValue:
			if existing, ok := s.current.APIKeys[provider]; ok {
				next.APIKeys[provider] = existing
			}
		default:
			stored, err := s.storeKey(value)
			if err != nil {
				return Settings{}, fmt.Errorf("storing %s key: %w", provider, err)
			}
			next.APIKeys[provider] = stored
		}
	}
	next.UpdatedAt = time.Now().UTC()

	if err := s.write(next); err != nil {
		return Settings{}, err
	}
	s.current = next

	redacted := s.redactedLocked()
	for _, ch := range s.watchers {
		select {
		case ch <- redacted:
		default:
			s.logger.Warn("settings watcher channel full, dropping notification")
		}
	}

	s.logger.Info("settings updated",
		"chat_provider", next.ChatProvider,
		"chat_model", next.ChatModel,
		"api_keys", len(next.APIKeys))
	return redacted, nil
}

// Watch returns a channel that receives a redacted settings copy on
// every update, and a cancel function that must be called to release it.
func (s *Service) Watch() (<-chan Settings, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Settings, 4)
	s.watchers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// ResolveAPIKey returns the usable key for a provider. Settings file
// values take precedence over environment variables.
func (s *Service) ResolveAPIKey(provider string) (string, error) {
	s.mu.RLock()
	stored, ok := s.current.APIKeys[provider]
	s.mu.RUnlock()

	if ok && stored != "" {
		if strings.HasPrefix(stored, encPrefix) {
			if s.cipher == nil || !s.cipher.CanDecrypt() {
				return "", fmt.Errorf("%s key is encrypted: %w", provider, ErrNoPrivateKey)
			}
			plaintext, err := s.cipher.DecryptString(strings.TrimPrefix(stored, encPrefix))
			if err != nil {
				return "", fmt.Errorf("decrypting %s key: %w", provider, err)
			}
			return plaintext, nil
		}
		return stored, nil
	}

	if key := s.envKey(provider); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoAPIKey, provider)
}

// HasAPIKey reports whether a key is available for a provider from
// either source, without decrypting anything.
func (s *Service) HasAPIKey(provider string) bool {
	s.mu.RLock()
	stored, ok := s.current.APIKeys[provider]
	s.mu.RUnlock()
	if ok && stored != "" {
		return true
	}
	return s.envKey(provider) != ""
}

func (s *Service) envKey(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return s.providers.OpenAIKey
	case ProviderAnthropic:
		return s.providers.AnthropicKey
	case ProviderGoogle:
		return s.providers.GeminiKey
	case ProviderGroq:
		return s.providers.GroqKey
	default:
		return ""
	}
}

// storeKey converts a plaintext key to its stored form.
func (s *Service) storeKey(plaintext string) (string, error) {
	if s.cipher != nil && s.cipher.CanEncrypt() {
		ciphertext, err := s.cipher.EncryptString(plaintext)
		if err != nil {
			return "", err
		}
		return encPrefix + ciphertext, nil
	}
	return plaintext, nil
}

// redactedLocked returns a masked copy. Caller holds at least s.mu read.
func (s *Service) redactedLocked() Settings {
	out := s.current
	out.APIKeys = make(map[string]string, len(s.current.APIKeys))
	for provider := range s.current.APIKeys {
		out.APIKeys[provider] = MaskedValue
	}
	return out
}

// write persists settings atomically: temp file in the same directory,
// fsync, then rename over the target.
func (s *Service) write(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting settings file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}
