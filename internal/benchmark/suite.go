package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/garyzero/gary-zero/internal/providers"
)

// SuiteFile is the YAML shape of a benchmark suite definition.
type SuiteFile struct {
	Name     string      `yaml:"name"`
	Provider string      `yaml:"provider"`
	Model    string      `yaml:"model"`
	Tasks    []SuiteTask `yaml:"tasks"`
}

// SuiteTask is one prompt/expectation pair. The task scores the
// fraction of expected substrings found in the completion.
type SuiteTask struct {
	Name           string   `yaml:"name"`
	Prompt         string   `yaml:"prompt"`
	System         string   `yaml:"system,omitempty"`
	ExpectContains []string `yaml:"expect_contains,omitempty"`
	Tags           []string `yaml:"tags,omitempty"`
}

// Validate checks a suite definition for completeness.
func (f *SuiteFile) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("suite name is required")
	}
	if f.Provider == "" || f.Model == "" {
		return fmt.Errorf("suite %q: provider and model are required", f.Name)
	}
	if len(f.Tasks) == 0 {
		return fmt.Errorf("suite %q has no tasks", f.Name)
	}
	for i, t := range f.Tasks {
		if t.Name == "" {
			return fmt.Errorf("suite %q: task %d has no name", f.Name, i)
		}
		if t.Prompt == "" {
			return fmt.Errorf("suite %q: task %q has no prompt", f.Name, t.Name)
		}
	}
	return nil
}

// ParseSuite parses a suite definition from YAML.
func ParseSuite(data []byte) (*SuiteFile, error) {
	var file SuiteFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing suite: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// LoadSuiteDir loads every *.yaml suite in a directory into the
// registry, binding tasks to providers from the given registry.
func LoadSuiteDir(dir string, registry *Registry, provs *providers.Registry) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading suite directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, fmt.Errorf("reading suite %s: %w", entry.Name(), err)
		}
		suite, err := ParseSuite(data)
		if err != nil {
			return loaded, fmt.Errorf("suite %s: %w", entry.Name(), err)
		}
		if err := RegisterSuite(suite, registry, provs); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// RegisterSuite turns a suite definition into provider-backed tasks.
func RegisterSuite(suite *SuiteFile, registry *Registry, provs *providers.Registry) error {
	provider, err := provs.Get(suite.Provider)
	if err != nil {
		return fmt.Errorf("suite %q: %w", suite.Name, err)
	}

	for _, def := range suite.Tasks {
		def := def
		task := &Task{
			Name: def.Name,
			Tags: def.Tags,
			Run: func(ctx context.Context) (float64, error) {
				var messages []providers.Message
				if def.System != "" {
					messages = append(messages, providers.Message{Role: "system", Content: def.System})
				}
				messages = append(messages, providers.Message{Role: "user", Content: def.Prompt})

				resp, err := provider.Complete(ctx, providers.CompletionRequest{
					Model:    suite.Model,
					Messages: messages,
				})
				if err != nil {
					return 0, err
				}
				return scoreCompletion(resp.Content, def.ExpectContains), nil
			},
		}
		if err := registry.Register(suite.Name, task); err != nil {
			return err
		}
	}
	return nil
}

// scoreCompletion returns the fraction of expected substrings present
// in the completion, case-insensitively. No expectations scores 1.
func scoreCompletion(content string, expect []string) float64 {
	if len(expect) == 0 {
		return 1
	}
	lower := strings.ToLower(content)
	found := 0
	for _, want := range expect {
		if strings.Contains(lower, strings.ToLower(want)) {
			found++
		}
	}
	return float64(found) / float64(len(expect))
}
