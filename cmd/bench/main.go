// Package main provides a one-shot benchmark runner. It loads a YAML
// suite file, runs it against the configured provider, and prints the
// summary without needing a running server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/garyzero/gary-zero/internal/benchmark"
	"github.com/garyzero/gary-zero/internal/providers"
	"github.com/garyzero/gary-zero/pkg/config"
	"github.com/garyzero/gary-zero/pkg/logger"
)

func main() {
	suitePath := flag.String("suite", "", "Path to a YAML suite file")
	concurrency := flag.Int("concurrency", 4, "Parallel task workers")
	timeout := flag.Duration("timeout", 2*time.Minute, "Per-task timeout")
	retries := flag.Int("retries", 0, "Retries per failing task")
	flag.Parse()

	if *suitePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: bench -suite path/to/suite.yaml")
		os.Exit(1)
	}

	log := logger.New(slog.LevelWarn, false)
	cfg := config.LoadWithDefaults()

	data, err := os.ReadFile(*suitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading suite: %v\n", err)
		os.Exit(1)
	}
	suite, err := benchmark.ParseSuite(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing suite: %v\n", err)
		os.Exit(1)
	}

	// Keys come straight from the environment; no settings file needed.
	keys := providers.StaticKeys{
		providers.NameOpenAI:    cfg.Providers.OpenAIKey,
		providers.NameAnthropic: cfg.Providers.AnthropicKey,
		providers.NameGoogle:    cfg.Providers.GeminiKey,
		providers.NameGroq:      cfg.Providers.GroqKey,
	}
	registry := providers.NewRegistry(keys, cfg.Providers, log.Logger)

	suiteRegistry := benchmark.NewRegistry()
	if err := benchmark.RegisterSuite(suite, suiteRegistry, registry); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering suite: %v\n", err)
		os.Exit(1)
	}
	tasks, err := suiteRegistry.Tasks(suite.Name, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error collecting tasks: %v\n", err)
		os.Exit(1)
	}

	harness := benchmark.NewHarness(benchmark.HarnessConfig{
		Concurrency: *concurrency,
		TaskTimeout: *timeout,
		MaxRetries:  *retries,
	}, log.Logger)

	fmt.Printf("Running suite %q (%d tasks, provider %s, model %s)\n",
		suite.Name, len(tasks), suite.Provider, suite.Model)

	start := time.Now()
	results := harness.Run(context.Background(), fmt.Sprintf("local-%d", start.Unix()), tasks)
	summary := benchmark.Summarize(results)

	fmt.Printf("\nFinished in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  attempts:     %d\n", summary.Attempts)
	fmt.Printf("  tasks:        %d\n", summary.Tasks)
	fmt.Printf("  successes:    %d\n", summary.Successes)
	fmt.Printf("  success rate: %.1f%%\n", summary.SuccessRate*100)
	if summary.Successes > 0 {
		fmt.Printf("  mean score:   %.2f\n", summary.MeanScore)
		fmt.Printf("  latency:      mean %.0fms, median %.0fms, p95 %.0fms\n",
			summary.MeanMs, summary.MedianMs, summary.P95Ms)
	}

	for _, r := range results {
		if !r.Success {
			fmt.Printf("  FAIL %s (attempt %d): %s\n", r.TaskName, r.Attempt, r.Error)
		}
	}

	if summary.Successes < summary.Attempts {
		os.Exit(1)
	}
}
