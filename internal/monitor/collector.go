// Package monitor provides in-process metrics collection, threshold
// alerting, and text exposition for scraping.
package monitor

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Collector accumulates counters and gauges. All methods are safe for
// concurrent use.
type Collector struct {
	mu        sync.RWMutex
	counters  map[string]float64
	gauges    map[string]float64
	durations map[string]*durationStats
	startedAt time.Time
}

type durationStats struct {
	count int64
	total time.Duration
	max   time.Duration
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]float64),
		gauges:    make(map[string]float64),
		durations: make(map[string]*durationStats),
		startedAt: time.Now(),
	}
}

// Inc increments a counter by one.
func (c *Collector) Inc(name string) {
	c.Add(name, 1)
}

// Add increments a counter by delta.
func (c *Collector) Add(name string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

// SetGauge sets a gauge to a value.
func (c *Collector) SetGauge(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
}

// Observe records a duration sample for a named timing metric.
func (c *Collector) Observe(name string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.durations[name]
	if !ok {
		stats = &durationStats{}
		c.durations[name] = stats
	}
	stats.count++
	stats.total += d
	if d > stats.max {
		stats.max = d
	}
}

// RecordRequest records an HTTP request outcome.
func (c *Collector) RecordRequest(status int, d time.Duration) {
	c.Inc("http_requests_total")
	if status >= 500 {
		c.Inc("http_requests_errors_total")
	}
	c.Observe("http_request_duration", d)
}

// RecordProviderCall records an LLM provider call outcome.
func (c *Collector) RecordProviderCall(provider string, success bool, d time.Duration, tokensIn, tokensOut int) {
	c.Inc("provider_calls_total")
	c.Inc("provider_calls_total:" + provider)
	if !success {
		c.Inc("provider_errors_total")
		c.Inc("provider_errors_total:" + provider)
	}
	c.Add("provider_tokens_in_total", float64(tokensIn))
	c.Add("provider_tokens_out_total", float64(tokensOut))
	c.Observe("provider_call_duration", d)
}

// Snapshot returns a copy of every metric as a flat name -> value map.
// Duration metrics are exported as <name>_avg_ms and <name>_max_ms.
func (c *Collector) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(map[string]float64, len(c.counters)+len(c.gauges)+2*len(c.durations)+1)
	for name, v := range c.counters {
		snap[name] = v
	}
	for name, v := range c.gauges {
		snap[name] = v
	}
	for name, stats := range c.durations {
		if stats.count > 0 {
			avg := stats.total / time.Duration(stats.count)
			snap[name+"_avg_ms"] = float64(avg.Milliseconds())
			snap[name+"_max_ms"] = float64(stats.max.Milliseconds())
		}
	}
	snap["uptime_seconds"] = time.Since(c.startedAt).Seconds()

	// Derived error rates for alerting.
	if total := snap["http_requests_total"]; total > 0 {
		snap["http_error_rate"] = snap["http_requests_errors_total"] / total
	}
	if total := snap["provider_calls_total"]; total > 0 {
		snap["provider_error_rate"] = snap["provider_errors_total"] / total
	}

	return snap
}

// WriteText writes all metrics in a flat text exposition format,
// one "name value" pair per line, sorted by name.
func (c *Collector) WriteText(w io.Writer) error {
	snap := c.Snapshot()

	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s %g\n", name, snap[name]); err != nil {
			return err
		}
	}
	return nil
}
