// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"maps"
	"sync"
	"time"
)

// timing accumulates durations of one kind of call.
type timing struct {
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

func (t *timing) add(d time.Duration) {
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.count++
	t.total += d
}

func (t *timing) snapshot() TimingSnapshot {
	s := TimingSnapshot{
		Count:       t.count,
		TotalTimeMs: t.total.Milliseconds(),
		MinTimeMs:   t.min.Milliseconds(),
		MaxTimeMs:   t.max.Milliseconds(),
	}
	if t.count > 0 {
		s.AvgTimeMs = float64(t.total.Milliseconds()) / float64(t.count)
	}
	return s
}

// TimingSnapshot provides computed duration stats.
type TimingSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// ProviderSnapshot is the call and token usage of one execution provider.
type ProviderSnapshot struct {
	Calls        TimingSnapshot `json:"calls"`
	Failures     int64          `json:"failures"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                     `json:"uptime_seconds"`
	Items         map[string]TimingSnapshot   `json:"items,omitempty"`    // operation -> durations
	Outcomes      map[string]map[string]int64 `json:"outcomes,omitempty"` // operation -> item status -> count
	ErrorCodes    map[string]int64            `json:"error_codes,omitempty"`
	Providers     map[string]ProviderSnapshot `json:"providers,omitempty"`
	DBQuery       *TimingSnapshot             `json:"db_query,omitempty"`
}

type providerStats struct {
	calls    timing
	failures int64
	in, out  int64
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu         sync.RWMutex
	startTime  time.Time
	items      map[string]*timing
	outcomes   map[string]map[string]int64
	errorCodes map[string]int64
	providers  map[string]*providerStats
	db         timing
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime:  time.Now(),
		items:      make(map[string]*timing),
		outcomes:   make(map[string]map[string]int64),
		errorCodes: make(map[string]int64),
		providers:  make(map[string]*providerStats),
	}
}

// RecordItem counts one finished item by operation and final status.
// errorCode is empty for items that did not fail.
func (c *Collector) RecordItem(operation, status, errorCode string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.items[operation]
	if !ok {
		t = &timing{}
		c.items[operation] = t
	}
	t.add(d)

	byStatus, ok := c.outcomes[operation]
	if !ok {
		byStatus = make(map[string]int64)
		c.outcomes[operation] = byStatus
	}
	byStatus[status]++

	if errorCode != "" {
		c.errorCodes[errorCode]++
	}
}

// RecordLLMCall records one provider call with its token usage.
// Failed calls count their duration but carry no tokens.
func (c *Collector) RecordLLMCall(provider string, d time.Duration, inputTokens, outputTokens int64, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.providers[provider]
	if !ok {
		p = &providerStats{}
		c.providers[provider] = p
	}
	p.calls.add(d)
	if failed {
		p.failures++
		return
	}
	p.in += inputTokens
	p.out += outputTokens
}

// RecordDBQuery records the duration of one store round trip.
func (c *Collector) RecordDBQuery(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db.add(d)
}

// Snapshot returns a point-in-time copy of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Items:         make(map[string]TimingSnapshot, len(c.items)),
		Outcomes:      make(map[string]map[string]int64, len(c.outcomes)),
		ErrorCodes:    maps.Clone(c.errorCodes),
		Providers:     make(map[string]ProviderSnapshot, len(c.providers)),
	}
	for op, t := range c.items {
		snap.Items[op] = t.snapshot()
	}
	for op, byStatus := range c.outcomes {
		snap.Outcomes[op] = maps.Clone(byStatus)
	}
	for name, p := range c.providers {
		snap.Providers[name] = ProviderSnapshot{
			Calls:        p.calls.snapshot(),
			Failures:     p.failures,
			InputTokens:  p.in,
			OutputTokens: p.out,
		}
	}
	if c.db.count > 0 {
		db := c.db.snapshot()
		snap.DBQuery = &db
	}
	return snap
}
