// Package metrics provides in-memory runtime statistics for the session layer.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single timed operation.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for streamed messages)
	TotalReasoningTokens int64
	TotalContentTokens   int64
	MaxContentTokens     int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// Token stats (nil if not applicable)
	TotalReasoningTokens *int64
	TotalContentTokens   *int64
	AvgContentTokens     *float64
	MaxContentTokens     *int64
}

// Snapshot represents the full statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Counters      map[string]int64
	Dial          *OperationSnapshot
	Stream        *OperationSnapshot
}

// Counter names.
const (
	CounterFramesReceived = "frames_received"
	CounterFramesDropped  = "frames_dropped"
	CounterFramesUnknown  = "frames_unknown"
	CounterReconnects     = "reconnects"
	CounterStreamErrors   = "stream_errors"
)

// Timed operation names.
const (
	OpDial   = "dial"
	OpStream = "stream"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and safe to call on a nil receiver.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	counters  map[string]int64
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		counters:  make(map[string]int64),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime: time.Duration(math.MaxInt64),
		}
		c.ops[op] = m
	}
	return m
}

// Inc increments a named counter.
func (c *Collector) Inc(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name]++
}

// Count returns the current value of a counter.
func (c *Collector) Count(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.record(c.getOrCreate(op), duration)
}

// RecordStream records the duration and token counts of one streamed message.
func (c *Collector) RecordStream(duration time.Duration, reasoningTokens, contentTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(OpStream)
	c.record(m, duration)

	m.TotalReasoningTokens += reasoningTokens
	m.TotalContentTokens += contentTokens
	if contentTokens > m.MaxContentTokens {
		m.MaxContentTokens = contentTokens
	}
}

func (c *Collector) record(m *OperationMetrics, duration time.Duration) {
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeTokens {
		totalReasoning := m.TotalReasoningTokens
		totalContent := m.TotalContentTokens
		avgContent := float64(m.TotalContentTokens) / float64(m.Count)
		maxContent := m.MaxContentTokens

		snap.TotalReasoningTokens = &totalReasoning
		snap.TotalContentTokens = &totalContent
		snap.AvgContentTokens = &avgContent
		snap.MaxContentTokens = &maxContent
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Counters: map[string]int64{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Counters:      counters,
		Dial:          snapshotOp(c.ops[OpDial], false),
		Stream:        snapshotOp(c.ops[OpStream], true),
	}
}
