// internal/executor/metrics.go
package executor

import (
	"sync"
	"time"
)

// Entry is one immutable row of the action metrics log.
type Entry struct {
	Raw        string        `json:"raw"`
	Kind       string        `json:"kind"`
	Success    bool          `json:"success"`
	Category   string        `json:"category,omitempty"`
	Error      string        `json:"error,omitempty"`
	Resolved   string        `json:"resolved,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
	Retries    int           `json:"retries"`
	DOMChanged bool          `json:"dom_changed"`
	At         time.Time     `json:"at"`
}

// Summary aggregates the log for the result record.
type Summary struct {
	Total          int           `json:"total"`
	Failed         int           `json:"failed"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency_ns"`
}

// MetricsLog is the append-only record of every action attempt in a session.
// Entries are never mutated or removed.
type MetricsLog struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMetricsLog returns an empty log.
func NewMetricsLog() *MetricsLog {
	return &MetricsLog{}
}

// Record appends the outcome of one action attempt.
func (m *MetricsLog) Record(res Result) {
	entry := Entry{
		Raw:        res.Action.Raw,
		Kind:       string(res.Action.Kind),
		Success:    res.Success,
		Category:   string(res.Category),
		Resolved:   res.Resolved,
		Confidence: res.Confidence,
		Latency:    res.Latency,
		Retries:    res.Retries,
		DOMChanged: res.DOMChanged,
		At:         time.Now(),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Entries returns a copy of the log in append order.
func (m *MetricsLog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Aggregate folds the log into the session-level summary.
func (m *MetricsLog) Aggregate() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{Total: len(m.entries)}
	if s.Total == 0 {
		return s
	}

	var totalLatency time.Duration
	for _, e := range m.entries {
		if !e.Success {
			s.Failed++
		}
		totalLatency += e.Latency
	}
	s.SuccessRate = float64(s.Total-s.Failed) / float64(s.Total)
	s.AverageLatency = totalLatency / time.Duration(s.Total)
	return s
}
