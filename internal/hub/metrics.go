package hub

import (
	"sync"
	"time"

	"github.com/weiawesome/melo-live/pkg/log"
)

// slowDispatchThreshold is how long one event dispatch may take before it is
// reported as slow.
const slowDispatchThreshold = time.Second

// Metrics aggregates per-event-kind dispatch statistics.
type Metrics struct {
	mu     sync.Mutex
	events map[string]*eventStats
}

type eventStats struct {
	count       int64
	errors      int64
	totalMillis int64
	maxMillis   int64
	lastSeen    time.Time
}

// EventSnapshot is the exported view of one event kind's statistics.
type EventSnapshot struct {
	Count     int64     `json:"count"`
	Errors    int64     `json:"errors"`
	AvgMillis float64   `json:"avg_ms"`
	MaxMillis int64     `json:"max_ms"`
	LastSeen  time.Time `json:"last_seen"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		events: make(map[string]*eventStats),
	}
}

// Observe records one dispatch of an event kind. Dispatches slower than the
// threshold are logged.
func (m *Metrics) Observe(eventKind string, duration time.Duration, err error) {
	millis := duration.Milliseconds()

	m.mu.Lock()
	stats, ok := m.events[eventKind]
	if !ok {
		stats = &eventStats{}
		m.events[eventKind] = stats
	}
	stats.count++
	if err != nil {
		stats.errors++
	}
	stats.totalMillis += millis
	if millis > stats.maxMillis {
		stats.maxMillis = millis
	}
	stats.lastSeen = time.Now()
	m.mu.Unlock()

	if duration > slowDispatchThreshold {
		log.L().Warn().
			Str(log.FieldEvent, eventKind).
			Dur(log.FieldLatency, duration).
			Msg("slow event dispatch")
	}
}

// Snapshot returns a copy of the per-event statistics.
func (m *Metrics) Snapshot() map[string]EventSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]EventSnapshot, len(m.events))
	for kind, stats := range m.events {
		snap := EventSnapshot{
			Count:     stats.count,
			Errors:    stats.errors,
			MaxMillis: stats.maxMillis,
			LastSeen:  stats.lastSeen,
		}
		if stats.count > 0 {
			snap.AvgMillis = float64(stats.totalMillis) / float64(stats.count)
		}
		out[kind] = snap
	}
	return out
}
