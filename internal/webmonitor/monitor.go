package webmonitor

import (
	"sync"
	"time"

	"github.com/nardellimar25/vsg-gateway/internal/events"
)

const historySize = 8

// Monitor keeps the recent cycle history for the status endpoints. It is
// fed as an events.Publisher.
type Monitor struct {
	startTime time.Time
	pipeline  func() PipelineStatus

	mu        sync.Mutex
	latest    *events.CycleEvent
	history   []events.CycleEvent
	byOutcome map[string]uint64
	total     uint64
	sensitive uint64
	lastEmit  float64
}

// NewMonitor creates a Monitor. pipeline may be nil.
func NewMonitor(pipeline func() PipelineStatus) *Monitor {
	return &Monitor{
		startTime: time.Now(),
		pipeline:  pipeline,
		byOutcome: make(map[string]uint64),
	}
}

// Publish implements events.Publisher.
func (m *Monitor) Publish(ev *events.CycleEvent, _ *events.SerializedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	m.latest = &cp
	m.total++
	m.byOutcome[ev.Outcome]++
	m.sensitive += uint64(ev.SensitiveCount())
	if ev.Outcome == "emitted" {
		m.lastEmit = ev.Timestamp
	}
	if len(ev.Regions) > 0 {
		m.history = append([]events.CycleEvent{cp}, m.history...)
		if len(m.history) > historySize {
			m.history = m.history[:historySize]
		}
	}
	return nil
}

// Uptime returns the time since the monitor was created.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot returns the pipeline status, cycle stats, latest cycle and the
// history of cycles that classified at least one region.
func (m *Monitor) Snapshot() (PipelineStatus, CycleStats, *events.CycleEvent, []events.CycleEvent) {
	var pipeline PipelineStatus
	if m.pipeline != nil {
		pipeline = m.pipeline()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := CycleStats{
		Total:             m.total,
		ByOutcome:         make(map[string]uint64, len(m.byOutcome)),
		RegionsSensitive:  m.sensitive,
		LastEmitTimestamp: m.lastEmit,
	}
	for k, v := range m.byOutcome {
		stats.ByOutcome[k] = v
	}

	var latestCopy *events.CycleEvent
	if m.latest != nil {
		cp := *m.latest
		latestCopy = &cp
		stats.LastCycleSeq = cp.Seq
	}

	historyCopy := make([]events.CycleEvent, len(m.history))
	copy(historyCopy, m.history)

	return pipeline, stats, latestCopy, historyCopy
}
