package webmonitor

import (
	"github.com/nardellimar25/vsg-gateway/internal/events"
	"github.com/nardellimar25/vsg-gateway/internal/latest"
	"github.com/nardellimar25/vsg-gateway/internal/syncgate"
)

// QueueStatus is the snapshot of one hand-off queue.
type QueueStatus struct {
	Name string `json:"name"`
	latest.Stats
}

// PipelineStatus describes the producer side of the gateway.
type PipelineStatus struct {
	Topology  string         `json:"topology"`
	LocalBlur bool           `json:"local_blur"`
	Queues    []QueueStatus  `json:"queues"`
	Gate      syncgate.Stats `json:"gate"`
}

// CycleStats counts published cycles by outcome.
type CycleStats struct {
	Total             uint64            `json:"total"`
	ByOutcome         map[string]uint64 `json:"by_outcome"`
	RegionsSensitive  uint64            `json:"regions_sensitive"`
	LastCycleSeq      uint64            `json:"last_cycle_seq"`
	LastEmitTimestamp float64           `json:"last_emit_timestamp"`
}

// StatusPayload is the body of /api/status and /api/status/stream.
type StatusPayload struct {
	Pipeline  PipelineStatus      `json:"pipeline"`
	Cycles    CycleStats          `json:"cycles"`
	Latest    *events.CycleEvent  `json:"latest_cycle"`
	History   []events.CycleEvent `json:"cycle_history"`
	Clients   map[string]int      `json:"clients"`
	Timestamp float64             `json:"timestamp"`
}
