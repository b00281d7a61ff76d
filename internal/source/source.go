// Package source contains the producer side of the gateway: workers that
// receive frames or detection metadata and hand the newest value to the
// orchestrator through a latest-wins queue and the shared sync gate.
package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nardellimar25/vsg-gateway/internal/latest"
	"github.com/nardellimar25/vsg-gateway/internal/logger"
	"github.com/nardellimar25/vsg-gateway/internal/sink"
	"github.com/nardellimar25/vsg-gateway/internal/syncgate"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// Runner is a long-lived producer. Run blocks until ctx is done or the
// source fails irrecoverably.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Counters are optional hooks into the metrics registry. Nil fields are
// ignored.
type Counters struct {
	Received       *atomic.Uint64
	DecodeErrors   *atomic.Uint64
	SnapshotErrors *atomic.Uint64
	GateTimeouts   *atomic.Uint64
}

func inc(c *atomic.Uint64) {
	if c != nil {
		c.Add(1)
	}
}

// CountDecodeError records a payload that could not be decoded. It is used
// by producers outside this package.
func CountDecodeError(c Counters) { inc(c.DecodeErrors) }

// Handoff delivers a produced value: put into the queue, then rendezvous
// on the gate. The gate is advisory, so its timeout is only counted.
type Handoff[T any] struct {
	Queue       *latest.Queue[T]
	Gate        *syncgate.Gate
	GateTimeout time.Duration
	Counters    Counters
}

// NewHandoff returns a Handoff with the default gate timeout.
func NewHandoff[T any](q *latest.Queue[T], g *syncgate.Gate, c Counters) *Handoff[T] {
	return &Handoff[T]{Queue: q, Gate: g, GateTimeout: syncgate.DefaultTimeout, Counters: c}
}

// Deliver queues v and waits on the gate. It reports whether the gate
// released normally.
func (h *Handoff[T]) Deliver(ctx context.Context, v T) bool {
	h.Queue.Put(v)
	inc(h.Counters.Received)
	if h.Gate.ArriveAndWait(ctx, h.GateTimeout) {
		return true
	}
	if ctx.Err() == nil {
		inc(h.Counters.GateTimeouts)
	}
	return false
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Snapshot persists a debug copy of each received frame. A nil *Snapshot
// is valid and does nothing.
type Snapshot struct {
	Saver *sink.Snapshotter
	Key   string
}

// Save writes frame under the snapshot key, logging failures.
func (s *Snapshot) Save(ctx context.Context, module string, frame *types.Frame, c Counters) {
	if s == nil || s.Saver == nil || s.Key == "" {
		return
	}
	if _, err := s.Saver.Save(ctx, s.Key, frame); err != nil {
		inc(c.SnapshotErrors)
		logger.Warn(module, "debug snapshot failed: %v", err)
	}
}
