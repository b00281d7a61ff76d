// Package syncgate implements a reusable N-party rendezvous with a bounded
// wait. Parties use it to loosely align their hand-off cadence; a party that
// gives up simply carries on.
package syncgate

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout is how long producers wait for their peers.
const DefaultTimeout = time.Second

// Stats is a snapshot of gate counters.
type Stats struct {
	Parties  int    `json:"parties"`
	Waiting  int    `json:"waiting"`
	Trips    uint64 `json:"trips"`
	Timeouts uint64 `json:"timeouts"`
}

// Gate releases all waiters once Parties have arrived in the same
// generation. Unlike a classic barrier it never breaks: a waiter that times
// out withdraws its arrival and the gate stays usable.
type Gate struct {
	mu       sync.Mutex
	parties  int
	arrived  int
	release  chan struct{}
	trips    uint64
	timeouts uint64
}

// New creates a gate for n parties.
func New(n int) *Gate {
	return &Gate{
		parties: n,
		release: make(chan struct{}),
	}
}

// Parties returns the configured party count.
func (g *Gate) Parties() int {
	return g.parties
}

// ArriveAndWait blocks until all parties arrived, timeout elapsed or ctx is
// done. It returns true only when the generation completed.
func (g *Gate) ArriveAndWait(ctx context.Context, timeout time.Duration) bool {
	if g == nil || g.parties <= 1 {
		return true
	}

	g.mu.Lock()
	g.arrived++
	if g.arrived == g.parties {
		g.tripLocked()
		g.mu.Unlock()
		return true
	}
	release := g.release
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-release:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// The generation may have completed while we were giving up
	select {
	case <-release:
		return true
	default:
	}
	g.arrived--
	g.timeouts++
	return false
}

func (g *Gate) tripLocked() {
	close(g.release)
	g.release = make(chan struct{})
	g.arrived = 0
	g.trips++
}

// Stats returns a snapshot of the counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Parties:  g.parties,
		Waiting:  g.arrived,
		Trips:    g.trips,
		Timeouts: g.timeouts,
	}
}
