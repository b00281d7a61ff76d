package events

import (
	"sync"
	"sync/atomic"

	"github.com/nardellimar25/vsg-gateway/internal/logger"
)

// Broadcaster fans pre-serialized cycle events out to subscribers. Slow
// subscribers miss events instead of blocking the publisher.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	dropped atomic.Uint64
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[int]chan *SerializedEvent)}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (b *Broadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, 8)
	b.clients[id] = ch

	logger.Debug("EventBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// ClientCount returns the number of subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Dropped returns how many deliveries were skipped for slow clients.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Broadcast delivers ev to every subscriber without blocking.
func (b *Broadcaster) Broadcast(ev *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// FrameBroadcaster fans encoded composite frames out to MJPEG clients.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	latest  []byte
}

// NewFrameBroadcaster creates an empty frame broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{clients: make(map[int]chan []byte)}
}

// Subscribe adds a new client. The most recent frame, if any, is queued
// immediately so new viewers do not wait for the next cycle.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	if fb.latest != nil {
		ch <- fb.latest
	}
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// ClientCount returns the number of MJPEG viewers.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Latest returns the last broadcast frame.
func (fb *FrameBroadcaster) Latest() ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.latest, fb.latest != nil
}

// Broadcast stores data as the latest frame and sends it to every client
// that has room for it.
func (fb *FrameBroadcaster) Broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.latest = data
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}
