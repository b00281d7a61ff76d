package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nardellimar25/vsg-gateway/internal/logger"
)

// Publisher receives every cycle event.
type Publisher interface {
	Publish(ev *CycleEvent, serialized *SerializedEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev *CycleEvent, serialized *SerializedEvent) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ev *CycleEvent, serialized *SerializedEvent) error {
	return f(ev, serialized)
}

// Publish implements Publisher for the SSE/websocket fanout.
func (b *Broadcaster) Publish(_ *CycleEvent, serialized *SerializedEvent) error {
	b.Broadcast(serialized)
	return nil
}

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL     string
	Subject string
	Name    string
}

// DefaultNATSSubject is the subject prefix cycle events are published under.
const DefaultNATSSubject = "vsg.cycles"

// NATSPublisher publishes cycle events as JSON on
// <subject>.<outcome>, e.g. vsg.cycles.emitted.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to the NATS server.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.Subject == "" {
		cfg.Subject = DefaultNATSSubject
	}
	if cfg.Name == "" {
		cfg.Name = "vsg-gateway"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS", "Disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS", "Reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("NATS", "Publishing cycle events to %s.* on %s", cfg.Subject, nc.ConnectedUrl())
	return newNATSPublisher(nc, cfg.Subject), nil
}

func newNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject}
}

// Subject returns the subject used for an outcome.
func (p *NATSPublisher) Subject(outcome string) string {
	return SubjectFor(p.subject, outcome)
}

// SubjectFor joins prefix and a lowercased outcome token.
func SubjectFor(prefix, outcome string) string {
	token := strings.ToLower(strings.ReplaceAll(outcome, " ", "_"))
	if token == "" {
		token = "unknown"
	}
	return prefix + "." + token
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ev *CycleEvent, serialized *SerializedEvent) error {
	if err := p.nc.Publish(p.Subject(ev.Outcome), serialized.JSONData); err != nil {
		return fmt.Errorf("failed to publish cycle %d: %w", ev.Seq, err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Fanout sends each event to every publisher, logging failures. One
// failing publisher does not prevent delivery to the others.
type Fanout []Publisher

// Publish implements Publisher and returns the first error seen.
func (f Fanout) Publish(ev *CycleEvent, serialized *SerializedEvent) error {
	var first error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ev, serialized); err != nil {
			logger.Warn("Events", "publish cycle %d: %v", ev.Seq, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
