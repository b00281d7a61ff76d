package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/nardellimar25/vsg-gateway/internal/logger"
)

const (
	// DefaultMaxDatagram is the largest UDP payload accepted.
	DefaultMaxDatagram = 65535
	// DefaultReadTimeout bounds each receive so shutdown is noticed.
	DefaultReadTimeout = time.Second
)

// UDPConfig is shared by the datagram sources.
type UDPConfig struct {
	Name         string        // used in logs ("raw", "blurred", "metadata")
	Addr         string        // listen address, host:port
	MaxDatagram  int           // receive buffer size
	ReadTimeout  time.Duration // per-receive deadline
	ProcessDelay time.Duration // pause after each handled datagram
}

func (c *UDPConfig) applyDefaults() {
	if c.MaxDatagram <= 0 {
		c.MaxDatagram = DefaultMaxDatagram
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
}

// datagramLoop owns a bound UDP socket and feeds payloads to a handler.
type datagramLoop struct {
	cfg  UDPConfig
	conn *net.UDPConn
	buf  []byte
}

func listenUDP(cfg UDPConfig) (*datagramLoop, error) {
	cfg.applyDefaults()
	addr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s address %q: %w", cfg.Name, cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s receiver on %s: %w", cfg.Name, cfg.Addr, err)
	}
	if err := conn.SetReadBuffer(4 * cfg.MaxDatagram); err != nil {
		logger.Debug("UDP", "%s: could not enlarge socket buffer: %v", cfg.Name, err)
	}
	logger.Info("UDP", "%s receiver listening on %s", cfg.Name, conn.LocalAddr())
	return &datagramLoop{cfg: cfg, conn: conn, buf: make([]byte, cfg.MaxDatagram)}, nil
}

// LocalAddr returns the bound address.
func (l *datagramLoop) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Close releases the socket. It is safe to call after run has returned.
func (l *datagramLoop) Close() error {
	if err := l.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s: close: %w", l.cfg.Name, err)
	}
	return nil
}

// run receives until ctx is done. The payload passed to handle is only
// valid during the call.
func (l *datagramLoop) run(ctx context.Context, handle func(ctx context.Context, payload []byte)) error {
	defer l.conn.Close()

	for {
		select {
		case <-ctx.Done():
			logger.Info("UDP", "%s receiver stopped", l.cfg.Name)
			return nil
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("%s: set read deadline: %w", l.cfg.Name, err)
		}
		n, _, err := l.conn.ReadFromUDP(l.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("UDP", "%s: receive error: %v", l.cfg.Name, err)
			continue
		}

		handle(ctx, l.buf[:n])
		sleepCtx(ctx, l.cfg.ProcessDelay)
	}
}
