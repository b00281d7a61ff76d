// Package feeder sends push-topology traffic to a running gateway: encoded
// raw and blurred frames plus a detection set, one datagram each.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nardellimar25/vsg-gateway/internal/detection"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// Config addresses the gateway's UDP ports.
type Config struct {
	Host        string
	PortRaw     int
	PortBlurred int // 0 disables the blurred stream
	PortCoords  int
	Format      string // json or binary
}

// DefaultConfig matches the gateway defaults on localhost.
func DefaultConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		PortRaw:     5000,
		PortBlurred: 5001,
		PortCoords:  5002,
		Format:      "json",
	}
}

// Feeder owns one connected UDP socket per stream.
type Feeder struct {
	cfg     Config
	raw     net.Conn
	blurred net.Conn
	coords  net.Conn
}

// New dials every configured port.
func New(cfg Config) (*Feeder, error) {
	if cfg.Format != "json" && cfg.Format != "binary" {
		return nil, fmt.Errorf("feeder: unknown metadata format %q", cfg.Format)
	}
	f := &Feeder{cfg: cfg}

	var err error
	if f.raw, err = dial(cfg.Host, cfg.PortRaw); err != nil {
		return nil, err
	}
	if cfg.PortBlurred > 0 {
		if f.blurred, err = dial(cfg.Host, cfg.PortBlurred); err != nil {
			f.Close()
			return nil, err
		}
	}
	if f.coords, err = dial(cfg.Host, cfg.PortCoords); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func dial(host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("feeder: dial %s: %w", addr, err)
	}
	return conn, nil
}

// EncodeBoxes renders boxes in the configured metadata format.
func (f *Feeder) EncodeBoxes(boxes []types.BoundingBox) ([]byte, error) {
	set := types.DetectionSet{Detections: make([]types.Detection, len(boxes))}
	for i, b := range boxes {
		set.Detections[i] = types.Detection{Box: b}
	}
	if f.cfg.Format == "binary" {
		return detection.EncodeBinary(set), nil
	}
	return detection.EncodeJSON(set)
}

// Send writes one raw frame, one blurred frame (if enabled) and one
// detection set. blurred is ignored without a blurred port.
func (f *Feeder) Send(raw, blurred []byte, boxes []types.BoundingBox) error {
	meta, err := f.EncodeBoxes(boxes)
	if err != nil {
		return err
	}
	if _, err := f.raw.Write(raw); err != nil {
		return fmt.Errorf("feeder: send raw: %w", err)
	}
	if f.blurred != nil {
		if _, err := f.blurred.Write(blurred); err != nil {
			return fmt.Errorf("feeder: send blurred: %w", err)
		}
	}
	if _, err := f.coords.Write(meta); err != nil {
		return fmt.Errorf("feeder: send metadata: %w", err)
	}
	return nil
}

// Run sends the same payloads every interval until count sets were sent
// (count <= 0 means forever) or ctx is done.
func (f *Feeder) Run(ctx context.Context, interval time.Duration, count int, raw, blurred []byte, boxes []types.BoundingBox) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		if err := f.Send(raw, blurred, boxes); err != nil {
			return sent, err
		}
		sent++
		if count > 0 && sent >= count {
			return sent, nil
		}
		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
}

// Close closes every socket.
func (f *Feeder) Close() error {
	var errs []error
	for _, c := range []net.Conn{f.raw, f.blurred, f.coords} {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
