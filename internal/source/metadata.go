package source

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/nardellimar25/vsg-gateway/internal/detection"
	"github.com/nardellimar25/vsg-gateway/internal/logger"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// MetadataDecoder parses one metadata payload.
type MetadataDecoder func([]byte) (types.DetectionSet, error)

// DecoderForFormat returns the decoder for "json" or "binary".
func DecoderForFormat(format string) (MetadataDecoder, error) {
	switch format {
	case "", "json":
		return detection.DecodeJSON, nil
	case "binary":
		return detection.DecodeBinary, nil
	default:
		return nil, fmt.Errorf("unknown metadata format %q", format)
	}
}

// Sequencer stamps detection sets with arrival order and time.
type Sequencer struct {
	seq atomic.Uint64
}

// Stamp sets Seq and ReceivedAt on set.
func (s *Sequencer) Stamp(set *types.DetectionSet) {
	set.Seq = s.seq.Add(1)
	set.ReceivedAt = time.Now()
}

// UDPMetadataSource receives one detection set per datagram.
type UDPMetadataSource struct {
	loop    *datagramLoop
	decode  MetadataDecoder
	handoff *Handoff[types.DetectionSet]
	seq     Sequencer
}

// NewUDPMetadataSource binds the socket immediately.
func NewUDPMetadataSource(cfg UDPConfig, decode MetadataDecoder, h *Handoff[types.DetectionSet]) (*UDPMetadataSource, error) {
	if decode == nil {
		decode = detection.DecodeJSON
	}
	loop, err := listenUDP(cfg)
	if err != nil {
		return nil, err
	}
	return &UDPMetadataSource{loop: loop, decode: decode, handoff: h}, nil
}

// Name implements Runner.
func (s *UDPMetadataSource) Name() string { return s.loop.cfg.Name }

// LocalAddr returns the bound address.
func (s *UDPMetadataSource) LocalAddr() net.Addr { return s.loop.LocalAddr() }

// Close releases the socket of a source that may never have run.
func (s *UDPMetadataSource) Close() error { return s.loop.Close() }

// Run implements Runner.
func (s *UDPMetadataSource) Run(ctx context.Context) error {
	return s.loop.run(ctx, s.handle)
}

func (s *UDPMetadataSource) handle(ctx context.Context, payload []byte) {
	set, err := s.decode(payload)
	if err != nil {
		inc(s.handoff.Counters.DecodeErrors)
		logger.Warn("UDP", "%s: dropping malformed metadata (%d bytes): %v", s.Name(), len(payload), err)
		return
	}
	s.seq.Stamp(&set)
	logger.Debug("UDP", "%s: seq=%d boxes=%d", s.Name(), set.Seq, len(set.Detections))
	s.handoff.Deliver(ctx, set)
}
