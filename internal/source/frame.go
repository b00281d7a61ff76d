package source

import (
	"context"
	"net"

	"github.com/nardellimar25/vsg-gateway/internal/codec"
	"github.com/nardellimar25/vsg-gateway/internal/logger"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// UDPFrameSource receives one encoded image per datagram.
type UDPFrameSource struct {
	loop     *datagramLoop
	codec    codec.Codec
	handoff  *Handoff[*types.Frame]
	snapshot *Snapshot
}

// NewUDPFrameSource binds the socket immediately so configuration errors
// surface at startup.
func NewUDPFrameSource(cfg UDPConfig, c codec.Codec, h *Handoff[*types.Frame], snap *Snapshot) (*UDPFrameSource, error) {
	loop, err := listenUDP(cfg)
	if err != nil {
		return nil, err
	}
	return &UDPFrameSource{loop: loop, codec: c, handoff: h, snapshot: snap}, nil
}

// Name implements Runner.
func (s *UDPFrameSource) Name() string { return s.loop.cfg.Name }

// LocalAddr returns the bound address.
func (s *UDPFrameSource) LocalAddr() net.Addr { return s.loop.LocalAddr() }

// Close releases the socket of a source that may never have run.
func (s *UDPFrameSource) Close() error { return s.loop.Close() }

// Run implements Runner.
func (s *UDPFrameSource) Run(ctx context.Context) error {
	return s.loop.run(ctx, s.handle)
}

func (s *UDPFrameSource) handle(ctx context.Context, payload []byte) {
	frame, err := s.codec.Decode(payload)
	if err != nil {
		inc(s.handoff.Counters.DecodeErrors)
		logger.Warn("UDP", "%s: dropping undecodable datagram (%d bytes): %v", s.Name(), len(payload), err)
		return
	}
	logger.Debug("UDP", "%s: frame %dx%d trace=%s", s.Name(), frame.Width, frame.Height, frame.TraceID)

	s.snapshot.Save(ctx, "UDP", frame, s.handoff.Counters)
	s.handoff.Deliver(ctx, frame)
}
