package gst

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/nardellimar25/vsg-gateway/internal/detection"
	"github.com/nardellimar25/vsg-gateway/internal/logger"
	"github.com/nardellimar25/vsg-gateway/internal/source"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// FrameReceiver pulls decoded RGB frames from an appsink. No image decoding
// happens in Go; the pipeline delivers raw pixels.
type FrameReceiver struct {
	name     string
	pipe     *appPipeline
	handoff  *source.Handoff[*types.Frame]
	snapshot *source.Snapshot
	ctx      atomic.Pointer[context.Context]
}

// NewFrameReceiver parses the video pipeline for port.
func NewFrameReceiver(name string, port int, h *source.Handoff[*types.Frame], snap *source.Snapshot) (*FrameReceiver, error) {
	pipe, err := newAppPipeline(name, VideoLaunch(port, "video_sink"), "video_sink")
	if err != nil {
		return nil, err
	}
	return &FrameReceiver{name: name, pipe: pipe, handoff: h, snapshot: snap}, nil
}

// Name implements source.Runner.
func (r *FrameReceiver) Name() string { return r.name }

// Run implements source.Runner.
func (r *FrameReceiver) Run(ctx context.Context) error {
	r.ctx.Store(&ctx)
	return r.pipe.run(ctx, r.onSample)
}

func (r *FrameReceiver) runCtx() context.Context {
	if p := r.ctx.Load(); p != nil {
		return *p
	}
	return context.Background()
}

func (r *FrameReceiver) onSample(sink *app.Sink) gst.FlowReturn {
	data, caps, ok := pullBytes(sink)
	if !ok {
		logger.Debug("GStreamer", "%s: empty sample skipped", r.name)
		return gst.FlowOK
	}

	width, height := 0, 0
	if caps != nil && caps.GetSize() > 0 {
		s := caps.GetStructureAt(0)
		if v, err := s.GetValue("width"); err == nil {
			width, _ = intField(v)
		}
		if v, err := s.GetValue("height"); err == nil {
			height, _ = intField(v)
		}
	}
	pix, err := packRGB(data, width, height)
	if err != nil {
		source.CountDecodeError(r.handoff.Counters)
		logger.Warn("GStreamer", "%s: %v", r.name, err)
		return gst.FlowOK
	}

	frame := &types.Frame{
		Pix:       pix,
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
		TraceID:   uuid.New().String(),
	}
	ctx := r.runCtx()
	r.snapshot.Save(ctx, "GStreamer", frame, r.handoff.Counters)
	r.handoff.Deliver(ctx, frame)
	return gst.FlowOK
}

// MetadataReceiver pulls binary detection metadata from an appsink.
type MetadataReceiver struct {
	name    string
	pipe    *appPipeline
	handoff *source.Handoff[types.DetectionSet]
	seq     source.Sequencer
	ctx     atomic.Pointer[context.Context]
}

// NewMetadataReceiver parses the metadata pipeline for port.
func NewMetadataReceiver(name string, port int, h *source.Handoff[types.DetectionSet]) (*MetadataReceiver, error) {
	pipe, err := newAppPipeline(name, MetaLaunch(port, "meta_sink"), "meta_sink")
	if err != nil {
		return nil, err
	}
	return &MetadataReceiver{name: name, pipe: pipe, handoff: h}, nil
}

// Name implements source.Runner.
func (r *MetadataReceiver) Name() string { return r.name }

// Run implements source.Runner.
func (r *MetadataReceiver) Run(ctx context.Context) error {
	r.ctx.Store(&ctx)
	return r.pipe.run(ctx, r.onSample)
}

func (r *MetadataReceiver) onSample(sink *app.Sink) gst.FlowReturn {
	data, _, ok := pullBytes(sink)
	if !ok || len(data) < detection.HeaderSize {
		return gst.FlowOK
	}
	set, err := detection.DecodeBinary(data)
	if err != nil {
		source.CountDecodeError(r.handoff.Counters)
		logger.Warn("GStreamer", "%s: %v", r.name, err)
		return gst.FlowOK
	}
	r.seq.Stamp(&set)
	logger.Debug("GStreamer", "%s: seq=%d boxes=%d", r.name, set.Seq, len(set.Detections))

	ctx := context.Background()
	if p := r.ctx.Load(); p != nil {
		ctx = *p
	}
	r.handoff.Deliver(ctx, set)
	return gst.FlowOK
}
