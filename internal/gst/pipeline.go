// Package gst receives frames and detection metadata through GStreamer
// pipelines terminated by appsinks.
package gst

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/nardellimar25/vsg-gateway/internal/logger"
)

var initOnce sync.Once

// Init initializes GStreamer once per process.
func Init() {
	initOnce.Do(func() { gst.Init(nil) })
}

// VideoLaunch returns the RTP/H.264 to packed RGB pipeline description.
func VideoLaunch(port int, sinkName string) string {
	return fmt.Sprintf(`udpsrc address=0.0.0.0 port=%d caps="application/x-rtp, media=video, encoding-name=H264, payload=96" `+
		`! rtph264depay ! avdec_h264 ! videoconvert ! video/x-raw, format=RGB `+
		`! appsink name=%s emit-signals=true max-buffers=1 drop=true`, port, sinkName)
}

// MetaLaunch returns the raw metadata pipeline description.
func MetaLaunch(port int, sinkName string) string {
	return fmt.Sprintf(`udpsrc address=0.0.0.0 port=%d caps="application/x-meta, media=meta" `+
		`! appsink name=%s emit-signals=true max-buffers=1 drop=true`, port, sinkName)
}

// appPipeline is a parsed pipeline with one named appsink.
type appPipeline struct {
	name     string
	pipeline *gst.Pipeline
	sink     *app.Sink
}

func newAppPipeline(name, launch, sinkName string) (*appPipeline, error) {
	Init()
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("%s: create pipeline: %w", name, err)
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%s: appsink %q not found: %w", name, sinkName, err)
	}
	return &appPipeline{name: name, pipeline: pipeline, sink: app.SinkFromElement(elem)}, nil
}

// run sets the pipeline to PLAYING and watches the bus until ctx is done
// or the stream ends. Errors posted on the bus are logged; the pipeline is
// not restarted.
func (p *appPipeline) run(ctx context.Context, onSample func(*app.Sink) gst.FlowReturn) error {
	p.sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: onSample})

	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("%s: start pipeline: %w", p.name, err)
	}
	logger.Info("GStreamer", "%s pipeline playing", p.name)
	defer func() {
		p.pipeline.SetState(gst.StateNull)
		logger.Info("GStreamer", "%s pipeline stopped", p.name)
	}()

	bus := p.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			logger.Info("GStreamer", "%s: end of stream", p.name)
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			logger.Error("GStreamer", "%s: %s (debug: %s)", p.name, gerr.Error(), gerr.DebugString())

		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			logger.Warn("GStreamer", "%s: %s", p.name, gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == p.pipeline.GetName() {
				old, state := msg.ParseStateChanged()
				logger.Debug("GStreamer", "%s: state %s -> %s", p.name, old, state)
			}
		}
	}
}

// pullBytes copies the mapped contents of the next sample. The returned
// caps may be nil.
func pullBytes(sink *app.Sink) ([]byte, *gst.Caps, bool) {
	sample := sink.PullSample()
	if sample == nil {
		return nil, nil, false
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, nil, false
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()
	return out, sample.GetCaps(), true
}
