// Package compositor runs the consumer loop: it pairs the newest detection
// set with the newest frames, classifies each region and builds the
// redacted composite.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nardellimar25/vsg-gateway/internal/blur"
	"github.com/nardellimar25/vsg-gateway/internal/events"
	"github.com/nardellimar25/vsg-gateway/internal/inference"
	"github.com/nardellimar25/vsg-gateway/internal/latest"
	"github.com/nardellimar25/vsg-gateway/internal/logger"
	"github.com/nardellimar25/vsg-gateway/internal/metrics"
	"github.com/nardellimar25/vsg-gateway/internal/sink"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// Outcome classifies how a cycle ended.
type Outcome int

const (
	// OutcomeIdle: no metadata arrived within the wait timeout.
	OutcomeIdle Outcome = iota
	// OutcomeNoFrame: metadata was taken but no raw frame was queued.
	OutcomeNoFrame
	// OutcomeNoBlurredFrame: a blurred stream is configured but empty.
	OutcomeNoBlurredFrame
	// OutcomeFailed: an error or panic aborted the cycle.
	OutcomeFailed
	// OutcomeEmitted: a composite was produced and handed to the sinks.
	OutcomeEmitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeNoFrame:
		return "no_frame"
	case OutcomeNoBlurredFrame:
		return "no_blurred_frame"
	case OutcomeFailed:
		return "failed"
	case OutcomeEmitted:
		return "emitted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Keys are the persistence keys for the artifacts written on every emit.
// An empty key disables that artifact.
type Keys struct {
	BBoxDebug string
	Blurred   string
	Composite string
}

// Config holds the loop timing and output keys.
type Config struct {
	CycleDelay      time.Duration
	MetadataTimeout time.Duration
	Keys            Keys
}

// DefaultMetadataTimeout bounds the wait for a detection set per cycle.
const DefaultMetadataTimeout = time.Second

// Deps are the collaborators of an Orchestrator. Metadata, Raw and
// Classifier are required. When Blurred is nil blurred frames are
// generated locally with Blur.
type Deps struct {
	Metadata   *latest.Queue[types.DetectionSet]
	Raw        *latest.Queue[*types.Frame]
	Blurred    *latest.Queue[*types.Frame]
	Blur       *blur.Generator
	Classifier inference.Classifier
	Snapshots  *sink.Snapshotter
	Recorder   *sink.Recorder
	Frames     *events.FrameBroadcaster
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
}

// CycleResult describes one pass through the state machine.
type CycleResult struct {
	Seq             uint64
	Outcome         Outcome
	Metadata        types.DetectionSet
	Classifications []types.Classification
	Skipped         int
	Composite       *types.Frame
	Blurred         *types.Frame
	Encoded         []byte
	Err             error
	Duration        time.Duration
}

// Orchestrator is the single consumer of the metadata and frame queues.
type Orchestrator struct {
	cfg  Config
	deps Deps
	seq  uint64
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Metadata == nil || deps.Raw == nil {
		return nil, errors.New("compositor: metadata and raw queues are required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("compositor: classifier is required")
	}
	if deps.Blurred == nil && deps.Blur == nil {
		g, err := blur.New(blur.DefaultKernelSize)
		if err != nil {
			return nil, err
		}
		deps.Blur = g
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = DefaultMetadataTimeout
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// LocalBlur reports whether blurred frames are generated in-process.
func (o *Orchestrator) LocalBlur() bool {
	return o.deps.Blurred == nil
}

// Run executes cycles until ctx is done. It never returns early on cycle
// errors.
func (o *Orchestrator) Run(ctx context.Context) {
	mode := "blurred stream"
	if o.LocalBlur() {
		mode = fmt.Sprintf("local blur (kernel=%d)", o.deps.Blur.KernelSize())
	}
	logger.Info("Orchestrator", "Starting (%s, delay=%v)", mode, o.cfg.CycleDelay)

	for {
		if ctx.Err() != nil {
			logger.Info("Orchestrator", "Stopped after %d cycles", o.seq)
			return
		}
		o.RunCycle(ctx)

		if o.cfg.CycleDelay > 0 {
			t := time.NewTimer(o.cfg.CycleDelay)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
}

// RunCycle performs one WAIT_METADATA to EMIT pass. Errors and panics are
// converted into OutcomeFailed.
func (o *Orchestrator) RunCycle(ctx context.Context) (res CycleResult) {
	start := time.Now()
	o.seq++
	res.Seq = o.seq

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("panic in cycle %d: %v", res.Seq, r)
		}
		res.Duration = time.Since(start)
		if res.Outcome == OutcomeFailed {
			logger.Error("Orchestrator", "Cycle %d failed: %v", res.Seq, res.Err)
		}
		o.record(&res)
	}()

	set, ok := o.deps.Metadata.TakeBlocking(ctx, o.cfg.MetadataTimeout)
	if !ok {
		res.Outcome = OutcomeIdle
		return res
	}
	res.Metadata = set

	raw, ok := o.deps.Raw.TakeLatest()
	if !ok || !raw.Valid() {
		logger.Debug("Orchestrator", "Cycle %d: no raw frame for metadata seq=%d", res.Seq, set.Seq)
		res.Outcome = OutcomeNoFrame
		return res
	}

	var blurred *types.Frame
	if o.deps.Blurred != nil {
		blurred, ok = o.deps.Blurred.TakeLatest()
		if !ok || !blurred.Valid() {
			logger.Debug("Orchestrator", "Cycle %d: no blurred frame", res.Seq)
			res.Outcome = OutcomeNoBlurredFrame
			return res
		}
	} else {
		blurred = o.deps.Blur.Generate(raw, set.Boxes())
	}
	res.Blurred = blurred

	results, skipped, err := o.classify(ctx, raw, set)
	res.Classifications = results
	res.Skipped = skipped
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	res.Composite = o.composite(raw, blurred, results)
	res.Encoded = o.emit(ctx, raw, blurred, res)
	res.Outcome = OutcomeEmitted
	return res
}

// classify runs the classifier over each usable region in wire order.
func (o *Orchestrator) classify(ctx context.Context, raw *types.Frame, set types.DetectionSet) ([]types.Classification, int, error) {
	results := make([]types.Classification, 0, len(set.Detections))
	skipped := 0
	for _, d := range set.Detections {
		region := raw.Crop(d.Box)
		if region == nil {
			skipped++
			logger.Debug("Classifier", "Skipping box %v outside %dx%d frame", d.Box, raw.Width, raw.Height)
			continue
		}

		input := inference.PrepareInput(region)
		start := time.Now()
		scores, err := o.deps.Classifier.Classify(ctx, input)
		elapsed := time.Since(start)
		if o.deps.Metrics != nil {
			o.deps.Metrics.ObserveInference(elapsed)
		}
		if err != nil {
			if o.deps.Metrics != nil {
				o.deps.Metrics.InferenceErrors.Add(1)
			}
			return results, skipped, fmt.Errorf("classify box %v: %w", d.Box, err)
		}

		label := inference.Decide(scores)
		results = append(results, types.Classification{
			Box:            d.Box,
			Label:          label,
			ScoreSensitive: scores.Sensitive,
			ScoreOther:     scores.Other,
			Latency:        elapsed,
		})
		logger.Debug("Classifier", "%v -> %s (%.2f) in %.1f ms",
			d.Box, label, inference.Confidence(scores, label), float64(elapsed.Microseconds())/1000)
	}
	return results, skipped, nil
}

// composite copies raw and replaces every sensitive region with the same
// region of blurred. Regions whose shapes differ are left untouched.
func (o *Orchestrator) composite(raw, blurred *types.Frame, results []types.Classification) *types.Frame {
	out := raw.Clone()
	for _, c := range results {
		if c.Label != types.LabelSensitive {
			continue
		}
		src := raw.Crop(c.Box)
		patch := blurred.Crop(c.Box)
		if !src.SameShape(patch) {
			if o.deps.Metrics != nil {
				o.deps.Metrics.ShapeMismatches.Add(1)
			}
			logger.Warn("Compositor", "Blurred region %v does not match raw region, leaving it unredacted", c.Box)
			continue
		}
		out.Paste(patch, c.Box.X1, c.Box.Y1)
	}
	return out
}

// emit persists the debug artifacts and the composite, then notifies
// viewers. Storage failures are counted and logged; they do not fail the
// cycle. It returns the encoded composite.
func (o *Orchestrator) emit(ctx context.Context, raw, blurred *types.Frame, res CycleResult) []byte {
	snaps := o.deps.Snapshots
	if snaps == nil {
		return nil
	}
	keys := o.cfg.Keys

	if keys.BBoxDebug != "" {
		overlay := DrawOverlay(raw, res.Metadata, res.Classifications)
		o.save(ctx, keys.BBoxDebug, overlay)
	}
	if keys.Blurred != "" {
		o.save(ctx, keys.Blurred, blurred)
	}

	var encoded []byte
	if keys.Composite != "" {
		encoded = o.save(ctx, keys.Composite, res.Composite)
	} else {
		data, err := snaps.Codec().Encode(res.Composite)
		if err != nil {
			o.emitError("encode composite", err)
		}
		encoded = data
	}
	if encoded == nil {
		return nil
	}

	if o.deps.Recorder != nil {
		if _, err := o.deps.Recorder.Write(ctx, encoded); err != nil {
			o.emitError("record composite", err)
		}
	}
	if o.deps.Frames != nil {
		o.deps.Frames.Broadcast(encoded)
	}
	return encoded
}

func (o *Orchestrator) save(ctx context.Context, key string, frame *types.Frame) []byte {
	data, err := o.deps.Snapshots.Save(ctx, key, frame)
	if err != nil {
		o.emitError("save "+key, err)
	}
	return data
}

func (o *Orchestrator) emitError(what string, err error) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.EmitErrors.Add(1)
	}
	logger.Warn("Compositor", "%s: %v", what, err)
}

// record updates metrics and publishes the cycle event.
func (o *Orchestrator) record(res *CycleResult) {
	if m := o.deps.Metrics; m != nil {
		switch res.Outcome {
		case OutcomeIdle:
			m.CyclesIdle.Add(1)
		case OutcomeNoFrame:
			m.CyclesNoFrame.Add(1)
		case OutcomeNoBlurredFrame:
			m.CyclesNoBlurred.Add(1)
		case OutcomeFailed:
			m.CyclesFailed.Add(1)
		case OutcomeEmitted:
			m.CyclesEmitted.Add(1)
			m.MarkEmit(time.Now())
			m.UpdateCycleLatency(res.Duration)
		}
		m.RegionsClassified.Add(uint64(len(res.Classifications)))
		m.RegionsSkipped.Add(uint64(res.Skipped))
		for _, c := range res.Classifications {
			if c.Label == types.LabelSensitive {
				m.RegionsSensitive.Add(1)
			}
		}
	}

	if res.Outcome == OutcomeIdle || o.deps.Publisher == nil {
		return
	}
	ev := NewCycleEvent(res)
	serialized, err := events.Serialize(ev)
	if err != nil {
		logger.Error("Orchestrator", "serialize cycle %d: %v", res.Seq, err)
		return
	}
	if err := o.deps.Publisher.Publish(ev, serialized); err != nil {
		if o.deps.Metrics != nil {
			o.deps.Metrics.PublishErrors.Add(1)
		}
		return
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.EventsPublished.Add(1)
	}
}

// NewCycleEvent converts a cycle result into its wire event.
func NewCycleEvent(res *CycleResult) *events.CycleEvent {
	now := time.Now()
	ev := &events.CycleEvent{
		ID:        uuid.NewString(),
		Seq:       res.Seq,
		Outcome:   res.Outcome.String(),
		Timestamp: float64(now.UnixMilli()) / 1000,
		LatencyMs: float64(res.Duration.Microseconds()) / 1000,
		Skipped:   res.Skipped,
		Regions:   make([]events.Region, 0, len(res.Classifications)),
		Time:      now,
	}
	if res.Composite != nil {
		ev.TraceID = res.Composite.TraceID
	}
	for _, c := range res.Classifications {
		ev.Regions = append(ev.Regions, events.RegionFromClassification(c))
	}
	return ev
}
