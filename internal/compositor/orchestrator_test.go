package compositor

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nardellimar25/vsg-gateway/internal/codec"
	"github.com/nardellimar25/vsg-gateway/internal/events"
	"github.com/nardellimar25/vsg-gateway/internal/inference"
	"github.com/nardellimar25/vsg-gateway/internal/latest"
	"github.com/nardellimar25/vsg-gateway/internal/metrics"
	"github.com/nardellimar25/vsg-gateway/internal/sink"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

var testKeys = Keys{BBoxDebug: "debug/bbox.png", Blurred: "debug/blur.png", Composite: "active.png"}

type harness struct {
	orch     *Orchestrator
	meta     *latest.Queue[types.DetectionSet]
	raw      *latest.Queue[*types.Frame]
	blurred  *latest.Queue[*types.Frame]
	store    *sink.MemoryStore
	metrics  *metrics.Metrics
	calls    *atomic.Int64
	events   chan *events.CycleEvent
	frameHub *events.FrameBroadcaster
}

func newHarness(t *testing.T, withBlurredStream bool, classify inference.ClassifierFunc) *harness {
	t.Helper()
	h := &harness{
		meta:     latest.New[types.DetectionSet](2),
		raw:      latest.New[*types.Frame](2),
		store:    sink.NewMemoryStore(),
		metrics:  metrics.New(),
		calls:    &atomic.Int64{},
		events:   make(chan *events.CycleEvent, 16),
		frameHub: events.NewFrameBroadcaster(),
	}
	if withBlurredStream {
		h.blurred = latest.New[*types.Frame](2)
	}
	counting := inference.ClassifierFunc(func(ctx context.Context, input []byte) (inference.Scores, error) {
		h.calls.Add(1)
		if len(input) != inference.InputSize*inference.InputSize {
			t.Errorf("classifier input has %d bytes", len(input))
		}
		return classify(ctx, input)
	})
	publisher := events.PublisherFunc(func(ev *events.CycleEvent, _ *events.SerializedEvent) error {
		h.events <- ev
		return nil
	})

	orch, err := New(Config{MetadataTimeout: 20 * time.Millisecond, Keys: testKeys}, Deps{
		Metadata:   h.meta,
		Raw:        h.raw,
		Blurred:    h.blurred,
		Classifier: counting,
		Snapshots:  sink.NewSnapshotter(h.store, codec.NewPNG()),
		Frames:     h.frameHub,
		Publisher:  publisher,
		Metrics:    h.metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	return h
}

func fixedScores(s, o float64) inference.ClassifierFunc {
	return func(context.Context, []byte) (inference.Scores, error) {
		return inference.Scores{Sensitive: s, Other: o}, nil
	}
}

// patternFrame returns a frame whose pixels differ from their neighbours.
func patternFrame(w, h int) *types.Frame {
	f := types.NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * types.BytesPerPixel
			f.Pix[i] = byte(x * 7)
			f.Pix[i+1] = byte(y * 5)
			if (x+y)%2 == 0 {
				f.Pix[i+2] = 255
			}
		}
	}
	f.TraceID = "raw-trace"
	return f
}

func solidFrame(w, h int, v byte) *types.Frame {
	f := types.NewFrame(w, h)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func boxSet(boxes ...types.BoundingBox) types.DetectionSet {
	set := types.DetectionSet{Seq: 1, ReceivedAt: time.Now()}
	for _, b := range boxes {
		set.Detections = append(set.Detections, types.Detection{Box: b})
	}
	return set
}

func pixelAt(f *types.Frame, x, y int) [3]byte {
	i := (y*f.Width + x) * types.BytesPerPixel
	return [3]byte{f.Pix[i], f.Pix[i+1], f.Pix[i+2]}
}

func requireOutcome(t *testing.T, res CycleResult, want Outcome) {
	t.Helper()
	if res.Outcome != want {
		t.Fatalf("outcome = %s (err %v), want %s", res.Outcome, res.Err, want)
	}
}

// requireRegion checks that inside box the composite matches inside and
// elsewhere matches outside.
func requireRegion(t *testing.T, composite, inside, outside *types.Frame, box types.BoundingBox) {
	t.Helper()
	for y := 0; y < composite.Height; y++ {
		for x := 0; x < composite.Width; x++ {
			want := outside
			if x >= box.X1 && x < box.X2 && y >= box.Y1 && y < box.Y2 {
				want = inside
			}
			if pixelAt(composite, x, y) != pixelAt(want, x, y) {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, pixelAt(composite, x, y), pixelAt(want, x, y))
			}
		}
	}
}

var box = types.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 50}

func TestScenarioSensitiveRegionIsBlurred(t *testing.T) {
	h := newHarness(t, true, fixedScores(0.9, 0.1))
	raw := patternFrame(80, 64)
	blurred := solidFrame(80, 64, 200)
	h.raw.Put(raw)
	h.blurred.Put(blurred)
	h.meta.Put(boxSet(box))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeEmitted)
	requireRegion(t, res.Composite, blurred, raw, box)

	if len(res.Classifications) != 1 || res.Classifications[0].Label != types.LabelSensitive {
		t.Fatalf("classifications = %+v", res.Classifications)
	}
	for _, key := range []string{testKeys.BBoxDebug, testKeys.Blurred, testKeys.Composite} {
		if _, err := h.store.Get(key); err != nil {
			t.Fatalf("artifact %s: %v", key, err)
		}
	}
	obj, _ := h.store.Get(testKeys.Composite)
	if !bytes.Equal(obj.Data, res.Encoded) {
		t.Fatalf("stored composite differs from encoded result")
	}
	if latest, ok := h.frameHub.Latest(); !ok || !bytes.Equal(latest, res.Encoded) {
		t.Fatalf("composite not broadcast to viewers")
	}
	if h.metrics.CyclesEmitted.Load() != 1 || h.metrics.RegionsSensitive.Load() != 1 {
		t.Fatalf("metrics emitted=%d sensitive=%d", h.metrics.CyclesEmitted.Load(), h.metrics.RegionsSensitive.Load())
	}
	ev := <-h.events
	if ev.Outcome != "emitted" || ev.SensitiveCount() != 1 || ev.TraceID != "raw-trace" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestScenarioMarginNotMet(t *testing.T) {
	h := newHarness(t, true, fixedScores(0.6, 0.5))
	raw := patternFrame(80, 64)
	h.raw.Put(raw)
	h.blurred.Put(solidFrame(80, 64, 200))
	h.meta.Put(boxSet(box))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeEmitted)
	if res.Classifications[0].Label != types.LabelNonSensitive {
		t.Fatalf("label = %s", res.Classifications[0].Label)
	}
	if !bytes.Equal(res.Composite.Pix, raw.Pix) {
		t.Fatalf("composite differs from raw")
	}
}

func TestScenarioNoBoxes(t *testing.T) {
	h := newHarness(t, true, fixedScores(1, 0))
	raw := patternFrame(32, 32)
	h.raw.Put(raw)
	h.blurred.Put(solidFrame(32, 32, 9))
	h.meta.Put(boxSet())

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeEmitted)
	if !bytes.Equal(res.Composite.Pix, raw.Pix) {
		t.Fatalf("composite differs from raw")
	}
	if h.calls.Load() != 0 {
		t.Fatalf("classifier called %d times", h.calls.Load())
	}
}

func TestScenarioNoFrame(t *testing.T) {
	h := newHarness(t, true, fixedScores(0.9, 0.1))
	h.meta.Put(boxSet(box))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeNoFrame)
	if res.Composite != nil || h.store.Len() != 0 {
		t.Fatalf("no-frame cycle produced output")
	}
	if h.metrics.CyclesNoFrame.Load() != 1 {
		t.Fatalf("CyclesNoFrame = %d", h.metrics.CyclesNoFrame.Load())
	}
}

func TestNoBlurredFrame(t *testing.T) {
	h := newHarness(t, true, fixedScores(0.9, 0.1))
	h.raw.Put(patternFrame(80, 64))
	h.meta.Put(boxSet(box))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeNoBlurredFrame)
	if h.calls.Load() != 0 || h.store.Len() != 0 {
		t.Fatalf("cycle continued without blurred frame")
	}
}

func TestIdleWithoutMetadata(t *testing.T) {
	h := newHarness(t, false, fixedScores(0.9, 0.1))
	h.raw.Put(patternFrame(8, 8))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeIdle)
	select {
	case ev := <-h.events:
		t.Fatalf("idle cycle published %+v", ev)
	default:
	}
	// the raw frame is still queued for the next cycle
	if h.raw.Len() != 1 {
		t.Fatalf("raw queue len = %d", h.raw.Len())
	}
}

func TestLocalBlurOnlyTouchesSensitiveRegion(t *testing.T) {
	h := newHarness(t, false, fixedScores(0.9, 0.1))
	if !h.orch.LocalBlur() {
		t.Fatalf("expected local blur mode")
	}
	raw := patternFrame(80, 64)
	h.raw.Put(raw)
	h.meta.Put(boxSet(box))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeEmitted)
	requireRegion(t, res.Composite, res.Blurred, raw, box)
	if bytes.Equal(res.Composite.Pix, raw.Pix) {
		t.Fatalf("sensitive region was not blurred")
	}
}

func TestOutOfRangeBoxesAreSkipped(t *testing.T) {
	h := newHarness(t, true, fixedScores(0.9, 0.1))
	raw := patternFrame(40, 40)
	h.raw.Put(raw)
	h.blurred.Put(solidFrame(40, 40, 1))
	h.meta.Put(boxSet(
		types.BoundingBox{X1: 30, Y1: 30, X2: 60, Y2: 60},
		types.BoundingBox{X1: 5, Y1: 5, X2: 5, Y2: 20},
	))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeEmitted)
	if res.Skipped != 2 || len(res.Classifications) != 0 {
		t.Fatalf("skipped=%d classified=%d", res.Skipped, len(res.Classifications))
	}
	if !bytes.Equal(res.Composite.Pix, raw.Pix) {
		t.Fatalf("composite differs from raw")
	}
	if h.metrics.RegionsSkipped.Load() != 2 {
		t.Fatalf("RegionsSkipped = %d", h.metrics.RegionsSkipped.Load())
	}
}

func TestShapeMismatchLeavesRegionRaw(t *testing.T) {
	h := newHarness(t, true, fixedScores(0.9, 0.1))
	raw := patternFrame(80, 64)
	h.raw.Put(raw)
	h.blurred.Put(solidFrame(30, 30, 200))
	h.meta.Put(boxSet(box))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeEmitted)
	if !bytes.Equal(res.Composite.Pix, raw.Pix) {
		t.Fatalf("mismatched region was composited")
	}
	if h.metrics.ShapeMismatches.Load() != 1 {
		t.Fatalf("ShapeMismatches = %d", h.metrics.ShapeMismatches.Load())
	}
}

func TestClassifierFailureFailsCycle(t *testing.T) {
	h := newHarness(t, false, func(context.Context, []byte) (inference.Scores, error) {
		return inference.Scores{}, errors.New("runner unreachable")
	})
	h.raw.Put(patternFrame(80, 64))
	h.meta.Put(boxSet(box))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeFailed)
	if res.Err == nil || h.metrics.InferenceErrors.Load() != 1 {
		t.Fatalf("err=%v inferenceErrors=%d", res.Err, h.metrics.InferenceErrors.Load())
	}
	if h.store.Len() != 0 {
		t.Fatalf("failed cycle wrote artifacts")
	}
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t, false, func(context.Context, []byte) (inference.Scores, error) {
		panic("model exploded")
	})
	h.raw.Put(patternFrame(80, 64))
	h.meta.Put(boxSet(box))

	res := h.orch.RunCycle(context.Background())
	requireOutcome(t, res, OutcomeFailed)
	if h.metrics.CyclesFailed.Load() != 1 {
		t.Fatalf("CyclesFailed = %d", h.metrics.CyclesFailed.Load())
	}
	ev := <-h.events
	if ev.Outcome != "failed" {
		t.Fatalf("event outcome = %s", ev.Outcome)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, false, fixedScores(0.9, 0.1))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.orch.Run(ctx)
		close(done)
	}()

	h.raw.Put(patternFrame(80, 64))
	h.meta.Put(boxSet(box))
	select {
	case ev := <-h.events:
		if ev.Outcome != "emitted" {
			t.Fatalf("outcome = %s", ev.Outcome)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no cycle emitted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatalf("expected error without queues")
	}
	_, err := New(Config{}, Deps{
		Metadata: latest.New[types.DetectionSet](1),
		Raw:      latest.New[*types.Frame](1),
	})
	if err == nil {
		t.Fatalf("expected error without classifier")
	}
}

func TestDrawOverlayOutlinesBoxes(t *testing.T) {
	raw := solidFrame(60, 60, 0)
	set := boxSet(types.BoundingBox{X1: 20, Y1: 20, X2: 40, Y2: 40})
	out := DrawOverlay(raw, set, []types.Classification{{Box: set.Detections[0].Box, Label: types.LabelSensitive, ScoreSensitive: 0.9}})

	if got := pixelAt(out, 20, 30); got != [3]byte{0, 255, 0} {
		t.Fatalf("left edge pixel = %v", got)
	}
	if got := pixelAt(out, 30, 30); got != [3]byte{0, 0, 0} {
		t.Fatalf("interior pixel = %v", got)
	}
	if !bytes.Equal(raw.Pix, solidFrame(60, 60, 0).Pix) {
		t.Fatalf("overlay modified the input frame")
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeNoBlurredFrame.String() != "no_blurred_frame" || Outcome(99).String() != "outcome(99)" {
		t.Fatalf("unexpected outcome names")
	}
}

func TestPublishErrorsAreCounted(t *testing.T) {
	h := newHarness(t, true, fixedScores(0.9, 0.1))
	h.orch.deps.Publisher = events.PublisherFunc(func(*events.CycleEvent, *events.SerializedEvent) error {
		return errors.New("broker down")
	})
	h.meta.Put(boxSet(box))

	requireOutcome(t, h.orch.RunCycle(context.Background()), OutcomeNoFrame)
	if got := h.metrics.PublishErrors.Load(); got != 1 {
		t.Fatalf("PublishErrors = %d", got)
	}
	if got := h.metrics.EventsPublished.Load(); got != 0 {
		t.Fatalf("EventsPublished = %d", got)
	}
}
