package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all gateway counters. Producers and the orchestrator bump
// the atomics directly; Prometheus reads them through CounterFuncs and
// GaugeFuncs.
type Metrics struct {
	// Ingest
	FramesReceived        atomic.Uint64
	BlurredFramesReceived atomic.Uint64
	MetadataReceived      atomic.Uint64
	DecodeErrors          atomic.Uint64
	SnapshotErrors        atomic.Uint64
	GateTimeouts          atomic.Uint64

	// Orchestrator cycles by outcome
	CyclesIdle      atomic.Uint64
	CyclesNoFrame   atomic.Uint64
	CyclesNoBlurred atomic.Uint64
	CyclesFailed    atomic.Uint64
	CyclesEmitted   atomic.Uint64

	// Regions
	RegionsClassified atomic.Uint64
	RegionsSensitive  atomic.Uint64
	RegionsSkipped    atomic.Uint64
	ShapeMismatches   atomic.Uint64
	InferenceErrors   atomic.Uint64

	// Output
	EmitErrors      atomic.Uint64
	CycleLatencyMs  atomic.Uint64
	LastEmitUnixMs  atomic.Int64
	ActiveClients   atomic.Uint64
	EventsPublished atomic.Uint64
	PublishErrors   atomic.Uint64

	inferenceLatency prometheus.Histogram
	registry         *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vsg_inference_latency_seconds",
			Help:    "Classifier round-trip time per region",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("vsg_frames_received_total", "Raw frames decoded and queued", &m.FramesReceived)
	m.counter("vsg_blurred_frames_received_total", "Pre-blurred frames decoded and queued", &m.BlurredFramesReceived)
	m.counter("vsg_metadata_received_total", "Detection sets decoded and queued", &m.MetadataReceived)
	m.counter("vsg_decode_errors_total", "Payloads dropped because they could not be decoded", &m.DecodeErrors)
	m.counter("vsg_snapshot_errors_total", "Debug snapshots that failed to persist", &m.SnapshotErrors)
	m.counter("vsg_gate_timeouts_total", "Producer waits on the sync gate that timed out", &m.GateTimeouts)

	m.counter("vsg_cycles_idle_total", "Cycles that found no metadata", &m.CyclesIdle)
	m.counter("vsg_cycles_no_frame_total", "Cycles aborted for lack of a raw frame", &m.CyclesNoFrame)
	m.counter("vsg_cycles_no_blurred_total", "Cycles aborted for lack of a blurred frame", &m.CyclesNoBlurred)
	m.counter("vsg_cycles_failed_total", "Cycles that failed with an error", &m.CyclesFailed)
	m.counter("vsg_cycles_emitted_total", "Cycles that emitted a composite", &m.CyclesEmitted)

	m.counter("vsg_regions_classified_total", "Regions sent to the classifier", &m.RegionsClassified)
	m.counter("vsg_regions_sensitive_total", "Regions labelled sensitive", &m.RegionsSensitive)
	m.counter("vsg_regions_skipped_total", "Empty or out-of-range regions", &m.RegionsSkipped)
	m.counter("vsg_shape_mismatches_total", "Sensitive regions not replaced due to shape mismatch", &m.ShapeMismatches)
	m.counter("vsg_inference_errors_total", "Classifier calls that failed", &m.InferenceErrors)

	m.counter("vsg_emit_errors_total", "Artifacts that failed to persist", &m.EmitErrors)
	m.counter("vsg_events_published_total", "Cycle events handed to every publisher", &m.EventsPublished)
	m.counter("vsg_event_publish_errors_total", "Cycle events at least one publisher failed to deliver", &m.PublishErrors)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vsg_cycle_latency_ms",
			Help: "Duration of the last emitted cycle in milliseconds",
		},
		func() float64 { return float64(m.CycleLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vsg_active_clients",
			Help: "Connected event stream clients",
		},
		func() float64 { return float64(m.ActiveClients.Load()) },
	))

	m.registry.MustRegister(m.inferenceLatency)
}

// RegisterQueue exports the depth and drop count of a named queue.
func (m *Metrics) RegisterQueue(name string, depth func() int, dropped func() uint64) {
	labels := prometheus.Labels{"queue": name}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "vsg_queue_depth",
			Help:        "Values currently buffered in the queue",
			ConstLabels: labels,
		},
		func() float64 { return float64(depth()) },
	))
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name:        "vsg_queue_dropped_total",
			Help:        "Values overwritten or superseded before being consumed",
			ConstLabels: labels,
		},
		func() float64 { return float64(dropped()) },
	))
}

// RegisterEventDrops exports deliveries skipped for slow stream clients.
func (m *Metrics) RegisterEventDrops(dropped func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "vsg_events_dropped_total",
			Help: "Cycle events dropped for slow stream subscribers",
		},
		func() float64 { return float64(dropped()) },
	))
}

// ObserveInference records one classifier round trip.
func (m *Metrics) ObserveInference(d time.Duration) {
	m.inferenceLatency.Observe(d.Seconds())
}

// UpdateCycleLatency stores the duration of the last cycle.
func (m *Metrics) UpdateCycleLatency(d time.Duration) {
	m.CycleLatencyMs.Store(uint64(d.Milliseconds()))
}

// MarkEmit records the time of the last emitted composite.
func (m *Metrics) MarkEmit(t time.Time) {
	m.LastEmitUnixMs.Store(t.UnixMilli())
}

// SinceLastEmit returns the time since the last composite, or -1 if none
// was emitted yet.
func (m *Metrics) SinceLastEmit() time.Duration {
	ms := m.LastEmitUnixMs.Load()
	if ms == 0 {
		return -1
	}
	return time.Since(time.UnixMilli(ms))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the listener fails.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
