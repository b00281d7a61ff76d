package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nardellimar25/vsg-gateway/internal/blur"
	"github.com/nardellimar25/vsg-gateway/internal/codec"
	"github.com/nardellimar25/vsg-gateway/internal/compositor"
	"github.com/nardellimar25/vsg-gateway/internal/config"
	"github.com/nardellimar25/vsg-gateway/internal/events"
	"github.com/nardellimar25/vsg-gateway/internal/gst"
	"github.com/nardellimar25/vsg-gateway/internal/inference"
	"github.com/nardellimar25/vsg-gateway/internal/inference/dnn"
	"github.com/nardellimar25/vsg-gateway/internal/latest"
	"github.com/nardellimar25/vsg-gateway/internal/logger"
	"github.com/nardellimar25/vsg-gateway/internal/metrics"
	"github.com/nardellimar25/vsg-gateway/internal/sink"
	"github.com/nardellimar25/vsg-gateway/internal/source"
	"github.com/nardellimar25/vsg-gateway/internal/syncgate"
	"github.com/nardellimar25/vsg-gateway/internal/webmonitor"
	"github.com/nardellimar25/vsg-gateway/internal/webrtc"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// cliFlags are the flags main reads directly. Every other flag is only
// applied to the config when set explicitly.
type cliFlags struct {
	configPath *string
	envFile    *string
	logColor   *bool
}

func defineFlags(fs *flag.FlagSet) cliFlags {
	cli := cliFlags{
		configPath: fs.String("config", "", "INI config file (Network/Paths/Model/General/Device sections)"),
		envFile:    fs.String("env", ".env", "dotenv file loaded before reading VSG_* variables"),
		logColor:   fs.Bool("log-color", true, "Enable colored log output"),
	}
	fs.String("topology", "", "push or pull (also accepts nvidia/renesas)")
	fs.String("http", "", "Monitor HTTP address")
	fs.String("metrics", "", "Standalone metrics server address (empty to disable)")
	fs.String("storage", "", "Directory for debug images and the active composite")
	fs.String("inference-url", "", "HTTP model runner endpoint")
	fs.String("model", "", "Local model file for the active topology")
	fs.String("stun", "", "STUN server URLs (comma-separated)")
	fs.Int("max-clients", 0, "Maximum WebRTC clients")
	fs.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	fs.String("log-file", "", "Also write logs to a rotated file")
	fs.Bool("debug", false, "Enable debug logging")
	return cli
}

// Gateway owns every long-lived component.
type Gateway struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cfg    config.Config

	metrics      *metrics.Metrics
	sources      []source.Runner
	orchestrator *compositor.Orchestrator
	closers      []func() error
	webrtc       *webrtc.Server
	httpServer   *http.Server
}

func main() {
	cli := defineFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := config.Load(*cli.configPath, *cli.envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := applyFlags(flag.CommandLine, &cfg); err != nil {
		log.Fatalf("Invalid flag: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	if cfg.Debug {
		level = logger.DEBUG
	}
	logCfg := logger.DefaultConfig()
	logCfg.Level = level
	logCfg.Color = *cli.logColor
	logCfg.FilePath = cfg.LogFile
	if err := logger.Setup(logCfg); err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	defer logger.Close()

	logger.Info("Main", "Gateway starting (topology=%s)", cfg.Topology)
	logger.Info("Main", "Log level: %s", level)

	gw, err := NewGateway(cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	if err := gw.Start(); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := gw.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Gateway stopped")
}

// applyFlags copies the flags set on fs into cfg. The topology is applied
// first because -model targets the model path of the final topology.
func applyFlags(fs *flag.FlagSet, cfg *config.Config) error {
	set := make(map[string]string)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })

	if v, ok := set["topology"]; ok {
		t, err := config.ParseTopology(v)
		if err != nil {
			return err
		}
		cfg.Topology = t
	}

	for name, v := range set {
		switch name {
		case "http":
			cfg.HTTPAddr = v
		case "metrics":
			cfg.MetricsAddr = v
		case "storage":
			cfg.StorageDir = v
		case "inference-url":
			cfg.InferenceURL = v
		case "stun":
			cfg.STUNServers = splitList(v)
		case "max-clients":
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("max-clients: %w", err)
			}
			cfg.MaxWebRTCClients = n
		case "log-level":
			cfg.LogLevel = v
		case "log-file":
			cfg.LogFile = v
		case "debug":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("debug: %w", err)
			}
			cfg.Debug = b
		}
	}

	if v, ok := set["model"]; ok {
		if cfg.Topology == config.TopologyPull {
			cfg.ModelPathPull = v
		} else {
			cfg.ModelPathPush = v
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewGateway wires queues, sources, the orchestrator and the monitor.
func NewGateway(cfg config.Config) (*Gateway, error) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &Gateway{ctx: ctx, cancel: cancel, cfg: cfg, metrics: metrics.New()}

	fail := func(err error) (*Gateway, error) {
		gw.closeAll()
		cancel()
		return nil, err
	}

	store, err := gw.newStore()
	if err != nil {
		return fail(err)
	}
	imageCodec, err := codec.ForName(cfg.ImageFormat, cfg.JPEGQuality)
	if err != nil {
		return fail(err)
	}
	snapshots := sink.NewSnapshotter(store, imageCodec)
	recorder := sink.NewRecorder(store, cfg.RecordPrefix, imageCodec.Extension(), imageCodec.ContentType())

	// Queues and gate
	metadataQ := latest.New[types.DetectionSet](cfg.QueueMaxSize)
	rawQ := latest.New[*types.Frame](cfg.QueueMaxSize)
	var blurredQ *latest.Queue[*types.Frame]
	if cfg.BlurredStream() {
		blurredQ = latest.New[*types.Frame](cfg.QueueMaxSize)
	}
	gate := syncgate.New(cfg.GateParties())

	gw.metrics.RegisterQueue("metadata", metadataQ.Len, func() uint64 { return metadataQ.Stats().Dropped })
	gw.metrics.RegisterQueue("raw", rawQ.Len, func() uint64 { return rawQ.Stats().Dropped })
	if blurredQ != nil {
		gw.metrics.RegisterQueue("blurred", blurredQ.Len, func() uint64 { return blurredQ.Stats().Dropped })
	}

	if err := gw.newSources(snapshots, imageCodec, metadataQ, rawQ, blurredQ, gate); err != nil {
		return fail(err)
	}

	classifier, err := gw.newClassifier()
	if err != nil {
		return fail(err)
	}

	var generator *blur.Generator
	if blurredQ == nil {
		if generator, err = blur.New(cfg.BlurKernelSize); err != nil {
			return fail(err)
		}
	}

	// Events
	frames := events.NewFrameBroadcaster()
	broadcaster := events.NewBroadcaster()
	gw.metrics.RegisterEventDrops(broadcaster.Dropped)
	gw.webrtc = webrtc.NewServer(cfg.STUNServers, cfg.MaxWebRTCClients)
	gw.closers = append(gw.closers, gw.webrtc.Close)

	monitor := webmonitor.NewMonitor(func() webmonitor.PipelineStatus {
		st := webmonitor.PipelineStatus{
			Topology:  string(cfg.Topology),
			LocalBlur: blurredQ == nil,
			Queues: []webmonitor.QueueStatus{
				{Name: "metadata", Stats: metadataQ.Stats()},
				{Name: "raw", Stats: rawQ.Stats()},
			},
			Gate: gate.Stats(),
		}
		if blurredQ != nil {
			st.Queues = append(st.Queues, webmonitor.QueueStatus{Name: "blurred", Stats: blurredQ.Stats()})
		}
		return st
	})

	publishers := events.Fanout{broadcaster, monitor, gw.webrtc}
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(events.NATSConfig{
			URL:     cfg.NATSURL,
			Subject: cfg.NATSSubject,
			Name:    "vsg-gateway",
		})
		if err != nil {
			return fail(err)
		}
		gw.closers = append(gw.closers, nats.Close)
		publishers = append(publishers, nats)
	}

	keys := compositor.Keys{
		BBoxDebug: cfg.CoordsDebugPath,
		Composite: cfg.ActiveImagePath,
	}
	if blurredQ == nil {
		// Pre-blurred frames are saved by their receiver
		keys.Blurred = cfg.BlurDebugPath
	}
	gw.orchestrator, err = compositor.New(compositor.Config{
		CycleDelay: cfg.ProcessDelay,
		Keys:       keys,
	}, compositor.Deps{
		Metadata:   metadataQ,
		Raw:        rawQ,
		Blurred:    blurredQ,
		Blur:       generator,
		Classifier: classifier,
		Snapshots:  snapshots,
		Recorder:   recorder,
		Frames:     frames,
		Publisher:  publishers,
		Metrics:    gw.metrics,
	})
	if err != nil {
		return fail(err)
	}

	monitorCfg := webmonitor.DefaultConfig()
	monitorCfg.Addr = cfg.HTTPAddr
	monitorCfg.Topology = string(cfg.Topology)
	monitorCfg.ContentType = imageCodec.ContentType()
	monitorServer := webmonitor.NewServer(monitorCfg, webmonitor.Deps{
		Monitor:  monitor,
		Frames:   frames,
		Events:   broadcaster,
		Recorder: recorder,
		WebRTC:   gw.webrtc,
		Metrics:  gw.metrics,
	})
	gw.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           monitorServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

func (gw *Gateway) newStore() (sink.Store, error) {
	stores := sink.MultiStore{sink.NewFileStore(gw.cfg.StorageDir)}
	if gw.cfg.MinioEndpoint == "" {
		return stores, nil
	}

	ctx, cancel := context.WithTimeout(gw.ctx, 10*time.Second)
	defer cancel()
	minioStore, err := sink.NewMinioStore(ctx, sink.MinioConfig{
		Endpoint:  gw.cfg.MinioEndpoint,
		AccessKey: gw.cfg.MinioAccessKey,
		SecretKey: gw.cfg.MinioSecretKey,
		Bucket:    gw.cfg.MinioBucket,
		Prefix:    gw.cfg.MinioPrefix,
		UseSSL:    gw.cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect object store: %w", err)
	}
	logger.Info("Main", "Object store: %s/%s", gw.cfg.MinioEndpoint, gw.cfg.MinioBucket)
	return append(stores, minioStore), nil
}

func (gw *Gateway) newClassifier() (inference.Classifier, error) {
	if path := gw.cfg.ModelPath(); path != "" {
		c, err := dnn.New(dnn.Config{
			ModelPath:      path,
			ConfigPath:     gw.cfg.ModelConfigPath,
			SensitiveIndex: 0,
			OtherIndex:     1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
		gw.closers = append(gw.closers, c.Close)
		return c, nil
	}

	httpCfg := inference.DefaultHTTPConfig()
	httpCfg.URL = gw.cfg.InferenceURL
	httpCfg.SensitiveLabel = gw.cfg.SensitiveLabel
	httpCfg.OtherLabel = gw.cfg.OtherLabel
	httpCfg.Timeout = gw.cfg.InferenceTimeout
	logger.Info("Main", "Classifier: HTTP runner at %s", httpCfg.URL)
	return inference.NewHTTPClassifier(httpCfg), nil
}

func (gw *Gateway) newSources(
	snapshots *sink.Snapshotter,
	imageCodec codec.Codec,
	metadataQ *latest.Queue[types.DetectionSet],
	rawQ, blurredQ *latest.Queue[*types.Frame],
	gate *syncgate.Gate,
) error {
	cfg := gw.cfg
	m := gw.metrics
	frameCounters := source.Counters{
		Received:       &m.FramesReceived,
		DecodeErrors:   &m.DecodeErrors,
		SnapshotErrors: &m.SnapshotErrors,
		GateTimeouts:   &m.GateTimeouts,
	}
	metaCounters := frameCounters
	metaCounters.Received = &m.MetadataReceived

	rawHandoff := source.NewHandoff(rawQ, gate, frameCounters)
	metaHandoff := source.NewHandoff(metadataQ, gate, metaCounters)
	rawSnap := &source.Snapshot{Saver: snapshots, Key: cfg.RawDebugPath}

	if cfg.Topology == config.TopologyPull {
		gst.Init()
		video, err := gst.NewFrameReceiver("video", cfg.PortRaw, rawHandoff, rawSnap)
		if err != nil {
			return err
		}
		meta, err := gst.NewMetadataReceiver("metadata", cfg.PortCoords, metaHandoff)
		if err != nil {
			return err
		}
		gw.sources = append(gw.sources, video, meta)
		return nil
	}

	udp := func(name string, port int) source.UDPConfig {
		return source.UDPConfig{
			Name:         name,
			Addr:         net.JoinHostPort(cfg.UDPIP, strconv.Itoa(port)),
			MaxDatagram:  cfg.MaxDatagram,
			ProcessDelay: cfg.ProcessDelay,
		}
	}

	raw, err := source.NewUDPFrameSource(udp("raw", cfg.PortRaw), imageCodec, rawHandoff, rawSnap)
	if err != nil {
		return err
	}
	gw.sources = append(gw.sources, raw)
	gw.closers = append(gw.closers, raw.Close)

	if blurredQ != nil {
		blurredCounters := frameCounters
		blurredCounters.Received = &m.BlurredFramesReceived
		blurredSnap := &source.Snapshot{Saver: snapshots, Key: cfg.BlurDebugPath}
		blurred, err := source.NewUDPFrameSource(udp("blurred", cfg.PortBlurred), imageCodec,
			source.NewHandoff(blurredQ, gate, blurredCounters), blurredSnap)
		if err != nil {
			return err
		}
		gw.sources = append(gw.sources, blurred)
		gw.closers = append(gw.closers, blurred.Close)
	}

	decode, err := source.DecoderForFormat(cfg.MetadataFormat)
	if err != nil {
		return err
	}
	meta, err := source.NewUDPMetadataSource(udp("metadata", cfg.PortCoords), decode, metaHandoff)
	if err != nil {
		return err
	}
	gw.sources = append(gw.sources, meta)
	gw.closers = append(gw.closers, meta.Close)
	return nil
}

// Start launches the producers, the orchestrator and the HTTP servers.
func (gw *Gateway) Start() error {
	logger.Info("Main", "Starting gateway...")
	logger.Info("Main", "  Topology: %s (gate parties: %d)", gw.cfg.Topology, gw.cfg.GateParties())
	logger.Info("Main", "  Ports: raw=%d blurred=%d coords=%d", gw.cfg.PortRaw, gw.cfg.PortBlurred, gw.cfg.PortCoords)
	logger.Info("Main", "  Storage: %s", gw.cfg.StorageDir)
	logger.Info("Main", "  HTTP server: %s", gw.cfg.HTTPAddr)
	logger.Info("Main", "  Local blur: %v", gw.orchestrator.LocalBlur())

	if gw.cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", gw.cfg.MetricsAddr)
			if err := gw.metrics.StartServer(gw.cfg.MetricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", gw.cfg.HTTPAddr)
		if err := gw.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	for _, src := range gw.sources {
		gw.wg.Add(1)
		go func(src source.Runner) {
			defer gw.wg.Done()
			if err := src.Run(gw.ctx); err != nil && gw.ctx.Err() == nil {
				logger.Error("Main", "Source %s stopped: %v", src.Name(), err)
			}
		}(src)
	}

	gw.wg.Add(1)
	go func() {
		defer gw.wg.Done()
		gw.orchestrator.Run(gw.ctx)
	}()

	logger.Info("Main", "Gateway started successfully")
	return nil
}

func (gw *Gateway) closeAll() {
	for i := len(gw.closers) - 1; i >= 0; i-- {
		if err := gw.closers[i](); err != nil {
			logger.Warn("Main", "close: %v", err)
		}
	}
	gw.closers = nil
}

// Shutdown cancels every worker and waits for them to return.
func (gw *Gateway) Shutdown() error {
	gw.cancel()
	gw.wg.Wait()

	gw.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return gw.httpServer.Shutdown(ctx)
}
