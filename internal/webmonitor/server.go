package webmonitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/nardellimar25/vsg-gateway/internal/events"
	"github.com/nardellimar25/vsg-gateway/internal/metrics"
	"github.com/nardellimar25/vsg-gateway/internal/sink"
	"github.com/nardellimar25/vsg-gateway/internal/webrtc"
)

// Deps are the gateway components the monitor exposes. Recorder, WebRTC
// and Metrics may be nil; the matching endpoints then report 503.
type Deps struct {
	Monitor  *Monitor
	Frames   *events.FrameBroadcaster
	Events   *events.Broadcaster
	Recorder *sink.Recorder
	WebRTC   *webrtc.Server
	Metrics  *metrics.Metrics
}

// Server serves the web monitor endpoints.
type Server struct {
	cfg      Config
	monitor  *Monitor
	frames   *events.FrameBroadcaster
	events   *events.Broadcaster
	recorder *sink.Recorder
	webrtc   *webrtc.Server
	metrics  *metrics.Metrics
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = def.StallAfter
	}
	if cfg.MJPEGIdle <= 0 {
		cfg.MJPEGIdle = def.MJPEGIdle
	}
	if cfg.ContentType == "" {
		cfg.ContentType = def.ContentType
	}
	if deps.Monitor == nil {
		deps.Monitor = NewMonitor(nil)
	}
	if deps.Frames == nil {
		deps.Frames = events.NewFrameBroadcaster()
	}
	if deps.Events == nil {
		deps.Events = events.NewBroadcaster()
	}

	return &Server{
		cfg:      cfg,
		monitor:  deps.Monitor,
		frames:   deps.Frames,
		events:   deps.Events,
		recorder: deps.Recorder,
		webrtc:   deps.WebRTC,
		metrics:  deps.Metrics,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/events/stream", s.handleEventsStream)
	mux.HandleFunc("/ws/events", s.handleEventsWebSocket)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":         "ok",
		"topology":       s.cfg.Topology,
		"uptime_seconds": s.monitor.Uptime().Seconds(),
	}
	status := http.StatusOK

	if s.metrics != nil {
		since := s.metrics.SinceLastEmit()
		switch {
		case since < 0:
			// Nothing emitted yet
			payload["status"] = "starting"
			payload["last_emit_seconds"] = nil
		case since > s.cfg.StallAfter:
			payload["status"] = "stalled"
			payload["last_emit_seconds"] = since.Seconds()
			status = http.StatusServiceUnavailable
		default:
			payload["last_emit_seconds"] = since.Seconds()
		}
	}

	writeJSONWithStatus(w, payload, status)
}

// trackClient counts a streaming viewer until the returned func is called.
func (s *Server) trackClient() func() {
	if s.metrics == nil {
		return func() {}
	}
	s.metrics.ActiveClients.Add(1)
	return func() { s.metrics.ActiveClients.Add(^uint64(0)) }
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	defer s.trackClient()()
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.cfg.ContentType, s.cfg.MJPEGIdle)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, ok := s.frames.Latest()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no composite available"}, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", s.cfg.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) statusPayload() StatusPayload {
	pipeline, cycles, latest, history := s.monitor.Snapshot()
	clients := map[string]int{
		"mjpeg":  s.frames.ClientCount(),
		"events": s.events.ClientCount(),
	}
	if s.webrtc != nil {
		clients["webrtc"] = s.webrtc.GetClientCount()
	}
	return StatusPayload{
		Pipeline:  pipeline,
		Cycles:    cycles,
		Latest:    latest,
		History:   history,
		Clients:   clients,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	defer s.trackClient()()
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(w, r, eventCh, useProtobuf)
}

type recordingRequest struct {
	Session string `json:"session"`
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is not configured"}, http.StatusServiceUnavailable)
		return
	}

	var req recordingRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
			return
		}
	}

	// Session names become storage path segments
	name := slug.Make(req.Session)
	if req.Session != "" && name == "" {
		writeJSONWithStatus(w, map[string]any{"error": "invalid session name"}, http.StatusBadRequest)
		return
	}

	session, err := s.recorder.Start(name)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sink.ErrAlreadyRecording) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "recording",
		"session":    session,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is not configured"}, http.StatusServiceUnavailable)
		return
	}

	stats, err := s.recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"session":    stats.Session,
		"stats":      stats,
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, sink.RecorderStatus{})
		return
	}
	writeJSON(w, s.recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.webrtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, webrtc.ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
