package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nardellimar25/vsg-gateway/internal/events"
	"github.com/nardellimar25/vsg-gateway/internal/latest"
	"github.com/nardellimar25/vsg-gateway/internal/metrics"
	"github.com/nardellimar25/vsg-gateway/internal/sink"
	"github.com/nardellimar25/vsg-gateway/internal/syncgate"
)

type testEnv struct {
	server   *Server
	monitor  *Monitor
	frames   *events.FrameBroadcaster
	events   *events.Broadcaster
	recorder *sink.Recorder
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	q := latest.New[int](2)
	q.Put(1)
	gate := syncgate.New(2)

	env := &testEnv{
		frames:   events.NewFrameBroadcaster(),
		events:   events.NewBroadcaster(),
		recorder: sink.NewRecorder(sink.NewMemoryStore(), "recordings", "jpg", "image/jpeg"),
		metrics:  metrics.New(),
	}
	env.monitor = NewMonitor(func() PipelineStatus {
		return PipelineStatus{
			Topology: "push",
			Queues:   []QueueStatus{{Name: "raw", Stats: q.Stats()}},
			Gate:     gate.Stats(),
		}
	})
	env.server = NewServer(Config{Topology: "push", StallAfter: time.Second}, Deps{
		Monitor:  env.monitor,
		Frames:   env.frames,
		Events:   env.events,
		Recorder: env.recorder,
		Metrics:  env.metrics,
	})
	return env
}

func cycleEvent(seq uint64, outcome string, regions ...events.Region) *events.CycleEvent {
	return &events.CycleEvent{
		ID:        "c",
		Seq:       seq,
		Outcome:   outcome,
		Timestamp: float64(seq),
		Regions:   regions,
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestIndexServesHTML(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Video Sanitization Gateway") {
		t.Fatalf("unexpected index body")
	}

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", rec.Code)
	}
}

func TestHealthStates(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]any
	decodeJSON(t, rec, &body)
	if rec.Code != http.StatusOK || body["status"] != "starting" {
		t.Fatalf("before first emit: %d %v", rec.Code, body)
	}

	env.metrics.MarkEmit(time.Now())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	decodeJSON(t, rec, &body)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("after emit: %d %v", rec.Code, body)
	}

	env.metrics.MarkEmit(time.Now().Add(-time.Minute))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	decodeJSON(t, rec, &body)
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "stalled" {
		t.Fatalf("stalled: %d %v", rec.Code, body)
	}
}

func TestStatusReportsPipelineAndHistory(t *testing.T) {
	env := newTestEnv(t)
	sensitive := events.Region{X1: 1, Y1: 1, X2: 5, Y2: 5, Label: "sensitive"}

	_ = env.monitor.Publish(cycleEvent(1, "emitted", sensitive), nil)
	_ = env.monitor.Publish(cycleEvent(2, "no_frame"), nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var payload StatusPayload
	decodeJSON(t, rec, &payload)
	if payload.Pipeline.Topology != "push" || len(payload.Pipeline.Queues) != 1 {
		t.Fatalf("pipeline = %+v", payload.Pipeline)
	}
	if payload.Pipeline.Queues[0].Len != 1 || payload.Pipeline.Gate.Parties != 2 {
		t.Fatalf("queue/gate stats = %+v", payload.Pipeline)
	}
	if payload.Cycles.Total != 2 || payload.Cycles.ByOutcome["emitted"] != 1 || payload.Cycles.RegionsSensitive != 1 {
		t.Fatalf("cycles = %+v", payload.Cycles)
	}
	if payload.Latest == nil || payload.Latest.Seq != 2 {
		t.Fatalf("latest = %+v", payload.Latest)
	}
	if len(payload.History) != 1 || payload.History[0].Seq != 1 {
		t.Fatalf("history = %+v", payload.History)
	}
}

func TestMonitorHistoryIsBounded(t *testing.T) {
	m := NewMonitor(nil)
	r := events.Region{Label: "non-sensitive"}
	for i := 0; i < historySize+4; i++ {
		_ = m.Publish(cycleEvent(uint64(i), "emitted", r), nil)
	}
	_, stats, _, history := m.Snapshot()
	if len(history) != historySize {
		t.Fatalf("history len = %d", len(history))
	}
	if history[0].Seq != uint64(historySize+3) {
		t.Fatalf("history not newest first: %d", history[0].Seq)
	}
	if stats.LastEmitTimestamp != float64(historySize+3) {
		t.Fatalf("last emit = %v", stats.LastEmitTimestamp)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty snapshot status = %d", rec.Code)
	}

	env.frames.Broadcast([]byte{0xff, 0xd8, 0xff})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("snapshot: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec.Body.Len() != 3 {
		t.Fatalf("snapshot body len = %d", rec.Body.Len())
	}
}

func TestRecordingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recording/start", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET start status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recording/start", strings.NewReader(`{"session":"demo"}`)))
	var started map[string]any
	decodeJSON(t, rec, &started)
	if rec.Code != http.StatusOK || started["session"] != "demo" {
		t.Fatalf("start: %d %v", rec.Code, started)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recording/start", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start status = %d", rec.Code)
	}

	if _, err := env.recorder.Write(context.Background(), []byte("jpeg")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recording/status", nil))
	var status sink.RecorderStatus
	decodeJSON(t, rec, &status)
	if !status.Recording || status.FrameCount != 1 {
		t.Fatalf("status = %+v", status)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recording/stop", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recording/stop", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second stop status = %d", rec.Code)
	}
}

func TestRecordingSessionNames(t *testing.T) {
	tests := []struct {
		session string
		code    int
		want    string
	}{
		{"../etc", http.StatusOK, "etc"},
		{"Front Door", http.StatusOK, "front-door"},
		{"///", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.session, func(t *testing.T) {
			env := newTestEnv(t)
			body, _ := json.Marshal(map[string]string{"session": tt.session})
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recording/start", bytes.NewReader(body)))
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.code != http.StatusOK {
				if env.recorder.IsRecording() {
					t.Fatalf("recorder should stay idle")
				}
				return
			}
			if got := env.recorder.Status().Session; got != tt.want {
				t.Fatalf("session = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionalComponentsReportUnavailable(t *testing.T) {
	s := NewServer(Config{}, Deps{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer", strings.NewReader(`{}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("webrtc status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recording/start", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("recording status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), "vsg_") {
		t.Fatalf("metrics should not be mounted without a registry")
	}
}

func TestMetricsMounted(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "vsg_cycles_emitted_total") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestEventsStreamJSON(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Content-Format") != "application/json" {
		t.Fatalf("format = %q", resp.Header.Get("X-Content-Format"))
	}

	waitForSubscribers(t, env.events.ClientCount, 1)
	serialized, err := events.Serialize(cycleEvent(7, "emitted"))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	env.events.Broadcast(serialized)

	line := readDataLine(t, bufio.NewReader(resp.Body))
	var got events.CycleEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if got.Seq != 7 || got.Outcome != "emitted" {
		t.Fatalf("event = %+v", got)
	}
}

func TestEventsStreamProtobuf(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/events/stream", nil)
	req.Header.Set("Accept", "application/x-protobuf")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Content-Format") != "application/protobuf" {
		t.Fatalf("format = %q", resp.Header.Get("X-Content-Format"))
	}

	waitForSubscribers(t, env.events.ClientCount, 1)
	serialized, err := events.Serialize(cycleEvent(9, "failed"))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	env.events.Broadcast(serialized)

	line := readDataLine(t, bufio.NewReader(resp.Body))
	if line != string(serialized.ProtobufData) {
		t.Fatalf("payload = %q, want %q", line, serialized.ProtobufData)
	}
}

func TestEventsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	waitForSubscribers(t, env.events.ClientCount, 1)
	serialized, err := events.Serialize(cycleEvent(3, "emitted"))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	env.events.Broadcast(serialized)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("message type = %d", typ)
	}
	var got events.CycleEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Seq != 3 {
		t.Fatalf("seq = %d", got.Seq)
	}
	if env.metrics.ActiveClients.Load() != 1 {
		t.Fatalf("active clients = %d", env.metrics.ActiveClients.Load())
	}
}

func TestMJPEGStreamSendsLatestFrame(t *testing.T) {
	env := newTestEnv(t)
	env.frames.Broadcast([]byte("frame-bytes"))

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	boundary, err := reader.ReadString('\n')
	if err != nil || strings.TrimSpace(boundary) != "--frame" {
		t.Fatalf("boundary = %q, err %v", boundary, err)
	}
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("header: %v", err)
	}
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("blank line: %v", err)
	}
	body, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if strings.TrimSpace(body) != "frame-bytes" {
		t.Fatalf("frame = %q", body)
	}
}

func TestBlankJPEGDecodes(t *testing.T) {
	data, err := blankJPEG()
	if err != nil {
		t.Fatalf("blankJPEG: %v", err)
	}
	if len(data) < 2 || data[0] != 0xff || data[1] != 0xd8 {
		t.Fatalf("not a JPEG")
	}
}

func waitForSubscribers(t *testing.T, count func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readDataLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	done := make(chan string, 1)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(done)
				return
			}
			if strings.HasPrefix(line, "data: ") {
				done <- strings.TrimSpace(strings.TrimPrefix(line, "data: "))
				return
			}
		}
	}()
	select {
	case line, ok := <-done:
		if !ok {
			t.Fatalf("stream closed before data line")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for data line")
	}
	return ""
}

func TestCompositeContentTypeFollowsCodec(t *testing.T) {
	frames := events.NewFrameBroadcaster()
	server := NewServer(Config{ContentType: "image/png"}, Deps{Frames: frames})
	frames.Broadcast([]byte("png-bytes"))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("snapshot content type = %q", got)
	}

	srv := httptest.NewServer(server.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("boundary: %v", err)
	}
	header, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("part header: %v", err)
	}
	if strings.TrimSpace(header) != "Content-Type: image/png" {
		t.Fatalf("part header = %q", header)
	}
}
