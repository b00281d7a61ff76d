package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8080"
	defaultRequestTimeout = 2 * time.Second
)

// gatewayClient talks to a running gateway. Tests skip when none is
// reachable at GATEWAY_BASE_URL.
type gatewayClient struct {
	baseURL string
	client  *http.Client
}

func newGatewayClient(t *testing.T) *gatewayClient {
	t.Helper()
	baseURL := os.Getenv("GATEWAY_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/api/status") {
		t.Skipf("gateway not reachable at %s (set GATEWAY_BASE_URL to run)", baseURL)
	}

	return &gatewayClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *gatewayClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp := c.getResponse(t, path)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *gatewayClient) getResponse(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func (c *gatewayClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			// Skip keepalive comments
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if strings.HasPrefix(event, ":") {
					continue
				}
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertRegion(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	for _, k := range []string{"x1", "y1", "x2", "y2", "score_sensitive", "score_other", "latency_ms"} {
		requireNumber(t, payload[k], field+"."+k)
	}
	label := requireString(t, payload["label"], field+".label")
	if label != "sensitive" && label != "non-sensitive" {
		t.Fatalf("%s.label = %q", field, label)
	}
}

func assertCycleEvent(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireString(t, payload["id"], field+".id")
	requireNumber(t, payload["seq"], field+".seq")
	requireString(t, payload["outcome"], field+".outcome")
	requireNumber(t, payload["timestamp"], field+".timestamp")
	requireNumber(t, payload["latency_ms"], field+".latency_ms")
	regions := requireSlice(t, payload["regions"], field+".regions")
	for i, raw := range regions {
		assertRegion(t, requireMap(t, raw, fmt.Sprintf("%s.regions[%d]", field, i)), fmt.Sprintf("%s.regions[%d]", field, i))
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	pipeline := requireMap(t, payload["pipeline"], "pipeline")
	requireString(t, pipeline["topology"], "pipeline.topology")
	queues := requireSlice(t, pipeline["queues"], "pipeline.queues")
	for i, raw := range queues {
		q := requireMap(t, raw, fmt.Sprintf("pipeline.queues[%d]", i))
		requireString(t, q["name"], "queue.name")
		requireNumber(t, q["len"], "queue.len")
		requireNumber(t, q["dropped"], "queue.dropped")
	}
	gate := requireMap(t, pipeline["gate"], "pipeline.gate")
	requireNumber(t, gate["parties"], "pipeline.gate.parties")
	requireNumber(t, gate["timeouts"], "pipeline.gate.timeouts")

	cycles := requireMap(t, payload["cycles"], "cycles")
	requireNumber(t, cycles["total"], "cycles.total")
	requireMap(t, cycles["by_outcome"], "cycles.by_outcome")

	requireMap(t, payload["clients"], "clients")
	requireNumber(t, payload["timestamp"], "timestamp")

	if payload["latest_cycle"] != nil {
		assertCycleEvent(t, requireMap(t, payload["latest_cycle"], "latest_cycle"), "latest_cycle")
	}
	history := requireSlice(t, payload["cycle_history"], "cycle_history")
	for i, raw := range history {
		field := fmt.Sprintf("cycle_history[%d]", i)
		assertCycleEvent(t, requireMap(t, raw, field), field)
	}
}
