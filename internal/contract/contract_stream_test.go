package contract

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestContractMJPEGStream(t *testing.T) {
	client := newGatewayClient(t)
	resp := client.getResponse(t, "/stream")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /stream status = %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "multipart/x-mixed-replace") ||
		!strings.Contains(contentType, "boundary=frame") {
		t.Fatalf("GET /stream content-type = %q", contentType)
	}
}

func TestContractStatusStream(t *testing.T) {
	client := newGatewayClient(t)
	event, headers, err := readSSEEvent(client.baseURL+"/api/status/stream", 3*time.Second)
	if err != nil {
		t.Fatalf("status stream error: %v", err)
	}
	if !strings.Contains(headers.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("status stream content-type = %q", headers.Get("Content-Type"))
	}
	assertStatusPayload(t, parseSSEData(t, event))
}

func TestContractEventsStream(t *testing.T) {
	client := newGatewayClient(t)
	event, headers, err := readSSEEvent(client.baseURL+"/api/events/stream", 3*time.Second)
	if err != nil {
		t.Skipf("no cycle events (is anything feeding the gateway?): %v", err)
	}
	if headers.Get("X-Content-Format") != "application/json" {
		t.Fatalf("events stream format = %q", headers.Get("X-Content-Format"))
	}
	assertCycleEvent(t, parseSSEData(t, event), "event")
}
