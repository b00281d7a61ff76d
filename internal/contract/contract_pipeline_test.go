package contract

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/nardellimar25/vsg-gateway/internal/codec"
	"github.com/nardellimar25/vsg-gateway/internal/feeder"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

func envInt(t *testing.T, key string, def int) int {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		t.Fatalf("%s: %v", key, err)
	}
	return n
}

// TestContractPushPipeline feeds one push-topology set and waits for the
// gateway to emit a composite of the same size.
func TestContractPushPipeline(t *testing.T) {
	if os.Getenv("GATEWAY_FEED") == "" {
		t.Skip("set GATEWAY_FEED=1 to send UDP traffic to the gateway")
	}
	client := newGatewayClient(t)

	cfg := feeder.DefaultConfig()
	if host := os.Getenv("GATEWAY_UDP_HOST"); host != "" {
		cfg.Host = host
	}
	cfg.PortRaw = envInt(t, "GATEWAY_PORT_RAW", cfg.PortRaw)
	cfg.PortBlurred = envInt(t, "GATEWAY_PORT_BLURRED", cfg.PortBlurred)
	cfg.PortCoords = envInt(t, "GATEWAY_PORT_COORDS", cfg.PortCoords)

	f, err := feeder.New(cfg)
	if err != nil {
		t.Fatalf("feeder: %v", err)
	}
	defer f.Close()

	jpeg := codec.NewJPEG(90)
	frame := types.NewFrame(160, 120)
	for i := range frame.Pix {
		frame.Pix[i] = byte(i)
	}
	raw, err := jpeg.Encode(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	boxes := []types.BoundingBox{{X1: 10, Y1: 10, X2: 50, Y2: 50}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		_, _ = f.Run(ctx, 50*time.Millisecond, 0, raw, raw, boxes)
	}()

	for ctx.Err() == nil {
		resp, body := client.get(t, "/api/snapshot")
		if resp.StatusCode == http.StatusOK {
			got, err := jpeg.Decode(body)
			if err != nil {
				t.Fatalf("decode composite: %v", err)
			}
			if got.Width != frame.Width || got.Height != frame.Height {
				t.Fatalf("composite %dx%d, want %dx%d", got.Width, got.Height, frame.Width, frame.Height)
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("no composite emitted within timeout")
}
