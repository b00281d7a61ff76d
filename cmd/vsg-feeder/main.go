package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nardellimar25/vsg-gateway/internal/blur"
	"github.com/nardellimar25/vsg-gateway/internal/codec"
	"github.com/nardellimar25/vsg-gateway/internal/feeder"
	"github.com/nardellimar25/vsg-gateway/internal/logger"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// boxList collects repeated -box x1,y1,x2,y2 flags.
type boxList []types.BoundingBox

func (b *boxList) String() string { return fmt.Sprint(*b) }

func (b *boxList) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return fmt.Errorf("box %q: want x1,y1,x2,y2", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("box %q: %w", s, err)
		}
		v[i] = n
	}
	*b = append(*b, types.BoundingBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]})
	return nil
}

func main() {
	cfg := feeder.DefaultConfig()

	var (
		imagePath string
		kernel    int
		quality   int
		interval  time.Duration
		count     int
		boxes     boxList
		logLevel  string
	)

	flag.StringVar(&cfg.Host, "host", cfg.Host, "Gateway host")
	flag.IntVar(&cfg.PortRaw, "raw", cfg.PortRaw, "Raw frame port")
	flag.IntVar(&cfg.PortBlurred, "blurred", cfg.PortBlurred, "Blurred frame port (0 to disable)")
	flag.IntVar(&cfg.PortCoords, "coords", cfg.PortCoords, "Detection metadata port")
	flag.StringVar(&cfg.Format, "format", cfg.Format, "Metadata format (json, binary)")
	flag.StringVar(&imagePath, "image", "", "Image file to send (a test pattern when empty)")
	flag.IntVar(&kernel, "kernel", blur.DefaultKernelSize, "Blur kernel size for the blurred stream")
	flag.IntVar(&quality, "quality", 80, "JPEG quality")
	flag.DurationVar(&interval, "interval", 100*time.Millisecond, "Delay between sets")
	flag.IntVar(&count, "count", 0, "Number of sets to send (0 = until interrupted)")
	flag.Var(&boxes, "box", "Bounding box x1,y1,x2,y2 (repeatable)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(logger.New(level, os.Stderr, true))

	jpeg := codec.NewJPEG(quality)
	frame, err := loadFrame(jpeg, imagePath)
	if err != nil {
		log.Fatalf("Failed to load image: %v", err)
	}
	if len(boxes) == 0 {
		boxes = append(boxes, types.BoundingBox{X1: frame.Width / 4, Y1: frame.Height / 4, X2: frame.Width * 3 / 4, Y2: frame.Height * 3 / 4})
	}

	raw, err := jpeg.Encode(frame)
	if err != nil {
		log.Fatalf("Failed to encode raw frame: %v", err)
	}

	generator, err := blur.New(kernel)
	if err != nil {
		log.Fatalf("Invalid kernel: %v", err)
	}
	whole := types.BoundingBox{X2: frame.Width, Y2: frame.Height}
	blurred, err := jpeg.Encode(generator.Generate(frame, []types.BoundingBox{whole}))
	if err != nil {
		log.Fatalf("Failed to encode blurred frame: %v", err)
	}

	f, err := feeder.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create feeder: %v", err)
	}
	defer f.Close()

	logger.Info("Feeder", "Sending %dx%d frames (%d bytes raw, %d bytes blurred) to %s", frame.Width, frame.Height, len(raw), len(blurred), cfg.Host)
	logger.Info("Feeder", "Boxes: %v (format %s)", []types.BoundingBox(boxes), cfg.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sent, err := f.Run(ctx, interval, count, raw, blurred, boxes)
	if err != nil {
		logger.Error("Feeder", "Stopped after %d sets: %v", sent, err)
		return
	}
	logger.Info("Feeder", "Sent %d sets", sent)
}

func loadFrame(c codec.Codec, path string) (*types.Frame, error) {
	if path == "" {
		return testPattern(320, 240), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}

// testPattern draws a diagonal gradient so blurring is visible.
func testPattern(w, h int) *types.Frame {
	frame := types.NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * types.BytesPerPixel
			frame.Pix[i] = byte(x * 255 / w)
			frame.Pix[i+1] = byte(y * 255 / h)
			frame.Pix[i+2] = byte(((x / 16) + (y / 16)) % 2 * 255)
		}
	}
	return frame
}
