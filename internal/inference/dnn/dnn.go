// Package dnn runs the region classifier in-process with the OpenCV DNN
// module.
package dnn

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/nardellimar25/vsg-gateway/internal/inference"
	"github.com/nardellimar25/vsg-gateway/internal/logger"
)

// Config describes a two-class model loadable by gocv.ReadNet.
type Config struct {
	ModelPath      string // .onnx, .pb, .caffemodel, ...
	ConfigPath     string // optional, framework dependent
	SensitiveIndex int    // output index of the sensitive class
	OtherIndex     int    // output index of the competing class
	Scale          float64
}

// Classifier wraps a gocv.Net. gocv.Net is not safe for concurrent use, so
// calls are serialized.
type Classifier struct {
	mu  sync.Mutex
	cfg Config
	net gocv.Net
}

// New loads the model described by cfg.
func New(cfg Config) (*Classifier, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("dnn: model file not found: %s", cfg.ModelPath)
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1.0 / 255.0
	}
	if err := checkIndexes(cfg); err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("dnn: failed to load network %s", cfg.ModelPath)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("dnn: failed to set preferable backend or target")
	}

	logger.Info("DNN", "Loaded classifier model %s", cfg.ModelPath)
	return &Classifier{cfg: cfg, net: net}, nil
}

func checkIndexes(cfg Config) error {
	if cfg.SensitiveIndex < 0 || cfg.OtherIndex < 0 || cfg.SensitiveIndex == cfg.OtherIndex {
		return fmt.Errorf("dnn: invalid class indexes sensitive=%d other=%d", cfg.SensitiveIndex, cfg.OtherIndex)
	}
	return nil
}

// Classify implements inference.Classifier.
func (c *Classifier) Classify(ctx context.Context, input []byte) (inference.Scores, error) {
	if len(input) != inference.InputSize*inference.InputSize {
		return inference.Scores{}, fmt.Errorf("dnn: input has %d bytes, want %d", len(input), inference.InputSize*inference.InputSize)
	}
	if err := ctx.Err(); err != nil {
		return inference.Scores{}, err
	}

	mat, err := gocv.NewMatFromBytes(inference.InputSize, inference.InputSize, gocv.MatTypeCV8U, input)
	if err != nil {
		return inference.Scores{}, fmt.Errorf("dnn: build input mat: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, c.cfg.Scale, image.Pt(inference.InputSize, inference.InputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.net.SetInput(blob, "")
	output := c.net.Forward("")
	defer output.Close()

	n := output.Total()
	if c.cfg.SensitiveIndex >= n || c.cfg.OtherIndex >= n {
		return inference.Scores{}, fmt.Errorf("%w: model has %d outputs", inference.ErrBadResponse, n)
	}
	flat := output.Reshape(1, 1)
	defer flat.Close()
	return inference.Scores{
		Sensitive: float64(flat.GetFloatAt(0, c.cfg.SensitiveIndex)),
		Other:     float64(flat.GetFloatAt(0, c.cfg.OtherIndex)),
	}, nil
}

// Close releases the network.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}
