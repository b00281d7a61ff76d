// Package blur produces locally blurred frames for topologies that do not
// receive a pre-blurred stream.
package blur

import (
	"errors"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// DefaultKernelSize is used when no kernel size is configured.
const DefaultKernelSize = 51

// ErrEvenKernel is returned for kernel sizes that are not positive and odd.
var ErrEvenKernel = errors.New("blur: kernel size must be positive and odd")

// Generator blurs the regions of a frame covered by bounding boxes.
type Generator struct {
	kernelSize int
	sigma      float64
}

// New returns a Generator for the given odd kernel size.
func New(kernelSize int) (*Generator, error) {
	if kernelSize <= 0 || kernelSize%2 == 0 {
		return nil, fmt.Errorf("%w: got %d", ErrEvenKernel, kernelSize)
	}
	return &Generator{kernelSize: kernelSize, sigma: SigmaForKernel(kernelSize)}, nil
}

// KernelSize returns the configured kernel size.
func (g *Generator) KernelSize() int {
	return g.kernelSize
}

// SigmaForKernel derives the Gaussian sigma from a kernel size the same way
// OpenCV does when sigma is left at zero.
func SigmaForKernel(k int) float64 {
	return 0.3*(float64(k-1)*0.5-1) + 0.8
}

// Generate returns a copy of frame where every non-empty, in-bounds box is
// replaced by a Gaussian blur of that region. Other boxes are skipped. The
// input frame is never modified.
func (g *Generator) Generate(frame *types.Frame, boxes []types.BoundingBox) *types.Frame {
	out := frame.Clone()
	for _, box := range boxes {
		region := frame.Crop(box)
		if region == nil {
			continue
		}
		blurred := types.FrameFromImage(imaging.Blur(region.Image(), g.sigma))
		out.Paste(blurred, box.X1, box.Y1)
	}
	return out
}
