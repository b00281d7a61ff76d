package inference

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// PrepareInput converts a cropped region into the classifier input: 8-bit
// luma, scaled to InputSize x InputSize, row-major.
func PrepareInput(region *types.Frame) []byte {
	dst := image.NewGray(image.Rect(0, 0, InputSize, InputSize))
	if region == nil || !region.Valid() {
		return dst.Pix
	}
	src := region.Image()
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst.Pix
}
