package gst

import (
	"fmt"

	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// rgbStride is the row size GStreamer uses for packed RGB: rows are padded
// to a multiple of four bytes.
func rgbStride(width int) int {
	return (width*types.BytesPerPixel + 3) &^ 3
}

// packRGB returns tightly packed RGB pixels for a width x height buffer
// that may carry row padding.
func packRGB(data []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	packed := width * types.BytesPerPixel
	switch len(data) {
	case packed * height:
		return data, nil
	case rgbStride(width) * height:
		stride := rgbStride(width)
		out := make([]byte, packed*height)
		for y := 0; y < height; y++ {
			copy(out[y*packed:(y+1)*packed], data[y*stride:y*stride+packed])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("buffer of %d bytes does not match %dx%d RGB", len(data), width, height)
	}
}

// intField converts a caps structure value to int.
func intField(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	default:
		return 0, false
	}
}
