package types

import (
	"image"
	"time"
)

// BytesPerPixel is the size of one packed RGB pixel.
const BytesPerPixel = 3

// Frame is a decoded picture in packed 8-bit RGB, row-major.
type Frame struct {
	Pix       []byte    // len(Pix) == Width*Height*3
	Width     int       // Frame width in pixels
	Height    int       // Frame height in pixels
	Timestamp time.Time // Receive time at the gateway
	TraceID   string    // Correlates log lines for one frame
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Pix:       make([]byte, width*height*BytesPerPixel),
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
	}
}

// Stride returns the number of bytes per row.
func (f *Frame) Stride() int {
	return f.Width * BytesPerPixel
}

// Valid reports whether the pixel buffer matches the declared size.
func (f *Frame) Valid() bool {
	return f != nil && f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*BytesPerPixel
}

// Clone returns a deep copy. Frames are shared read-only between
// goroutines, so anything that draws on a frame clones it first.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{
		Pix:       pix,
		Width:     f.Width,
		Height:    f.Height,
		Timestamp: f.Timestamp,
		TraceID:   f.TraceID,
	}
}

// Crop copies the region covered by box into a new frame. It returns nil
// when the box is empty or not fully inside the frame.
func (f *Frame) Crop(box BoundingBox) *Frame {
	if box.Empty() || !box.Within(f.Width, f.Height) {
		return nil
	}
	out := NewFrame(box.Width(), box.Height())
	out.Timestamp = f.Timestamp
	out.TraceID = f.TraceID
	rowBytes := out.Stride()
	for y := 0; y < out.Height; y++ {
		src := (box.Y1+y)*f.Stride() + box.X1*BytesPerPixel
		copy(out.Pix[y*rowBytes:(y+1)*rowBytes], f.Pix[src:src+rowBytes])
	}
	return out
}

// Paste writes region into f with its upper-left corner at (x, y).
// The region must fit entirely; otherwise Paste returns false and f is
// left untouched.
func (f *Frame) Paste(region *Frame, x, y int) bool {
	box := BoundingBox{X1: x, Y1: y, X2: x + region.Width, Y2: y + region.Height}
	if !box.Within(f.Width, f.Height) {
		return false
	}
	rowBytes := region.Stride()
	for row := 0; row < region.Height; row++ {
		dst := (y+row)*f.Stride() + x*BytesPerPixel
		copy(f.Pix[dst:dst+rowBytes], region.Pix[row*rowBytes:(row+1)*rowBytes])
	}
	return true
}

// SameShape reports whether two frames have identical dimensions.
func (f *Frame) SameShape(other *Frame) bool {
	return f != nil && other != nil && f.Width == other.Width && f.Height == other.Height
}

// Image converts the frame into an image.NRGBA for encoders and drawing.
func (f *Frame) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FrameFromImage converts any image into a packed RGB frame.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		for i, j := 0, 0; j+3 < len(nrgba.Pix) && i+2 < len(f.Pix); i, j = i+3, j+4 {
			f.Pix[i] = nrgba.Pix[j]
			f.Pix[i+1] = nrgba.Pix[j+1]
			f.Pix[i+2] = nrgba.Pix[j+2]
		}
		return f
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			f.Pix[i] = uint8(r >> 8)
			f.Pix[i+1] = uint8(g >> 8)
			f.Pix[i+2] = uint8(bl >> 8)
			i += 3
		}
	}
	return f
}
