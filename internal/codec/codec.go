// Package codec converts between encoded image payloads and RGB frames.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// DefaultJPEGQuality matches the quality used for debug snapshots.
const DefaultJPEGQuality = 80

// ErrEmptyPayload is returned when there is nothing to decode.
var ErrEmptyPayload = errors.New("codec: empty payload")

// Codec decodes compressed payloads into frames and encodes frames back.
type Codec interface {
	Decode(data []byte) (*types.Frame, error)
	Encode(frame *types.Frame) ([]byte, error)
	// Extension is the file extension for encoded output, without dot.
	Extension() string
	// ContentType is the MIME type of encoded output.
	ContentType() string
}

// ImageCodec is a Codec backed by the imaging package.
type ImageCodec struct {
	format  imaging.Format
	quality int
}

// NewJPEG returns a JPEG codec. Quality outside 1..100 falls back to the
// default.
func NewJPEG(quality int) *ImageCodec {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &ImageCodec{format: imaging.JPEG, quality: quality}
}

// NewPNG returns a lossless PNG codec.
func NewPNG() *ImageCodec {
	return &ImageCodec{format: imaging.PNG}
}

// ForName returns the codec registered under name ("jpeg", "jpg", "png").
func ForName(name string, quality int) (*ImageCodec, error) {
	switch strings.ToLower(name) {
	case "", "jpeg", "jpg":
		return NewJPEG(quality), nil
	case "png":
		return NewPNG(), nil
	default:
		return nil, fmt.Errorf("codec: unsupported format %q", name)
	}
}

// Decode decodes any format imaging understands. The returned frame gets a
// fresh trace ID and the current time.
func (c *ImageCodec) Decode(data []byte) (*types.Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	frame := types.FrameFromImage(img)
	frame.Timestamp = time.Now()
	frame.TraceID = uuid.New().String()
	return frame, nil
}

// Encode compresses frame in the codec's format.
func (c *ImageCodec) Encode(frame *types.Frame) ([]byte, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("codec: invalid frame")
	}
	var buf bytes.Buffer
	var opts []imaging.EncodeOption
	if c.format == imaging.JPEG {
		opts = append(opts, imaging.JPEGQuality(c.quality))
	}
	if err := imaging.Encode(&buf, frame.Image(), c.format, opts...); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Extension implements Codec.
func (c *ImageCodec) Extension() string {
	if c.format == imaging.PNG {
		return "png"
	}
	return "jpg"
}

// ContentType implements Codec.
func (c *ImageCodec) ContentType() string {
	if c.format == imaging.PNG {
		return "image/png"
	}
	return "image/jpeg"
}
