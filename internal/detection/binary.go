// Package detection encodes and decodes per-frame bounding-box metadata.
//
// Binary layout (little-endian, packed):
//
//	count:uint16 | record[count]
//	record = confidence:uint8 x1:uint16 y1:uint16 x2:uint16 y2:uint16
package detection

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

const (
	// HeaderSize is the size of the count prefix.
	HeaderSize = 2
	// RecordSize is the size of one packed detection record.
	RecordSize = 9
)

// ErrShortHeader is returned when a buffer cannot hold the count prefix.
var ErrShortHeader = errors.New("detection: buffer shorter than header")

// DecodeBinary parses a binary metadata buffer. A buffer that ends in the
// middle of a record yields only the complete records before it.
func DecodeBinary(b []byte) (types.DetectionSet, error) {
	if len(b) < HeaderSize {
		return types.DetectionSet{}, ErrShortHeader
	}
	count := int(binary.LittleEndian.Uint16(b))
	body := b[HeaderSize:]
	if avail := len(body) / RecordSize; avail < count {
		count = avail
	}

	set := types.DetectionSet{Detections: make([]types.Detection, 0, count)}
	for i := 0; i < count; i++ {
		r := body[i*RecordSize : (i+1)*RecordSize]
		set.Detections = append(set.Detections, types.Detection{
			Confidence:    r[0],
			HasConfidence: true,
			Box: types.BoundingBox{
				X1: int(binary.LittleEndian.Uint16(r[1:])),
				Y1: int(binary.LittleEndian.Uint16(r[3:])),
				X2: int(binary.LittleEndian.Uint16(r[5:])),
				Y2: int(binary.LittleEndian.Uint16(r[7:])),
			},
		})
	}
	return set, nil
}

// EncodeBinary serializes set. Coordinates are clamped to the uint16 range
// and at most 65535 records are written.
func EncodeBinary(set types.DetectionSet) []byte {
	dets := set.Detections
	if len(dets) > math.MaxUint16 {
		dets = dets[:math.MaxUint16]
	}
	out := make([]byte, HeaderSize+len(dets)*RecordSize)
	binary.LittleEndian.PutUint16(out, uint16(len(dets)))
	for i, d := range dets {
		r := out[HeaderSize+i*RecordSize:]
		r[0] = d.Confidence
		binary.LittleEndian.PutUint16(r[1:], clampU16(d.Box.X1))
		binary.LittleEndian.PutUint16(r[3:], clampU16(d.Box.Y1))
		binary.LittleEndian.PutUint16(r[5:], clampU16(d.Box.X2))
		binary.LittleEndian.PutUint16(r[7:], clampU16(d.Box.Y2))
	}
	return out
}

func clampU16(v int) uint16 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(v)
}
