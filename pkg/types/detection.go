package types

import (
	"image"
	"time"
)

// BoundingBox is a half-open pixel rectangle [X1,X2) x [Y1,Y2) with the
// origin at the upper-left corner.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the horizontal extent, or 0 for inverted boxes.
func (b BoundingBox) Width() int {
	if b.X2 <= b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the vertical extent, or 0 for inverted boxes.
func (b BoundingBox) Height() int {
	if b.Y2 <= b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Empty reports whether the box covers no pixels.
func (b BoundingBox) Empty() bool {
	return b.Width() == 0 || b.Height() == 0
}

// Within reports whether the box lies inside a width x height frame.
func (b BoundingBox) Within(width, height int) bool {
	return b.X1 >= 0 && b.Y1 >= 0 && b.X1 <= b.X2 && b.Y1 <= b.Y2 &&
		b.X2 <= width && b.Y2 <= height
}

// Rect returns the box as an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one bounding box reported by the upstream detector.
type Detection struct {
	Confidence    uint8       `json:"confidence"`
	HasConfidence bool        `json:"has_confidence"`
	Box           BoundingBox `json:"box"`
}

// DetectionSet is the metadata for one frame, in wire order.
type DetectionSet struct {
	Detections []Detection `json:"detections"`
	ReceivedAt time.Time   `json:"received_at"`
	Seq        uint64      `json:"seq"`
}

// Boxes returns the bounding boxes in order.
func (s DetectionSet) Boxes() []BoundingBox {
	boxes := make([]BoundingBox, len(s.Detections))
	for i, d := range s.Detections {
		boxes[i] = d.Box
	}
	return boxes
}

// Label is the binary classification outcome for one region.
type Label int

const (
	LabelNonSensitive Label = iota
	LabelSensitive
)

// String returns the label name used in logs and events.
func (l Label) String() string {
	if l == LabelSensitive {
		return "sensitive"
	}
	return "non-sensitive"
}

// MarshalText makes labels render as strings in JSON.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Classification is the per-region result of one orchestrator cycle.
type Classification struct {
	Box            BoundingBox   `json:"box"`
	Label          Label         `json:"label"`
	ScoreSensitive float64       `json:"score_sensitive"`
	ScoreOther     float64       `json:"score_other"`
	Latency        time.Duration `json:"latency_ns"`
}
