package detection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// ErrMalformedBox is returned for bbox entries that are not four integers.
var ErrMalformedBox = errors.New("detection: bbox must have exactly 4 coordinates")

type jsonPayload struct {
	BBoxes [][]int `json:"bboxes"`
}

// DecodeJSON parses {"bboxes": [[x1,y1,x2,y2], ...]}. The JSON form carries
// no confidence.
func DecodeJSON(b []byte) (types.DetectionSet, error) {
	var p jsonPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return types.DetectionSet{}, fmt.Errorf("detection: parse json: %w", err)
	}
	set := types.DetectionSet{Detections: make([]types.Detection, 0, len(p.BBoxes))}
	for i, c := range p.BBoxes {
		if len(c) != 4 {
			return types.DetectionSet{}, fmt.Errorf("bbox %d has %d values: %w", i, len(c), ErrMalformedBox)
		}
		set.Detections = append(set.Detections, types.Detection{
			Box: types.BoundingBox{X1: c[0], Y1: c[1], X2: c[2], Y2: c[3]},
		})
	}
	return set, nil
}

// EncodeJSON serializes the boxes of set in the JSON form.
func EncodeJSON(set types.DetectionSet) ([]byte, error) {
	p := jsonPayload{BBoxes: make([][]int, 0, len(set.Detections))}
	for _, d := range set.Detections {
		p.BBoxes = append(p.BBoxes, []int{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2})
	}
	return json.Marshal(p)
}
