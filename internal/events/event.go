// Package events describes orchestrator cycle events and fans them out to
// monitor clients and message brokers.
package events

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// Region is one classified bounding box.
type Region struct {
	X1             int     `json:"x1"`
	Y1             int     `json:"y1"`
	X2             int     `json:"x2"`
	Y2             int     `json:"y2"`
	Label          string  `json:"label"`
	ScoreSensitive float64 `json:"score_sensitive"`
	ScoreOther     float64 `json:"score_other"`
	LatencyMs      float64 `json:"latency_ms"`
}

// CycleEvent summarizes one orchestrator cycle.
type CycleEvent struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	TraceID   string    `json:"trace_id,omitempty"`
	Outcome   string    `json:"outcome"`
	Timestamp float64   `json:"timestamp"`
	LatencyMs float64   `json:"latency_ms"`
	Skipped   int       `json:"skipped"`
	Regions   []Region  `json:"regions"`
	Time      time.Time `json:"-"`
}

// RegionFromClassification converts a classification for the wire.
func RegionFromClassification(c types.Classification) Region {
	return Region{
		X1:             c.Box.X1,
		Y1:             c.Box.Y1,
		X2:             c.Box.X2,
		Y2:             c.Box.Y2,
		Label:          c.Label.String(),
		ScoreSensitive: c.ScoreSensitive,
		ScoreOther:     c.ScoreOther,
		LatencyMs:      float64(c.Latency.Microseconds()) / 1000,
	}
}

// SensitiveCount returns how many regions were redacted.
func (e *CycleEvent) SensitiveCount() int {
	n := 0
	for _, r := range e.Regions {
		if r.Label == types.LabelSensitive.String() {
			n++
		}
	}
	return n
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Protobuf, base64 encoded for SSE
}

// Serialize encodes ev as JSON and as base64 protobuf.
func Serialize(ev *CycleEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal cycle event: %w", err)
	}
	pb := MarshalProto(ev)
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pb)),
	}, nil
}

// Protobuf field numbers.
//
//	message Region {
//	  int32 x1 = 1; int32 y1 = 2; int32 x2 = 3; int32 y2 = 4;
//	  string label = 5; double score_sensitive = 6; double score_other = 7;
//	  double latency_ms = 8;
//	}
//	message CycleEvent {
//	  string id = 1; uint64 seq = 2; string trace_id = 3; string outcome = 4;
//	  double timestamp = 5; double latency_ms = 6; int32 skipped = 7;
//	  repeated Region regions = 8;
//	}
const (
	fieldRegionX1 protowire.Number = iota + 1
	fieldRegionY1
	fieldRegionX2
	fieldRegionY2
	fieldRegionLabel
	fieldRegionScoreSensitive
	fieldRegionScoreOther
	fieldRegionLatency
)

const (
	fieldEventID protowire.Number = iota + 1
	fieldEventSeq
	fieldEventTraceID
	fieldEventOutcome
	fieldEventTimestamp
	fieldEventLatency
	fieldEventSkipped
	fieldEventRegions
)

// MarshalProto encodes ev in protobuf wire format.
func MarshalProto(ev *CycleEvent) []byte {
	var b []byte
	b = appendString(b, fieldEventID, ev.ID)
	if ev.Seq != 0 {
		b = protowire.AppendTag(b, fieldEventSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, ev.Seq)
	}
	b = appendString(b, fieldEventTraceID, ev.TraceID)
	b = appendString(b, fieldEventOutcome, ev.Outcome)
	b = appendDouble(b, fieldEventTimestamp, ev.Timestamp)
	b = appendDouble(b, fieldEventLatency, ev.LatencyMs)
	b = appendInt(b, fieldEventSkipped, ev.Skipped)
	for _, r := range ev.Regions {
		b = protowire.AppendTag(b, fieldEventRegions, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRegion(r))
	}
	return b
}

func marshalRegion(r Region) []byte {
	var b []byte
	b = appendInt(b, fieldRegionX1, r.X1)
	b = appendInt(b, fieldRegionY1, r.Y1)
	b = appendInt(b, fieldRegionX2, r.X2)
	b = appendInt(b, fieldRegionY2, r.Y2)
	b = appendString(b, fieldRegionLabel, r.Label)
	b = appendDouble(b, fieldRegionScoreSensitive, r.ScoreSensitive)
	b = appendDouble(b, fieldRegionScoreOther, r.ScoreOther)
	b = appendDouble(b, fieldRegionLatency, r.LatencyMs)
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// int32 fields use plain varint encoding, sign-extended for negatives.
func appendInt(b []byte, num protowire.Number, v int) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

// UnmarshalProto decodes the wire format written by MarshalProto. Unknown
// fields are skipped.
func UnmarshalProto(b []byte) (*CycleEvent, error) {
	ev := &CycleEvent{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch {
		case num == fieldEventID && typ == protowire.BytesType:
			ev.ID = string(v)
		case num == fieldEventSeq && typ == protowire.VarintType:
			ev.Seq = n
		case num == fieldEventTraceID && typ == protowire.BytesType:
			ev.TraceID = string(v)
		case num == fieldEventOutcome && typ == protowire.BytesType:
			ev.Outcome = string(v)
		case num == fieldEventTimestamp && typ == protowire.Fixed64Type:
			ev.Timestamp = math.Float64frombits(n)
		case num == fieldEventLatency && typ == protowire.Fixed64Type:
			ev.LatencyMs = math.Float64frombits(n)
		case num == fieldEventSkipped && typ == protowire.VarintType:
			ev.Skipped = int(int64(n))
		case num == fieldEventRegions && typ == protowire.BytesType:
			r, err := unmarshalRegion(v)
			if err != nil {
				return err
			}
			ev.Regions = append(ev.Regions, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func unmarshalRegion(b []byte) (Region, error) {
	var r Region
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldRegionX1:
			r.X1 = int(int64(n))
		case fieldRegionY1:
			r.Y1 = int(int64(n))
		case fieldRegionX2:
			r.X2 = int(int64(n))
		case fieldRegionY2:
			r.Y2 = int(int64(n))
		case fieldRegionLabel:
			r.Label = string(v)
		case fieldRegionScoreSensitive:
			r.ScoreSensitive = math.Float64frombits(n)
		case fieldRegionScoreOther:
			r.ScoreOther = math.Float64frombits(n)
		case fieldRegionLatency:
			r.LatencyMs = math.Float64frombits(n)
		}
		return nil
	})
	return r, err
}

// walkFields calls fn for every field of a message. For varint and fixed64
// fields the value is passed in n, for length-delimited fields in v.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return fmt.Errorf("protobuf tag: %w", protowire.ParseError(tagLen))
		}
		b = b[tagLen:]

		var (
			v   []byte
			n   uint64
			adv int
		)
		switch typ {
		case protowire.VarintType:
			n, adv = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			n, adv = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v, adv = protowire.ConsumeBytes(b)
		default:
			adv = protowire.ConsumeFieldValue(num, typ, b)
		}
		if adv < 0 {
			return fmt.Errorf("protobuf field %d: %w", num, protowire.ParseError(adv))
		}
		if err := fn(num, typ, v, n); err != nil {
			return err
		}
		b = b[adv:]
	}
	return nil
}
