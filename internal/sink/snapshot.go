package sink

import (
	"context"
	"fmt"

	"github.com/nardellimar25/vsg-gateway/internal/codec"
	"github.com/nardellimar25/vsg-gateway/pkg/types"
)

// Snapshotter encodes frames and stores them under a key.
type Snapshotter struct {
	store Store
	codec codec.Codec
}

// NewSnapshotter combines a store and a codec.
func NewSnapshotter(store Store, c codec.Codec) *Snapshotter {
	return &Snapshotter{store: store, codec: c}
}

// Save encodes frame and writes it under key, returning the encoded bytes.
func (s *Snapshotter) Save(ctx context.Context, key string, frame *types.Frame) ([]byte, error) {
	data, err := s.codec.Encode(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.SaveEncoded(ctx, key, data); err != nil {
		return data, err
	}
	return data, nil
}

// SaveEncoded writes already-encoded bytes under key.
func (s *Snapshotter) SaveEncoded(ctx context.Context, key string, data []byte) error {
	if err := s.store.Put(ctx, key, data, s.codec.ContentType()); err != nil {
		return fmt.Errorf("store %s via %s: %w", key, s.store.Name(), err)
	}
	return nil
}

// Codec returns the codec used for encoding.
func (s *Snapshotter) Codec() codec.Codec {
	return s.codec
}
