package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang/snappy"

	"github.com/roach88/offsync/internal/ir"
)

const (
	// DefaultSnapshotKey is the key the client state is written under.
	DefaultSnapshotKey = "offsync-state-v1"

	// DefaultSnapshotTTL is the retention hint given to the backing store.
	DefaultSnapshotTTL = 365 * 24 * time.Hour

	// DefaultMaxSnapshotBytes bounds the uncompressed snapshot size.
	DefaultMaxSnapshotBytes = 1 << 20
)

// snapshotMagic prefixes every encoded snapshot.
var snapshotMagic = []byte("OSS1")

// ErrSnapshotTooLarge is returned by Save when the encoded state exceeds
// the configured bound. The previous snapshot is left in place.
var ErrSnapshotTooLarge = errors.New("snapshot too large")

// SnapshotStore persists ir.Snapshot values in a KV.
type SnapshotStore struct {
	kv       KV
	key      string
	ttl      time.Duration
	maxBytes int
	logger   *slog.Logger
}

// SnapshotOption configures a SnapshotStore.
type SnapshotOption func(*SnapshotStore)

// WithSnapshotKey overrides DefaultSnapshotKey.
func WithSnapshotKey(key string) SnapshotOption {
	return func(s *SnapshotStore) { s.key = key }
}

// WithSnapshotTTL overrides DefaultSnapshotTTL. Zero keeps forever.
func WithSnapshotTTL(ttl time.Duration) SnapshotOption {
	return func(s *SnapshotStore) { s.ttl = ttl }
}

// WithMaxSnapshotBytes overrides DefaultMaxSnapshotBytes.
func WithMaxSnapshotBytes(n int) SnapshotOption {
	return func(s *SnapshotStore) { s.maxBytes = n }
}

// WithSnapshotLogger sets the logger used to report discarded snapshots.
func WithSnapshotLogger(logger *slog.Logger) SnapshotOption {
	return func(s *SnapshotStore) { s.logger = logger }
}

// NewSnapshotStore creates a SnapshotStore over kv.
func NewSnapshotStore(kv KV, opts ...SnapshotOption) *SnapshotStore {
	s := &SnapshotStore{
		kv:       kv,
		key:      DefaultSnapshotKey,
		ttl:      DefaultSnapshotTTL,
		maxBytes: DefaultMaxSnapshotBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes snap, replacing any previous snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap *ir.Snapshot) error {
	raw, encoded, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if s.maxBytes > 0 && len(raw) > s.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrSnapshotTooLarge, len(raw), s.maxBytes)
	}
	return s.kv.Set(ctx, s.key, string(encoded), s.ttl)
}

// Load returns the stored snapshot. A missing, unreadable, corrupt or
// version-mismatched snapshot yields (nil, false).
func (s *SnapshotStore) Load(ctx context.Context) (*ir.Snapshot, bool) {
	value, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.logger.Warn("snapshot read failed", "key", s.key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	snap, err := DecodeSnapshot([]byte(value))
	if err != nil {
		s.logger.Warn("discarding unreadable snapshot", "key", s.key, "error", err)
		return nil, false
	}
	if snap.Version != ir.SnapshotVersion {
		s.logger.Warn("discarding snapshot from another version",
			"key", s.key, "version", snap.Version, "want", ir.SnapshotVersion)
		return nil, false
	}
	return snap, true
}

// Clear removes the stored snapshot.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key)
}

// EncodeSnapshot serializes snap as the magic prefix followed by
// snappy-compressed JSON.
func EncodeSnapshot(snap *ir.Snapshot) ([]byte, error) {
	_, encoded, err := encodeSnapshot(snap)
	return encoded, err
}

func encodeSnapshot(snap *ir.Snapshot) (raw, encoded []byte, err error) {
	if snap == nil {
		return nil, nil, errors.New("nil snapshot")
	}
	raw, err = json.Marshal(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	compressed := snappy.Encode(nil, raw)
	encoded = make([]byte, 0, len(snapshotMagic)+len(compressed))
	encoded = append(encoded, snapshotMagic...)
	encoded = append(encoded, compressed...)
	return raw, encoded, nil
}

// DecodeSnapshot parses the output of EncodeSnapshot.
func DecodeSnapshot(data []byte) (*ir.Snapshot, error) {
	if !bytes.HasPrefix(data, snapshotMagic) {
		return nil, errors.New("missing snapshot header")
	}
	raw, err := snappy.Decode(nil, data[len(snapshotMagic):])
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	var snap ir.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
