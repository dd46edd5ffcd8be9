package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// KV is a durable string key-value store. ttl is a hint: zero means keep
// forever; a positive ttl lets the backing drop the value after it passes.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open opens a KV of the named backend at path. An empty backend means
// SQLite.
func Open(backend, path string) (KV, error) {
	switch backend {
	case "", BackendSQLite:
		kv, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case BackendBadger:
		kv, err := OpenBadger(path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %s or %s)", backend, BackendSQLite, BackendBadger)
	}
}
