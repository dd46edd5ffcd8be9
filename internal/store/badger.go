package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const defaultBadgerValueLogFileSize = 16 * 1024 * 1024

// BadgerKV is a KV backed by a Badger directory. TTLs map to Badger entry
// expiry, which has one-second granularity.
type BadgerKV struct {
	db *badger.DB
}

type badgerConfig struct {
	valueLogFileSize int64
	inMemory         bool
}

// BadgerOption customizes how Badger is opened.
type BadgerOption func(*badgerConfig) error

// WithBadgerValueLogFileSize sets max bytes per value log (vlog) file.
func WithBadgerValueLogFileSize(sizeBytes int64) BadgerOption {
	return func(cfg *badgerConfig) error {
		if sizeBytes <= 0 {
			return fmt.Errorf("badger value log file size must be > 0, got %d", sizeBytes)
		}
		cfg.valueLogFileSize = sizeBytes
		return nil
	}
}

// WithBadgerInMemory keeps everything in memory; path is ignored.
func WithBadgerInMemory() BadgerOption {
	return func(cfg *badgerConfig) error {
		cfg.inMemory = true
		return nil
	}
}

// OpenBadger opens or creates a Badger store in the directory at path.
func OpenBadger(path string, options ...BadgerOption) (*BadgerKV, error) {
	cfg := badgerConfig{valueLogFileSize: defaultBadgerValueLogFileSize}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(path)
	if cfg.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithValueLogFileSize(cfg.valueLogFileSize)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return &BadgerKV{db: db}, nil
}

// Get returns the value for key. Expired values read as absent.
func (s *BadgerKV) Get(_ context.Context, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrClosed
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return string(value), true, nil
}

// Set writes value under key, replacing any previous value.
func (s *BadgerKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if s.db == nil {
		return ErrClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if ttl > 0 {
			return txn.SetEntry(badger.NewEntry([]byte(key), []byte(value)).WithTTL(ttl))
		}
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BadgerKV) Delete(_ context.Context, key string) error {
	if s.db == nil {
		return ErrClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *BadgerKV) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
