package store

import (
	"path/filepath"
	"testing"
	"time"
)

// createTestSQLite opens a SQLiteKV in a temp directory.
func createTestSQLite(t *testing.T) *SQLiteKV {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBadger opens a BadgerKV in a temp directory.
func createTestBadger(t *testing.T) *BadgerKV {
	t.Helper()
	s, err := OpenBadger(filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("OpenBadger() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backings lists every KV implementation for shared tests.
func backings() map[string]func(t *testing.T) KV {
	return map[string]func(t *testing.T) KV{
		BackendSQLite: func(t *testing.T) KV { return createTestSQLite(t) },
		BackendBadger: func(t *testing.T) KV { return createTestBadger(t) },
	}
}

// fakeNow returns a settable clock function.
func fakeNow(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}
