package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		if err := s.Set(context.Background(), "k", "v", 0); err != nil {
			t.Fatalf("Set() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("final OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	s := createTestSQLite(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.expected); err != nil {
			t.Error(err)
		}
	}
}

func TestSQLiteKV_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	if err := s1.Set(ctx, "state", "payload", 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Get(ctx, "state")
	if err != nil || !ok || got != "payload" {
		t.Errorf("Get(state) = %q ok=%v err=%v, want payload", got, ok, err)
	}
}

func TestSQLiteKV_TTLExpiry(t *testing.T) {
	s := createTestSQLite(t)
	now, advance := fakeNow(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.now = now
	ctx := context.Background()

	if err := s.Set(ctx, "short", "v", time.Minute); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "forever", "v", 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	advance(59 * time.Second)
	if _, ok, _ := s.Get(ctx, "short"); !ok {
		t.Error("short key expired early")
	}

	advance(time.Second)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Error("short key should be expired")
	}
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Error("key without ttl should never expire")
	}

	if err := s.purgeExpired(ctx); err != nil {
		t.Fatalf("purgeExpired() failed: %v", err)
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM kv").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows after purge = %d, want 1", count)
	}
}

func TestSQLiteKV_OverwriteClearsTTL(t *testing.T) {
	s := createTestSQLite(t)
	now, advance := fakeNow(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.now = now
	ctx := context.Background()

	if err := s.Set(ctx, "k", "old", time.Second); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "k", "new", 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	advance(time.Hour)

	got, ok, _ := s.Get(ctx, "k")
	if !ok || got != "new" {
		t.Errorf("Get(k) = %q ok=%v, want new", got, ok)
	}
}
