package engine

import (
	"sync"
	"time"

	"github.com/roach88/offsync/internal/ir"
)

// DefaultTTL is how long a fetch stays fresh when no TTL was configured.
const DefaultTTL = 30 * time.Second

// StalenessTracker records per-resource fetch times and TTLs.
// A resource that was never fetched is stale.
type StalenessTracker struct {
	mu         sync.RWMutex
	clock      WallClock
	defaultTTL time.Duration
	records    map[string]ir.StalenessRecord
}

// NewStalenessTracker creates a tracker. A non-positive defaultTTL means DefaultTTL.
func NewStalenessTracker(clock WallClock, defaultTTL time.Duration) *StalenessTracker {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &StalenessTracker{
		clock:      clock,
		defaultTTL: defaultTTL,
		records:    make(map[string]ir.StalenessRecord),
	}
}

// RecordFetch marks key as fetched now. A positive ttl replaces the stored
// one; zero keeps it.
func (s *StalenessTracker) RecordFetch(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordLocked(key)
	now := s.clock.Now()
	rec.LastFetchedAt = &now
	if ttl > 0 {
		rec.TTL = ttl
	}
	s.records[key] = rec
}

// SetTTL overrides the TTL for key without touching its fetch time.
func (s *StalenessTracker) SetTTL(key string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordLocked(key)
	rec.TTL = ttl
	s.records[key] = rec
}

// IsStale reports whether key needs a refetch.
func (s *StalenessTracker) IsStale(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return true
	}
	return rec.IsStale(s.clock.Now())
}

// Record returns the record for key, with the default TTL if unknown.
func (s *StalenessTracker) Record(key string) ir.StalenessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordLocked(key)
}

// Export copies every record, for persistence.
func (s *StalenessTracker) Export() map[string]ir.StalenessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ir.StalenessRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Import replaces the records with restored ones.
func (s *StalenessTracker) Import(records map[string]ir.StalenessRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]ir.StalenessRecord, len(records))
	for k, v := range records {
		if v.TTL <= 0 {
			v.TTL = s.defaultTTL
		}
		s.records[k] = v
	}
}

func (s *StalenessTracker) recordLocked(key string) ir.StalenessRecord {
	rec, ok := s.records[key]
	if !ok {
		rec = ir.StalenessRecord{TTL: s.defaultTTL}
	}
	return rec
}
