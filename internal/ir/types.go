package ir

import (
	"encoding/json"
	"time"
)

// Operation is a queued unit of work: one syncable action turned into an
// RPC call. Operations are immutable once enqueued.
type Operation struct {
	// ID is content-addressed (see OperationID) and doubles as the
	// idempotency key presented to the server.
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	Kind      string         `json:"kind"`
	Payload   IRObject       `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Query     string         `json:"query"`
	Variables IRObject       `json:"variables"`
	OnSuccess ActionTemplate `json:"on_success"`
	Resource  string         `json:"resource,omitempty"`
}

// NetworkState is the connectivity view of the engine.
// Ready flips once per process, after startup completes.
type NetworkState struct {
	Online bool `json:"online"`
	Ready  bool `json:"ready"`
}

// SyncStatus is the coarse state of the sync pipeline.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusSyncing SyncStatus = "syncing"
	StatusError   SyncStatus = "error"
)

// SyncState is what the UI shows about synchronization.
type SyncState struct {
	Status       SyncStatus `json:"status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// StalenessRecord tracks when a resource was last fetched and for how long
// that fetch stays fresh. A nil LastFetchedAt means never fetched.
type StalenessRecord struct {
	LastFetchedAt *time.Time    `json:"last_fetched_at,omitempty"`
	TTL           time.Duration `json:"ttl"`
}

// IsStale reports whether the record needs a refetch at now.
func (r StalenessRecord) IsStale(now time.Time) bool {
	if r.LastFetchedAt == nil {
		return true
	}
	return now.Sub(*r.LastFetchedAt) > r.TTL
}

// Snapshot is the persisted subset of client state: the offline queue, the
// whitelisted entity slices and staleness bookkeeping.
type Snapshot struct {
	Version   int                        `json:"version"`
	SavedAt   time.Time                  `json:"saved_at"`
	Queue     []Operation                `json:"queue"`
	Entities  map[string]json.RawMessage `json:"entities,omitempty"`
	Staleness map[string]StalenessRecord `json:"staleness,omitempty"`
}

// MaxSeq returns the highest operation seq in the snapshot's queue.
func (s *Snapshot) MaxSeq() int64 {
	var max int64
	for _, op := range s.Queue {
		if op.Seq > max {
			max = op.Seq
		}
	}
	return max
}
