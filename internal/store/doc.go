// Package store provides the durable snapshot store: a small key-value
// abstraction with TTL hints, two backings, and the snapshot codec.
//
// # Backings
//
//   - SQLiteKV: a single table in a SQLite database, WAL mode, one
//     connection. Expiry is checked on read and purged on open.
//   - BadgerKV: a Badger directory; expiry uses Badger's native entry TTL.
//
// # Snapshots
//
// SnapshotStore writes the durable client state (offline queue, entity
// slices, staleness records) under a single key as snappy-compressed JSON
// with a magic prefix. Anything missing, corrupt or from another snapshot
// version loads as "nothing to restore"; it is never an error for the
// caller.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
package store
