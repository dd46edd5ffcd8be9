// Package ir provides the value and record types shared by every offsync
// package: actions, operations, sync and network state, and snapshots.
//
// ir imports nothing internal, so it stays the foundational layer with no
// circular dependencies.
//
// Key constraints:
//   - no float types: numbers are int64, floats are rejected on decode
//   - JSON tags on persisted records use snake_case
//   - operation ordering comes from a logical seq, never the wall clock
package ir
