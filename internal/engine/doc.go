// Package engine implements the offline-first sync engine.
//
// The engine lets callers mutate local state immediately, records every
// sync-tagged action as an operation in an offline queue, and delivers
// those operations to the server in order whenever the client is online.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Dispatch, network transitions, polling ticks and finished RPC sends all
// become events in one FIFO queue. Engine.Run handles them one at a time,
// so the offline queue, sync status and staleness records have exactly one
// writer and need no cross-component locking.
//
// Per action:
//  1. the action is applied to the state store (optimistic update)
//  2. a polling directive (re)arms the PollingScheduler for the action type
//  3. a ttl, or a <resource>/setTTL action, overrides the StalenessTracker
//     entry for the resource
//  4. an Operation is built and appended to the OfflineQueue
//  5. offline: stop here; online and ready: drain
//
// Draining runs OfflineQueue.Drain on a goroutine, one operation in flight
// at a time. The loop applies each confirmed operation's success action,
// then the drain removes it from the front; a failed one stays where it is
// and draining halts until the next trigger (reconnect, ready, a new online
// action, or the retry ticker).
//
// Ordering:
// Operations are stamped with a seq from the logical Clock; queue order is
// dispatch order and is never rearranged.
package engine
