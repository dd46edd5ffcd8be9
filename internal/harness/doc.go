// Package harness runs scripted sync scenarios against the real engine.
//
// A scenario drives one client through network changes, user actions,
// server failures, clock jumps and restarts. The engine runs with a
// manual clock, and every step is followed by a Flush that waits out any
// drain, so the same scenario always produces the same trace.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: offline_add_replays_on_reconnect
//	description: "An add made offline is sent once on reconnect"
//	server:
//	  - { id: "1", client_id: "seed-1", title: "Learn GraphQL" }
//	steps:
//	  - ready: true
//	  - network: offline
//	  - dispatch: todos/addTodo
//	    payload: { clientId: c1, title: milk }
//	  - network: online
//	assertions:
//	  - type: trace_count
//	    kind: sent
//	    action: todos/addTodo
//	    count: 1
//	  - type: todo
//	    client_id: c1
//	    expect: { server_id: "2", synced: true }
//
// Each step sets exactly one of:
//
//   - ready: marks startup complete (initial fetch and drain)
//   - network: online or offline
//   - dispatch: an action type, with an optional payload; catalogued
//     actions get their sync request attached first
//   - fail: {message, after} makes a future server call fail
//   - advance: moves the wall clock by a Go duration ("40s")
//   - refresh: asks for a refetch of a resource if it is stale
//   - stale: records whether a resource is stale in the trace
//   - drain: asks the engine to drain its queue
//   - restart: rebuilds client and engine from the persisted snapshot
//
// # Assertion Types
//
//   - trace_contains: an event of kind (and action) appears in the trace
//   - trace_order: events appear in the given order
//   - trace_count: an event appears exactly N times
//   - todo: a client entity matches expected fields, or is absent
//   - queue: the offline queue has the given length or kinds
//   - status: the sync status (and error message)
//   - server: the number of todos the server holds
//
// # Golden Files
//
// Traces render as plain text, one event per line, and are compared
// against testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
