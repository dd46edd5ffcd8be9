// Package rpc delivers queued operations to a GraphQL endpoint over HTTP.
//
// Each operation is POSTed as {"query": ..., "variables": ...} with the
// operation id in the Idempotency-Key header, so a replay after an
// ambiguous failure can be deduplicated server side. A non-2xx status or a
// non-empty "errors" array is a failure; otherwise the "data" object is the
// result handed to the engine.
package rpc
