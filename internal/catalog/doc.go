// Package catalog compiles the operation catalog: the CUE document that
// says, for each syncable action type, which GraphQL document to send,
// which variables it takes, what action confirms it, and how it is cached
// and polled.
//
// A catalog looks like:
//
//	operation: "todos/addTodo": {
//		query: "mutation AddTodo($title: String!, $clientId: String!) { ... }"
//		variables: {title: string, clientId: string}
//		success: type: "todos/updateTodo"
//	}
//
// Build turns a plain user action into a syncable one by attaching the
// sync keys the engine understands. The default catalog for the todo domain
// is embedded.
package catalog
