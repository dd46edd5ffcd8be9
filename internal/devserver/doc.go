// Package devserver is an in-memory todo backend for development and
// tests.
//
// It answers the four operations of the default catalog (todos, addTodo,
// toggleTodo, deleteTodo) and can be told to fail upcoming requests, which
// is how scenarios exercise the offline queue's halt-on-failure path. The
// query text is not parsed beyond its root field.
package devserver
