// Package state is the application state store: named slices of domain
// entities, each with a reducer.
//
// Actions are routed by the prefix of their type ("todos/addTodo" goes to
// the "todos" slice). Reducers run synchronously, which is what makes
// optimistic updates immediate. Server confirmations come back as ordinary
// actions and are reconciled with optimistic entities by client id.
package state
