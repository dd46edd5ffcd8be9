package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationIDStable(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	vars := Obj(O("title", IRString("milk")), O("clientId", IRString("c1")))

	id1, err := OperationID("todos/addTodo", vars, 1, at)
	require.NoError(t, err)
	id2, err := OperationID("todos/addTodo", vars.Clone(), 1, at)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)
}

func TestOperationIDDistinguishesInputs(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	vars := Obj(O("title", IRString("milk")))
	base := mustOperationID(t, "todos/addTodo", vars, 1, at)

	assert.NotEqual(t, base, mustOperationID(t, "todos/addTodo", vars, 2, at), "seq")
	assert.NotEqual(t, base, mustOperationID(t, "todos/toggleTodo", vars, 1, at), "kind")
	assert.NotEqual(t, base, mustOperationID(t, "todos/addTodo", Obj(O("title", IRString("eggs"))), 1, at), "variables")
	assert.NotEqual(t, base, mustOperationID(t, "todos/addTodo", vars, 1, at.Add(time.Millisecond)), "created_at")
}

func TestOperationIDNilVariables(t *testing.T) {
	at := time.UnixMilli(0)
	assert.Equal(t,
		mustOperationID(t, "todos/fetchTodos", nil, 1, at),
		mustOperationID(t, "todos/fetchTodos", IRObject{}, 1, at),
	)
}

func mustOperationID(t *testing.T, kind string, variables IRObject, seq int64, createdAt time.Time) string {
	t.Helper()
	id, err := OperationID(kind, variables, seq, createdAt)
	require.NoError(t, err)
	return id
}
