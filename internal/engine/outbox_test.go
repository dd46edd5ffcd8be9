package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/ir"
)

func ops(ids ...string) []ir.Operation {
	out := make([]ir.Operation, len(ids))
	for i, id := range ids {
		out[i] = ir.Operation{ID: id, Seq: int64(i + 1), Kind: "todos/addTodo"}
	}
	return out
}

func ids(ops []ir.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

func TestOfflineQueue_FIFO(t *testing.T) {
	q := NewOfflineQueue()
	for _, op := range ops("a", "b", "c") {
		q.Enqueue(op)
	}
	assert.Equal(t, 3, q.Len())

	front, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", front.ID)
	assert.Equal(t, 3, q.Len(), "peek does not remove")

	assert.Equal(t, []string{"a", "b", "c"}, ids(q.Items()))

	q.Clear()
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestOfflineQueue_ItemsIsACopy(t *testing.T) {
	q := NewOfflineQueue()
	q.Replace(ops("a", "b"))

	items := q.Items()
	items[0].ID = "changed"
	assert.Equal(t, []string{"a", "b"}, ids(q.Items()))
}

func TestOfflineQueue_DrainSendsInOrder(t *testing.T) {
	q := NewOfflineQueue()
	q.Replace(ops("a", "b", "c"))

	var sent []string
	n, err := q.Drain(context.Background(), func(ctx context.Context, op ir.Operation) error {
		sent = append(sent, op.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, sent)
	assert.Zero(t, q.Len())
}

func TestOfflineQueue_DrainHaltsOnFailure(t *testing.T) {
	q := NewOfflineQueue()
	q.Replace(ops("a", "b", "c"))

	var sent []string
	n, err := q.Drain(context.Background(), func(ctx context.Context, op ir.Operation) error {
		sent = append(sent, op.ID)
		if op.ID == "b" {
			return errors.New("server unavailable")
		}
		return nil
	})

	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.Contains(t, err.Error(), "server unavailable")
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a", "b"}, sent, "c is never attempted")
	assert.Equal(t, []string{"b", "c"}, ids(q.Items()), "failed operation keeps its position")
}

func TestOfflineQueue_DrainPicksUpAppended(t *testing.T) {
	q := NewOfflineQueue()
	q.Replace(ops("a"))

	var sent []string
	_, err := q.Drain(context.Background(), func(ctx context.Context, op ir.Operation) error {
		sent = append(sent, op.ID)
		if op.ID == "a" {
			q.Enqueue(ir.Operation{ID: "late"})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "late"}, sent)
}

func TestOfflineQueue_ReentrantDrainIsNoop(t *testing.T) {
	q := NewOfflineQueue()
	q.Replace(ops("a", "b"))

	var inner error
	var sent []string
	_, err := q.Drain(context.Background(), func(ctx context.Context, op ir.Operation) error {
		sent = append(sent, op.ID)
		if op.ID == "a" {
			_, inner = q.Drain(ctx, func(context.Context, ir.Operation) error {
				return fmt.Errorf("inner drain must not send")
			})
		}
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrDrainInProgress)
	assert.Equal(t, []string{"a", "b"}, sent, "no duplicate sends")
	assert.False(t, q.Draining())
}

func TestOfflineQueue_DrainStopsOnCancel(t *testing.T) {
	q := NewOfflineQueue()
	q.Replace(ops("a", "b"))
	ctx, cancel := context.WithCancel(context.Background())

	n, err := q.Drain(ctx, func(ctx context.Context, op ir.Operation) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b"}, ids(q.Items()))
}

func TestOfflineQueue_ClearDuringSendDoesNotDropNewFront(t *testing.T) {
	q := NewOfflineQueue()
	q.Replace(ops("a"))

	_, err := q.Drain(context.Background(), func(ctx context.Context, op ir.Operation) error {
		if op.ID == "a" {
			q.Clear()
			q.Enqueue(ir.Operation{ID: "fresh"})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, q.Len(), "fresh is sent by the same drain, not dropped unsent")
}
