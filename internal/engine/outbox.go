package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/offsync/internal/ir"
)

// OfflineQueue is the ordered list of operations awaiting delivery.
//
// Operations are appended at the back and removed from the front only by
// Drain, after the server confirmed them. There is no reordering and no
// deduplication. Safe for concurrent use.
type OfflineQueue struct {
	mu       sync.RWMutex
	ops      []ir.Operation
	draining atomic.Bool
}

// NewOfflineQueue creates an empty queue.
func NewOfflineQueue() *OfflineQueue {
	return &OfflineQueue{}
}

// Enqueue appends op. It never fails.
func (q *OfflineQueue) Enqueue(op ir.Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
}

// Peek returns the front operation without removing it.
func (q *OfflineQueue) Peek() (ir.Operation, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.ops) == 0 {
		return ir.Operation{}, false
	}
	return q.ops[0], true
}

// Len returns the number of queued operations.
func (q *OfflineQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.ops)
}

// Items returns a copy of the queue, front first.
func (q *OfflineQueue) Items() []ir.Operation {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]ir.Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Replace swaps the queue contents, used when restoring a snapshot.
func (q *OfflineQueue) Replace(ops []ir.Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = make([]ir.Operation, len(ops))
	copy(q.ops, ops)
}

// Clear drops every queued operation.
func (q *OfflineQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
}

// SendFunc delivers one operation.
type SendFunc func(ctx context.Context, op ir.Operation) error

// Drain sends queued operations front to back, removing each one after it
// is delivered. It stops at the first failure, leaving the failed operation
// and everything behind it in place, and returns that failure.
//
// Operations appended while Drain runs are sent by the same drain. A Drain
// call made while another is running returns ErrDrainInProgress without
// sending anything.
func (q *OfflineQueue) Drain(ctx context.Context, send SendFunc) (int, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return 0, &SyncError{Code: ErrCodeDrainInProgress, Err: ErrDrainInProgress}
	}
	defer q.draining.Store(false)

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		op, ok := q.Peek()
		if !ok {
			return sent, nil
		}
		if err := send(ctx, op); err != nil {
			return sent, &SyncError{
				Code:        ErrCodeTransport,
				ActionType:  op.Kind,
				OperationID: op.ID,
				Err:         err,
			}
		}
		q.removeFront(op.ID)
		sent++
	}
}

// Draining reports whether a Drain call is running.
func (q *OfflineQueue) Draining() bool {
	return q.draining.Load()
}

// removeFront dequeues the front operation if it is still id. The queue may
// have been cleared while the send was in flight.
func (q *OfflineQueue) removeFront(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 || q.ops[0].ID != id {
		return false
	}
	q.ops[0] = ir.Operation{}
	q.ops = q.ops[1:]
	return true
}
