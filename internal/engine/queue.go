package engine

import (
	"sync"

	"github.com/roach88/offsync/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventAction carries a dispatched action.
	EventAction EventType = iota + 1
	// EventNetwork carries a connectivity transition.
	EventNetwork
	// EventSendResult carries the outcome of an RPC send.
	EventSendResult
	// EventRefresh asks for a staleness check of Event.Key.
	EventRefresh
	// EventDrain asks for a queue drain.
	EventDrain
	// EventSettle closes Event.Done once no drain is running.
	EventSettle
	// EventDrainDone carries the outcome of a finished drain.
	EventDrainDone
)

func (t EventType) String() string {
	switch t {
	case EventAction:
		return "action"
	case EventNetwork:
		return "network"
	case EventSendResult:
		return "send_result"
	case EventRefresh:
		return "refresh"
	case EventDrain:
		return "drain"
	case EventSettle:
		return "settle"
	case EventDrainDone:
		return "drain_done"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the Run loop.
type Event struct {
	Type       EventType
	Action     *ir.Action
	Transition Transition
	Result     *sendResult
	Drain      *drainResult
	Key        string
	Done       chan struct{}
}

// eventQueue is an unbounded, thread-safe FIFO of events.
//
// Producers (Dispatch callers, the network monitor, polling timers, the drain
// goroutine) enqueue from any goroutine; only the Run loop dequeues.
// A buffered signal channel lets the loop wait with a context.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	// Clear the slot so the backing array does not pin actions and results.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
// It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
