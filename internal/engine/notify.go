package engine

import (
	"github.com/roach88/offsync/internal/ir"
)

// NotificationKind identifies what changed.
type NotificationKind string

const (
	NotifyStatus  NotificationKind = "status"
	NotifyNetwork NotificationKind = "network"
	NotifyQueue   NotificationKind = "queue"
	NotifySent    NotificationKind = "sent"
	NotifyFailed  NotificationKind = "failed"
)

// Notification is an observable change in the engine. Notifications are
// delivered on the Run loop goroutine in the order the changes happened.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Status    *ir.SyncState    `json:"status,omitempty"`
	Network   *ir.NetworkState `json:"network,omitempty"`
	QueueLen  int              `json:"queue_len"`
	Operation *ir.Operation    `json:"operation,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Subscribe registers fn for every notification. fn must not block; it
// runs on the Run loop.
func (e *Engine) Subscribe(fn func(Notification)) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *Engine) notify(n Notification) {
	n.QueueLen = e.outbox.Len()
	e.emit(n)
}

// emit delivers n as is.
func (e *Engine) emit(n Notification) {
	e.subsMu.Lock()
	subs := append([]func(Notification){}, e.subs...)
	e.subsMu.Unlock()
	for _, fn := range subs {
		fn(n)
	}
}

func (e *Engine) notifyQueue() {
	e.notify(Notification{Kind: NotifyQueue})
}
