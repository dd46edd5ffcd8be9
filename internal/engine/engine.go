package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/ir"
)

// ErrEngineStopped is returned by Dispatch after the engine stopped.
var ErrEngineStopped = errors.New("engine stopped")

// Sender delivers one operation to the server and returns the result
// object. Implementations own timeouts; the engine imposes none.
type Sender interface {
	Send(ctx context.Context, op ir.Operation) (ir.IRObject, error)
}

// StateStore is the application state the engine feeds actions into.
// Apply reports whether the action changed anything.
type StateStore interface {
	Apply(action ir.Action) bool
	Export() (map[string]json.RawMessage, error)
	Import(entities map[string]json.RawMessage) error
}

// SnapshotStore persists the durable subset of client state.
// Load returns false when there is nothing usable to restore.
type SnapshotStore interface {
	Save(ctx context.Context, snap *ir.Snapshot) error
	Load(ctx context.Context) (*ir.Snapshot, bool)
}

// Engine is the sync orchestrator.
//
// Every mutation of the offline queue, the sync status, the staleness
// records and (through reducers) the application state happens on the
// single goroutine running Run (or Flush). Other goroutines talk to it by
// enqueueing events: Dispatch, network transitions, polling ticks and
// finished RPC sends.
//
// Thread-safety model:
//   - Dispatch, CheckAndRefresh, RequestDrain, StopPolling: any goroutine
//   - Run or Flush: exactly one goroutine at a time
//   - read accessors (Queue, Status, IsStale, Stats): any goroutine
//
// Draining runs OfflineQueue.Drain on its own goroutine, so at most one
// operation is in flight. Each send result is handed back to the loop and
// applied there before the drain removes the operation from the queue
// front, so delivery is at-least-once.
type Engine struct {
	sender    Sender
	state     StateStore
	snapshots SnapshotStore

	monitor   *Monitor
	outbox    *OfflineQueue
	status    *StatusTracker
	staleness *StalenessTracker
	poller    *PollingScheduler
	stats     *sendMonitor

	clock  *Clock
	wall   WallClock
	ids    IDGenerator
	events *eventQueue
	logger *slog.Logger

	defaultTTL    time.Duration
	retryInterval time.Duration
	resources     map[string]func() ir.Action
	resourceOrder []string

	subsMu sync.Mutex
	subs   []func(Notification)

	// Loop-owned.
	draining bool
	dirty    bool
	settlers []chan struct{}
}

// errDrainPaused stops a drain whose client went offline between sends.
var errDrainPaused = errors.New("drain paused: offline")

type sendResult struct {
	op      ir.Operation
	result  ir.IRObject
	err     error
	elapsed time.Duration
	applied chan struct{} // closed by the loop once the result is applied
}

type drainResult struct {
	sent int
	err  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithMonitor uses m instead of a fresh Monitor.
func WithMonitor(m *Monitor) Option {
	return func(e *Engine) {
		e.monitor = m
	}
}

// WithWallClock sets the time source for timestamps and staleness.
func WithWallClock(c WallClock) Option {
	return func(e *Engine) {
		e.wall = c
	}
}

// WithSnapshotStore enables persistence. Snapshots are written after state
// changes once the monitor is ready.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(e *Engine) {
		e.snapshots = s
	}
}

// WithDefaultTTL sets the freshness window for resources without one.
//
// Default: 30s (DefaultTTL)
func WithDefaultTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.defaultTTL = ttl
	}
}

// WithResource registers the action that refetches resource key.
// Registered resources are refreshed when the engine becomes ready and
// whenever CheckAndRefresh finds them stale.
func WithResource(key string, refetch func() ir.Action) Option {
	return func(e *Engine) {
		if _, exists := e.resources[key]; !exists {
			e.resourceOrder = append(e.resourceOrder, key)
		}
		e.resources[key] = refetch
	}
}

// WithRetryInterval retries a failed drain on a fixed interval while the
// status is error. Zero (the default) retries only on reconnect or new
// operations.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.retryInterval = d
	}
}

// WithIDGenerator sets the client id generator used by NewClientID.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine that delivers operations through sender and feeds
// actions into state.
func New(sender Sender, state StateStore, opts ...Option) *Engine {
	e := &Engine{
		sender:    sender,
		state:     state,
		outbox:    NewOfflineQueue(),
		status:    NewStatusTracker(),
		poller:    NewPollingScheduler(),
		stats:     newSendMonitor(),
		clock:     NewClock(),
		wall:      SystemClock{},
		ids:       UUIDv7Generator{},
		events:    newEventQueue(),
		logger:    slog.Default(),
		resources: make(map[string]func() ir.Action),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.monitor == nil {
		e.monitor = NewMonitor()
	}
	e.staleness = NewStalenessTracker(e.wall, e.defaultTTL)

	e.monitor.Subscribe(func(tr Transition) {
		e.events.Enqueue(Event{Type: EventNetwork, Transition: tr})
	})
	e.status.OnChange(func(st ir.SyncState) {
		e.notify(Notification{Kind: NotifyStatus, Status: &st})
	})
	return e
}

// Dispatch submits an action. A sync-tagged action whose request is
// malformed is rejected here, before any reducer sees it.
func (e *Engine) Dispatch(action ir.Action) error {
	if _, _, err := ir.ParseSyncRequest(action); err != nil {
		e.logger.Warn("rejected malformed sync action", "action", action.Type, "error", err)
		return &SyncError{Code: ErrCodeMalformed, ActionType: action.Type, Err: err}
	}
	a := ir.Action{Type: action.Type, Payload: action.Payload.Clone()}
	if !e.events.Enqueue(Event{Type: EventAction, Action: &a}) {
		return ErrEngineStopped
	}
	return nil
}

// CheckAndRefresh refetches key if it is stale and a refetch action is
// registered for it. Fresh resources are left alone.
func (e *Engine) CheckAndRefresh(key string) bool {
	return e.events.Enqueue(Event{Type: EventRefresh, Key: key})
}

// RequestDrain asks the loop to drain the queue if it can.
func (e *Engine) RequestDrain() bool {
	return e.events.Enqueue(Event{Type: EventDrain})
}

// Settle blocks until every event submitted before it has been handled
// and no drain is running, so a drain started by those events has either
// emptied the queue, paused offline or halted.
func (e *Engine) Settle(ctx context.Context) error {
	done := make(chan struct{})
	if !e.events.Enqueue(Event{Type: EventSettle, Done: done}) {
		return ErrEngineStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopPolling cancels polling for key. Unknown keys are a no-op.
func (e *Engine) StopPolling(key string) bool {
	return e.poller.Stop(key)
}

// NewClientID returns a fresh id for an optimistic entity.
func (e *Engine) NewClientID() string {
	return e.ids.Generate()
}

// Monitor returns the network monitor.
func (e *Engine) Monitor() *Monitor {
	return e.monitor
}

// Queue returns a copy of the offline queue, front first.
func (e *Engine) Queue() []ir.Operation {
	return e.outbox.Items()
}

// Status returns the current sync state.
func (e *Engine) Status() ir.SyncState {
	return e.status.State()
}

// IsStale reports whether resource key needs a refetch.
func (e *Engine) IsStale(key string) bool {
	return e.staleness.IsStale(key)
}

// Staleness returns the staleness record for key.
func (e *Engine) Staleness(key string) ir.StalenessRecord {
	return e.staleness.Record(key)
}

// ActivePolls returns the keys currently being polled.
func (e *Engine) ActivePolls() []string {
	return e.poller.Active()
}

// Stats returns send statistics.
func (e *Engine) Stats() SendStats {
	return e.stats.snapshot()
}

// Restore loads the persisted snapshot into the queue, the state store and
// the staleness tracker. Call it once, before Run and before the monitor
// becomes ready. A missing or unreadable snapshot leaves everything empty.
func (e *Engine) Restore(ctx context.Context) bool {
	if e.snapshots == nil {
		return false
	}
	snap, ok := e.snapshots.Load(ctx)
	if !ok {
		e.logger.Info("no snapshot restored, starting empty")
		return false
	}
	e.outbox.Replace(snap.Queue)
	if err := e.state.Import(snap.Entities); err != nil {
		e.logger.Warn("snapshot entities not restored", "error", err)
	}
	e.staleness.Import(snap.Staleness)
	e.clock.AdvanceTo(snap.MaxSeq())

	e.logger.Info("snapshot restored",
		"queued", len(snap.Queue),
		"saved_at", snap.SavedAt,
	)
	return true
}

// Run starts the single-writer event loop. It blocks until ctx is
// cancelled or Stop is called.
//
// Event processing errors are logged with the event context and the loop
// continues; nothing in here is fatal.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "queued", e.outbox.Len())
	defer e.poller.StopAll()

	if e.retryInterval > 0 {
		go e.retryLoop(ctx)
	}

	for {
		if ev, ok := e.events.TryDequeue(); ok {
			e.handle(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.events.Close()
			e.persist(context.WithoutCancel(ctx))
			return ctx.Err()

		case <-e.events.Wait():
			// The signal channel is closed by Stop; a stale signal with an
			// empty open queue just loops back.
			if e.events.Closed() && e.events.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				e.persist(ctx)
				return nil
			}
		}
	}
}

// Flush processes pending events on the caller's goroutine until none are
// left and no drain is running, and returns how many it handled. It must
// not run concurrently with Run. A drain started by a flushed event
// finishes inside Flush.
func (e *Engine) Flush(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		ev, ok := e.events.TryDequeue()
		if !ok {
			if !e.draining || e.events.Closed() {
				break
			}
			select {
			case <-e.events.Wait():
			case <-ctx.Done():
			}
			continue
		}
		e.handle(ctx, ev)
		n++
	}
	return n
}

// Stop closes the event queue; Run returns once it is empty.
func (e *Engine) Stop() {
	e.events.Close()
}

func (e *Engine) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(e.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.status.State().Status == ir.StatusError && e.outbox.Len() > 0 {
				if !e.RequestDrain() {
					return
				}
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	if err := e.processEvent(ctx, ev); err != nil {
		e.logger.Error("event processing failed",
			"event", ev.Type.String(),
			"key", ev.Key,
			"error", err,
		)
	}
	e.persist(ctx)
}

// processEvent routes an event to its handler. Run loop only.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventAction:
		if ev.Action == nil {
			return fmt.Errorf("action event missing action")
		}
		return e.processAction(ctx, *ev.Action)
	case EventNetwork:
		e.handleTransition(ctx, ev.Transition)
		return nil
	case EventSendResult:
		if ev.Result == nil {
			return fmt.Errorf("send result event missing result")
		}
		e.handleSendResult(ev.Result)
		return nil
	case EventDrainDone:
		if ev.Drain == nil {
			return fmt.Errorf("drain done event missing result")
		}
		e.handleDrainDone(ctx, ev.Drain)
		return nil
	case EventRefresh:
		return e.refresh(ctx, ev.Key)
	case EventDrain:
		e.drain(ctx)
		return nil
	case EventSettle:
		if ev.Done == nil {
			return fmt.Errorf("settle event missing channel")
		}
		e.settlers = append(e.settlers, ev.Done)
		e.releaseSettlers()
		return nil
	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
}

// processAction is the per-action algorithm: optimistic apply, polling,
// TTL override, then enqueue and send if possible.
func (e *Engine) processAction(ctx context.Context, a ir.Action) error {
	if key, ttl, ok := ir.ParseTTLOverride(a); ok {
		e.staleness.SetTTL(key, ttl)
		e.dirty = true
		e.logger.Info("ttl set", "resource", key, "ttl", ttl)
	}

	switch a.Type {
	case ir.ActionStopPolling:
		key, _ := a.Payload.String("actionType")
		if e.poller.Stop(key) {
			e.logger.Info("polling stopped", "key", key)
		}
	case ir.ActionClearQueue:
		dropped := e.outbox.Len()
		e.outbox.Clear()
		e.dirty = true
		e.logger.Info("offline queue cleared", "dropped", dropped)
		e.notifyQueue()
	}

	if e.state.Apply(a) {
		e.dirty = true
	}

	req, ok, err := ir.ParseSyncRequest(a)
	if err != nil {
		return &SyncError{Code: ErrCodeMalformed, ActionType: a.Type, Err: err}
	}
	if !ok {
		return nil
	}

	if req.Polling != nil {
		e.startPolling(a, req.Polling.Interval)
	}
	if req.TTL > 0 {
		e.staleness.SetTTL(req.Resource, req.TTL)
		e.dirty = true
	}

	op, err := e.buildOperation(a, req)
	if err != nil {
		return err
	}
	e.outbox.Enqueue(op)
	e.dirty = true
	e.notifyQueue()

	if !e.monitor.Online() {
		e.logger.Info("operation queued while offline",
			"op_id", op.ID,
			"kind", op.Kind,
			"queued", e.outbox.Len(),
		)
		return nil
	}
	e.drain(ctx)
	return nil
}

func (e *Engine) startPolling(a ir.Action, interval time.Duration) {
	reissue := a.WithoutPolling()
	e.poller.Start(a.Type, interval, func() {
		if err := e.Dispatch(reissue); err != nil && !errors.Is(err, ErrEngineStopped) {
			e.logger.Warn("polling reissue failed", "key", a.Type, "error", err)
		}
	})
	e.logger.Info("polling started", "key", a.Type, "interval", interval)
}

func (e *Engine) buildOperation(a ir.Action, req ir.SyncRequest) (ir.Operation, error) {
	seq := e.clock.Next()
	now := e.wall.Now()
	id, err := ir.OperationID(a.Type, req.Variables, seq, now)
	if err != nil {
		return ir.Operation{}, &SyncError{Code: ErrCodeMalformed, ActionType: a.Type, Err: err}
	}
	return ir.Operation{
		ID:        id,
		Seq:       seq,
		Kind:      a.Type,
		Payload:   a.Payload.Clone(),
		CreatedAt: now,
		Query:     req.Query,
		Variables: req.Variables.Clone(),
		OnSuccess: req.Success,
		Resource:  req.Resource,
	}, nil
}

func (e *Engine) canSend() bool {
	st := e.monitor.State()
	return st.Online && st.Ready
}

// drain starts a drain of the live queue unless one is running. The
// drain goroutine sends; results come back as events.
func (e *Engine) drain(ctx context.Context) {
	if e.draining {
		e.logger.Debug("drain already in progress", "queued", e.outbox.Len())
		return
	}
	if !e.canSend() || e.outbox.Len() == 0 {
		return
	}
	e.draining = true
	e.status.Begin()

	go func() {
		sent, err := e.outbox.Drain(ctx, e.deliver)
		e.events.Enqueue(Event{Type: EventDrainDone, Drain: &drainResult{sent: sent, err: err}})
	}()
}

// deliver sends op and blocks until the loop has applied the result.
// Runs on the drain goroutine.
func (e *Engine) deliver(ctx context.Context, op ir.Operation) error {
	if e.events.Closed() {
		return ErrEngineStopped
	}
	if !e.canSend() {
		return errDrainPaused
	}
	e.logger.Debug("sending operation", "op_id", op.ID, "kind", op.Kind, "seq", op.Seq)

	started := time.Now()
	result, err := e.sender.Send(ctx, op)
	applied := make(chan struct{})
	if !e.events.Enqueue(Event{
		Type: EventSendResult,
		Result: &sendResult{
			op:      op,
			result:  result,
			err:     err,
			elapsed: time.Since(started),
			applied: applied,
		},
	}) {
		return ErrEngineStopped
	}

	select {
	case <-applied:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) handleSendResult(r *sendResult) {
	defer close(r.applied)
	e.stats.record(r.elapsed, r.err)

	if r.err != nil {
		se := &SyncError{Code: ErrCodeTransport, ActionType: r.op.Kind, OperationID: r.op.ID, Err: r.err}
		e.logger.Warn("operation send failed, draining halted",
			"op_id", r.op.ID,
			"kind", r.op.Kind,
			"queued", e.outbox.Len(),
			"error", r.err,
		)
		e.status.Fail(r.err.Error())
		e.notify(Notification{Kind: NotifyFailed, Operation: &r.op, Error: se.Error()})
		return
	}

	result := r.result
	if result == nil {
		result = ir.IRObject{}
	}
	e.state.Apply(r.op.OnSuccess.Resolve(result, r.op.Variables))
	if r.op.Resource != "" {
		e.staleness.RecordFetch(r.op.Resource, 0)
	}
	e.dirty = true

	// The drain removes the operation once the result is applied.
	remaining := e.outbox.Len()
	if front, ok := e.outbox.Peek(); ok && front.ID == r.op.ID {
		remaining--
	}
	e.logger.Info("operation synced",
		"op_id", r.op.ID,
		"kind", r.op.Kind,
		"remaining", remaining,
	)
	e.emit(Notification{Kind: NotifySent, Operation: &r.op, QueueLen: remaining})
}

// handleDrainDone ends a drain. A drain that emptied the queue or paused
// restarts when operations are left and sending is possible again, since
// triggers that arrived while it ran were ignored.
func (e *Engine) handleDrainDone(ctx context.Context, d *drainResult) {
	e.draining = false
	defer e.releaseSettlers()
	e.dirty = true

	switch {
	case d.err == nil || errors.Is(d.err, errDrainPaused):
		if e.outbox.Len() > 0 && e.canSend() {
			e.drain(ctx)
			return
		}
		e.status.Succeed(e.wall.Now())
	case errors.Is(d.err, ErrEngineStopped) || errors.Is(d.err, context.Canceled):
		e.logger.Info("drain interrupted", "sent", d.sent, "queued", e.outbox.Len())
	case IsTransportError(d.err):
		e.logger.Info("drain halted", "sent", d.sent, "queued", e.outbox.Len())
	default:
		e.logger.Warn("drain ended", "sent", d.sent, "queued", e.outbox.Len(), "error", d.err)
	}
}

// releaseSettlers wakes Settle callers once no drain is running.
func (e *Engine) releaseSettlers() {
	if e.draining {
		return
	}
	for _, done := range e.settlers {
		close(done)
	}
	e.settlers = nil
}

func (e *Engine) handleTransition(ctx context.Context, tr Transition) {
	st := e.monitor.State()
	e.notify(Notification{Kind: NotifyNetwork, Network: &st})

	switch tr {
	case WentOffline:
		e.logger.Info("network offline", "queued", e.outbox.Len())
	case WentOnline:
		e.logger.Info("network online", "queued", e.outbox.Len())
		e.drain(ctx)
	case BecameReady:
		e.logger.Info("engine ready", "queued", e.outbox.Len(), "resources", len(e.resourceOrder))
		e.dirty = true
		for _, key := range e.resourceOrder {
			if err := e.refresh(ctx, key); err != nil {
				e.logger.Error("initial fetch failed", "resource", key, "error", err)
			}
		}
		e.drain(ctx)
	}
}

// refresh dispatches the refetch action for key when key is stale. A fetch
// already waiting in the queue for key is not duplicated.
func (e *Engine) refresh(ctx context.Context, key string) error {
	if !e.staleness.IsStale(key) {
		e.logger.Debug("resource fresh", "resource", key)
		return nil
	}
	refetch, ok := e.resources[key]
	if !ok {
		e.logger.Debug("no refetch registered", "resource", key)
		return nil
	}
	for _, op := range e.outbox.Items() {
		if op.Resource == key {
			e.logger.Debug("refetch already queued", "resource", key, "op_id", op.ID)
			return nil
		}
	}
	e.logger.Info("refreshing stale resource", "resource", key)
	return e.processAction(ctx, refetch())
}

// persist writes a snapshot if anything changed since the last write and
// the engine is ready. Failures are logged and retried after the next change.
func (e *Engine) persist(ctx context.Context) {
	if e.snapshots == nil || !e.dirty || !e.monitor.Ready() {
		return
	}
	entities, err := e.state.Export()
	if err != nil {
		e.logger.Error("snapshot export failed", "error", &SyncError{Code: ErrCodePersistence, Err: err})
		return
	}
	snap := &ir.Snapshot{
		Version:   ir.SnapshotVersion,
		SavedAt:   e.wall.Now(),
		Queue:     e.outbox.Items(),
		Entities:  entities,
		Staleness: e.staleness.Export(),
	}
	if err := e.snapshots.Save(ctx, snap); err != nil {
		e.logger.Error("snapshot save failed", "error", &SyncError{Code: ErrCodePersistence, Err: err})
		return
	}
	e.dirty = false
}
