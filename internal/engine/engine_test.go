package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/state"
	"github.com/roach88/offsync/internal/testutil"
)

type fixture struct {
	e      *Engine
	sender *testutil.ScriptedSender
	todos  *state.TodosSlice
	clock  *testutil.ManualClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	sender := testutil.NewScriptedSender()
	sender.Respond = echoServer
	store := state.NewStore()
	todos := state.NewTodosSlice()
	store.Register(todos, true)
	clock := testutil.NewManualClock(time.Time{})

	base := []Option{WithWallClock(clock)}
	e := New(sender, store, append(base, opts...)...)
	return &fixture{e: e, sender: sender, todos: todos, clock: clock}
}

func (f *fixture) flush() {
	f.e.Flush(context.Background())
}

func (f *fixture) ready() {
	f.e.Monitor().MarkReady()
	f.flush()
}

func (f *fixture) dispatch(t *testing.T, a ir.Action) {
	t.Helper()
	require.NoError(t, f.e.Dispatch(a))
	f.flush()
}

// echoServer answers like the todo backend: added todos get a server id
// derived from the client id.
func echoServer(op ir.Operation) (ir.IRObject, error) {
	switch op.Kind {
	case state.AddTodo:
		cid, _ := op.Variables.String("clientId")
		title, _ := op.Variables.String("title")
		return ir.Obj(ir.O("addTodo", ir.Obj(
			ir.O("id", ir.IRString("srv-"+cid)),
			ir.O("clientId", ir.IRString(cid)),
			ir.O("title", ir.IRString(title)),
			ir.O("completed", ir.IRBool(false)),
		))), nil
	case state.FetchTodos:
		return ir.Obj(ir.O("todos", ir.IRArray{})), nil
	default:
		return ir.IRObject{}, nil
	}
}

func addTodo(clientID, title string) ir.Action {
	vars := ir.Obj(ir.O("title", ir.IRString(title)), ir.O("clientId", ir.IRString(clientID)))
	return ir.NewAction(state.AddTodo, ir.Obj(
		ir.O("title", ir.IRString(title)),
		ir.O("clientId", ir.IRString(clientID)),
		ir.O(ir.KeySync, ir.IRBool(true)),
		ir.O(ir.KeyQuery, ir.IRString("mutation AddTodo($title: String!, $clientId: String!) { addTodo(title: $title, clientId: $clientId) { id clientId title completed } }")),
		ir.O(ir.KeyVariables, vars),
		ir.O(ir.KeySuccess, ir.Obj(ir.O("type", ir.IRString(state.UpdateTodo)))),
	))
}

func fetchTodos(extra ...ir.IRPair) ir.Action {
	payload := ir.Obj(
		ir.O(ir.KeySync, ir.IRBool(true)),
		ir.O(ir.KeyQuery, ir.IRString("query Todos { todos { id clientId title completed } }")),
		ir.O(ir.KeySuccess, ir.Obj(ir.O("type", ir.IRString(state.FetchTodosSuccess)))),
		ir.O(ir.KeyResource, ir.IRString(state.TodosResource)),
	)
	for _, p := range extra {
		payload[p.Key] = p.Value
	}
	return ir.NewAction(state.FetchTodos, payload)
}

func clientIDs(calls []testutil.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		cid, _ := c.Variables.String("clientId")
		out = append(out, cid)
	}
	return out
}

func queuedClientIDs(ops []ir.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		cid, _ := op.Variables.String("clientId")
		out = append(out, cid)
	}
	return out
}

func TestEngine_OnlineDispatchSendsImmediately(t *testing.T) {
	f := newFixture(t)
	f.ready()

	f.dispatch(t, addTodo("c1", "milk"))

	assert.Len(t, f.sender.Calls(), 1)
	assert.Empty(t, f.e.Queue())

	st := f.e.Status()
	assert.Equal(t, ir.StatusIdle, st.Status)
	require.NotNil(t, st.LastSyncedAt)
	assert.Equal(t, f.clock.Now(), *st.LastSyncedAt)

	todo, ok := f.todos.Get("c1")
	require.True(t, ok)
	assert.True(t, todo.Synced)
	require.NotNil(t, todo.ServerID)
	assert.Equal(t, "srv-c1", *todo.ServerID)
}

func TestEngine_OfflineDispatchQueuesWithoutSending(t *testing.T) {
	f := newFixture(t)
	f.ready()
	f.e.Monitor().SetOnline(false)
	f.flush()

	f.dispatch(t, addTodo("c1", "milk"))
	f.dispatch(t, addTodo("c2", "eggs"))
	f.dispatch(t, addTodo("c3", "bread"))

	assert.Empty(t, f.sender.Calls())
	assert.Equal(t, []string{"c1", "c2", "c3"}, queuedClientIDs(f.e.Queue()))
	assert.Equal(t, ir.StatusIdle, f.e.Status().Status, "offline enqueue does not touch status")
	assert.Equal(t, 3, f.todos.Pending(), "optimistic entities are visible immediately")

	f.e.Monitor().SetOnline(true)
	f.flush()

	assert.Equal(t, []string{"c1", "c2", "c3"}, clientIDs(f.sender.Calls()), "FIFO replay")
	assert.Empty(t, f.e.Queue())
	assert.Equal(t, ir.StatusIdle, f.e.Status().Status)
	assert.Zero(t, f.todos.Pending())
}

func TestEngine_FailureHaltsDrainAndKeepsPosition(t *testing.T) {
	f := newFixture(t)
	failed := false
	f.sender.Respond = func(op ir.Operation) (ir.IRObject, error) {
		if cid, _ := op.Variables.String("clientId"); cid == "c2" && !failed {
			failed = true
			return nil, errors.New("server unavailable")
		}
		return echoServer(op)
	}
	f.ready()
	f.e.Monitor().SetOnline(false)
	f.flush()
	for _, cid := range []string{"c1", "c2", "c3"} {
		f.dispatch(t, addTodo(cid, "item "+cid))
	}

	f.e.Monitor().SetOnline(true)
	f.flush()

	assert.Equal(t, []string{"c1", "c2"}, clientIDs(f.sender.Calls()))
	assert.Equal(t, []string{"c2", "c3"}, queuedClientIDs(f.e.Queue()))
	st := f.e.Status()
	assert.Equal(t, ir.StatusError, st.Status)
	assert.Equal(t, "server unavailable", st.Error)

	c2, _ := f.todos.Get("c2")
	assert.False(t, c2.Synced)

	f.e.RequestDrain()
	f.flush()

	assert.Equal(t, []string{"c1", "c2", "c2", "c3"}, clientIDs(f.sender.Calls()))
	assert.Empty(t, f.e.Queue())
	assert.Equal(t, ir.StatusIdle, f.e.Status().Status)
	assert.Empty(t, f.e.Status().Error)
}

func TestEngine_NoDrainBeforeReady(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, addTodo("c1", "milk"))
	assert.Empty(t, f.sender.Calls())
	assert.Len(t, f.e.Queue(), 1)

	f.ready()
	assert.Len(t, f.sender.Calls(), 1)
	assert.Empty(t, f.e.Queue())
}

// gatedSender blocks sends of the held client id until release is closed.
type gatedSender struct {
	*testutil.ScriptedSender
	hold    string
	release chan struct{}
}

func newGatedSender(hold string) *gatedSender {
	g := &gatedSender{ScriptedSender: testutil.NewScriptedSender(), hold: hold, release: make(chan struct{})}
	g.Respond = func(op ir.Operation) (ir.IRObject, error) {
		if cid, _ := op.Variables.String("clientId"); cid == g.hold {
			<-g.release
		}
		return echoServer(op)
	}
	return g
}

func runEngine(t *testing.T, sender Sender) *Engine {
	t.Helper()
	store := state.NewStore()
	store.Register(state.NewTodosSlice(), true)
	e := New(sender, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func settle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Settle(ctx))
}

func TestEngine_SingleDrainInFlight(t *testing.T) {
	sender := newGatedSender("c1")
	e := runEngine(t, sender)
	e.Monitor().MarkReady()

	require.NoError(t, e.Dispatch(addTodo("c1", "milk")))
	require.Eventually(t, func() bool { return len(sender.Calls()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, e.outbox.Draining(), "the engine drains through the offline queue")

	_, err := e.outbox.Drain(context.Background(), func(context.Context, ir.Operation) error {
		t.Error("a second drain must not send")
		return nil
	})
	assert.ErrorIs(t, err, ErrDrainInProgress)

	require.NoError(t, e.Dispatch(addTodo("c2", "eggs")))
	e.RequestDrain()
	assert.Len(t, sender.Calls(), 1, "c2 waits behind c1")

	close(sender.release)
	settle(t, e)

	assert.Equal(t, []string{"c1", "c2"}, clientIDs(sender.Calls()), "appended operation is sent by the running drain")
	assert.Empty(t, e.Queue())
	assert.Equal(t, ir.StatusIdle, e.Status().Status)
	assert.False(t, e.outbox.Draining())
}

func TestEngine_DrainPausesWhenOfflineMidDrain(t *testing.T) {
	sender := newGatedSender("c1")
	e := runEngine(t, sender)
	e.Monitor().MarkReady()

	require.NoError(t, e.Dispatch(addTodo("c1", "milk")))
	require.NoError(t, e.Dispatch(addTodo("c2", "eggs")))
	require.Eventually(t, func() bool { return len(sender.Calls()) == 1 }, time.Second, time.Millisecond)

	e.Monitor().SetOnline(false)
	close(sender.release)
	settle(t, e)

	assert.Equal(t, []string{"c1"}, clientIDs(sender.Calls()))
	assert.Equal(t, []string{"c2"}, queuedClientIDs(e.Queue()))
	assert.Equal(t, ir.StatusIdle, e.Status().Status)

	e.Monitor().SetOnline(true)
	settle(t, e)
	assert.Equal(t, []string{"c1", "c2"}, clientIDs(sender.Calls()))
	assert.Empty(t, e.Queue())
}

func TestEngine_ConfirmationAppliedBeforeRemoval(t *testing.T) {
	f := newFixture(t)
	f.ready()

	var seen []bool
	f.e.Subscribe(func(n Notification) {
		if n.Kind == NotifySent {
			todo, _ := f.todos.Get("c1")
			seen = append(seen, todo.Synced)
			assert.Zero(t, n.QueueLen, "queue length excludes the confirmed operation")
		}
	})

	f.dispatch(t, addTodo("c1", "milk"))
	assert.Equal(t, []bool{true}, seen)
	assert.Empty(t, f.e.Queue())
}

func TestEngine_StalenessGatesRefetch(t *testing.T) {
	f := newFixture(t, WithResource(state.TodosResource, func() ir.Action { return fetchTodos() }))
	assert.True(t, f.e.IsStale(state.TodosResource), "never fetched is stale")

	f.ready()
	assert.Equal(t, []string{state.FetchTodos}, f.sender.Kinds(), "initial fetch on ready")
	assert.False(t, f.e.IsStale(state.TodosResource))

	f.clock.Advance(29 * time.Second)
	f.e.CheckAndRefresh(state.TodosResource)
	f.flush()
	assert.Len(t, f.sender.Calls(), 1, "fresh resource is not refetched")

	f.clock.Advance(2 * time.Second)
	f.e.CheckAndRefresh(state.TodosResource)
	f.flush()
	assert.Len(t, f.sender.Calls(), 2)
}

func TestEngine_RefreshNotDuplicatedWhileQueued(t *testing.T) {
	f := newFixture(t, WithResource(state.TodosResource, func() ir.Action { return fetchTodos() }))
	f.e.Monitor().SetOnline(false)
	f.ready()
	require.Len(t, f.e.Queue(), 1)

	f.e.CheckAndRefresh(state.TodosResource)
	f.flush()
	assert.Len(t, f.e.Queue(), 1)
}

func TestEngine_TTLOverride(t *testing.T) {
	f := newFixture(t)
	f.ready()

	f.dispatch(t, fetchTodos(ir.O(ir.KeyTTL, ir.IRInt(60000))))
	assert.Equal(t, time.Minute, f.e.Staleness(state.TodosResource).TTL)

	f.clock.Advance(45 * time.Second)
	assert.False(t, f.e.IsStale(state.TodosResource))
	f.clock.Advance(16 * time.Second)
	assert.True(t, f.e.IsStale(state.TodosResource))
}

func TestEngine_SetTTLActionFeedsStaleness(t *testing.T) {
	f := newFixture(t, WithResource(state.TodosResource, func() ir.Action { return fetchTodos() }))
	f.ready()
	require.Len(t, f.sender.Calls(), 1)

	f.dispatch(t, ir.NewAction(state.SetTTL, ir.Obj(ir.O(ir.KeyTTL, ir.IRInt(60000)))))
	assert.Equal(t, time.Minute, f.e.Staleness(state.TodosResource).TTL)

	f.clock.Advance(40 * time.Second)
	assert.False(t, f.e.IsStale(state.TodosResource))
	f.e.CheckAndRefresh(state.TodosResource)
	f.flush()
	assert.Len(t, f.sender.Calls(), 1, "fresh under the new ttl")

	f.clock.Advance(21 * time.Second)
	assert.True(t, f.e.IsStale(state.TodosResource))
	f.e.CheckAndRefresh(state.TodosResource)
	f.flush()
	assert.Len(t, f.sender.Calls(), 2)
}

func TestEngine_PollingRestartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	defer f.e.poller.StopAll()
	f.ready()

	poll := fetchTodos(ir.O(ir.KeyPolling, ir.Obj(ir.O("interval", ir.IRInt(3600000)))))
	f.dispatch(t, poll)
	f.dispatch(t, poll)

	assert.Equal(t, []string{state.FetchTodos}, f.e.ActivePolls())
	interval, ok := f.e.poller.Interval(state.FetchTodos)
	require.True(t, ok)
	assert.Equal(t, time.Hour, interval)

	f.dispatch(t, ir.StopPolling(state.FetchTodos))
	assert.Empty(t, f.e.ActivePolls())
	assert.False(t, f.e.StopPolling("never-started"))
}

func TestEngine_PollingReissueStripsDirective(t *testing.T) {
	f := newFixture(t)
	defer f.e.poller.StopAll()
	f.ready()

	f.dispatch(t, fetchTodos(ir.O(ir.KeyPolling, ir.Obj(ir.O("interval", ir.IRInt(5))))))

	require.Eventually(t, func() bool { return f.e.events.Len() > 0 }, time.Second, time.Millisecond)
	f.e.StopPolling(state.FetchTodos)

	ev, ok := f.e.events.TryDequeue()
	require.True(t, ok)
	require.Equal(t, EventAction, ev.Type)
	assert.Equal(t, state.FetchTodos, ev.Action.Type)
	assert.False(t, ev.Action.Payload.Has(ir.KeyPolling))
	assert.True(t, ev.Action.IsSync())
}

func TestEngine_MalformedSyncActionRejected(t *testing.T) {
	f := newFixture(t)
	f.ready()

	bad := addTodo("c1", "milk")
	delete(bad.Payload, ir.KeyQuery)

	err := f.e.Dispatch(bad)
	require.Error(t, err)
	assert.Equal(t, ErrCodeMalformed, syncErrorCode(err))
	assert.ErrorIs(t, err, ir.ErrMalformedSync)

	f.flush()
	assert.Empty(t, f.todos.List(), "rejected before the reducer")
	assert.Empty(t, f.e.Queue())
}

func TestEngine_UnsyncedActionsOnlyReachReducers(t *testing.T) {
	f := newFixture(t)
	f.ready()

	f.dispatch(t, ir.NewAction(state.AddTodo, ir.Obj(
		ir.O("clientId", ir.IRString("local")),
		ir.O("title", ir.IRString("never synced")),
	)))

	assert.Len(t, f.todos.List(), 1)
	assert.Empty(t, f.e.Queue())
	assert.Empty(t, f.sender.Calls())
}

func TestEngine_ClearQueue(t *testing.T) {
	f := newFixture(t)
	f.ready()
	f.e.Monitor().SetOnline(false)
	f.flush()
	f.dispatch(t, addTodo("c1", "milk"))
	f.dispatch(t, addTodo("c2", "eggs"))

	f.dispatch(t, ir.ClearQueue())
	assert.Empty(t, f.e.Queue())

	f.e.Monitor().SetOnline(true)
	f.flush()
	assert.Empty(t, f.sender.Calls())
}

func TestEngine_Notifications(t *testing.T) {
	f := newFixture(t)
	f.ready()

	var kinds []NotificationKind
	var statuses []ir.SyncStatus
	f.e.Subscribe(func(n Notification) {
		kinds = append(kinds, n.Kind)
		if n.Status != nil {
			statuses = append(statuses, n.Status.Status)
		}
	})

	f.dispatch(t, addTodo("c1", "milk"))

	assert.Equal(t, []NotificationKind{NotifyQueue, NotifyStatus, NotifySent, NotifyStatus}, kinds)
	assert.Equal(t, []ir.SyncStatus{ir.StatusSyncing, ir.StatusIdle}, statuses)
}

func TestEngine_StatsRecorded(t *testing.T) {
	f := newFixture(t)
	f.ready()
	f.sender.FailNext("boom")

	f.dispatch(t, addTodo("c1", "milk"))
	f.e.RequestDrain()
	f.flush()

	st := f.e.Stats()
	assert.Equal(t, int64(1), st.Sent)
	assert.Equal(t, int64(1), st.Failed)
	assert.Greater(t, st.RecentFailure, 0.0)
}

// memSnapshots is an in-memory SnapshotStore. Saved snapshots are copied
// through JSON like a real store would.
type memSnapshots struct {
	mu    sync.Mutex
	saved [][]byte
	err   error
}

func (m *memSnapshots) Save(ctx context.Context, snap *ir.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.saved = append(m.saved, data)
	return nil
}

func (m *memSnapshots) Load(ctx context.Context) (*ir.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil, false
	}
	var snap ir.Snapshot
	if err := json.Unmarshal(m.saved[len(m.saved)-1], &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

func (m *memSnapshots) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func TestEngine_PersistsOnlyOnceReady(t *testing.T) {
	snaps := &memSnapshots{}
	f := newFixture(t, WithSnapshotStore(snaps))

	f.e.Monitor().SetOnline(false)
	f.dispatch(t, addTodo("c1", "milk"))
	assert.Zero(t, snaps.count())

	f.ready()
	require.NotZero(t, snaps.count())

	snap, ok := snaps.Load(context.Background())
	require.True(t, ok)
	assert.Equal(t, ir.SnapshotVersion, snap.Version)
	assert.Equal(t, []string{"c1"}, queuedClientIDs(snap.Queue))
	assert.Contains(t, snap.Entities, "todos")
}

func TestEngine_RestoreResumesQueueAndSeq(t *testing.T) {
	snaps := &memSnapshots{}
	first := newFixture(t, WithSnapshotStore(snaps))
	first.ready()
	first.e.Monitor().SetOnline(false)
	first.flush()
	first.dispatch(t, addTodo("c1", "milk"))
	first.dispatch(t, addTodo("c2", "eggs"))

	second := newFixture(t, WithSnapshotStore(snaps))
	require.True(t, second.e.Restore(context.Background()))

	assert.Equal(t, []string{"c1", "c2"}, queuedClientIDs(second.e.Queue()))
	assert.Len(t, second.todos.List(), 2)
	assert.Equal(t, int64(2), second.e.clock.Current())

	second.ready()
	assert.Equal(t, []string{"c1", "c2"}, clientIDs(second.sender.Calls()))
	assert.Equal(t, first.e.Queue()[0].ID, second.sender.Calls()[0].OperationID, "idempotency key survives restart")
}

func TestEngine_RestoreWithoutSnapshot(t *testing.T) {
	f := newFixture(t, WithSnapshotStore(&memSnapshots{}))
	assert.False(t, f.e.Restore(context.Background()))

	g := newFixture(t)
	assert.False(t, g.e.Restore(context.Background()))
}

func TestEngine_PersistenceFailureIsNotFatal(t *testing.T) {
	snaps := &memSnapshots{err: errors.New("disk full")}
	f := newFixture(t, WithSnapshotStore(snaps))
	f.ready()

	f.dispatch(t, addTodo("c1", "milk"))
	assert.Len(t, f.sender.Calls(), 1)
	assert.Equal(t, ir.StatusIdle, f.e.Status().Status)
}

func TestEngine_RunLoop(t *testing.T) {
	sender := testutil.NewScriptedSender()
	sender.Respond = echoServer
	store := state.NewStore()
	store.Register(state.NewTodosSlice(), true)
	e := New(sender, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	e.Monitor().MarkReady()
	require.NoError(t, e.Dispatch(addTodo("c1", "milk")))

	require.Eventually(t, func() bool {
		return len(sender.Calls()) == 1 && len(e.Queue()) == 0 && e.Status().Status == ir.StatusIdle
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.ErrorIs(t, e.Dispatch(addTodo("c2", "eggs")), ErrEngineStopped)
}

func TestEngine_StopEndsRun(t *testing.T) {
	e := New(testutil.NewScriptedSender(), state.NewStore())
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestEngine_RetryIntervalRetriesErroredQueue(t *testing.T) {
	sender := testutil.NewScriptedSender()
	sender.Respond = echoServer
	sender.FailNext("temporarily down")
	store := state.NewStore()
	store.Register(state.NewTodosSlice(), true)
	e := New(sender, store, WithRetryInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	e.Monitor().MarkReady()
	require.NoError(t, e.Dispatch(addTodo("c1", "milk")))

	require.Eventually(t, func() bool {
		return len(sender.Calls()) >= 2 && len(e.Queue()) == 0 && e.Status().Status == ir.StatusIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_SettleWaitsForDrain(t *testing.T) {
	sender := testutil.NewScriptedSender()
	sender.Respond = echoServer
	store := state.NewStore()
	store.Register(state.NewTodosSlice(), true)
	e := New(sender, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	e.Monitor().MarkReady()
	require.NoError(t, e.Dispatch(addTodo("c1", "milk")))
	require.NoError(t, e.Dispatch(addTodo("c2", "eggs")))

	settleCtx, settleCancel := context.WithTimeout(ctx, 2*time.Second)
	defer settleCancel()
	require.NoError(t, e.Settle(settleCtx))

	assert.Equal(t, []string{"c1", "c2"}, clientIDs(sender.Calls()))
	assert.Empty(t, e.Queue())
	assert.Equal(t, ir.StatusIdle, e.Status().Status)
}

func TestEngine_SettleReturnsOnHalt(t *testing.T) {
	f := newFixture(t)
	f.ready()
	f.sender.FailNext("down")
	require.NoError(t, f.e.Dispatch(addTodo("c1", "milk")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.e.Settle(context.Background()))
	}()
	require.Eventually(t, func() bool { return f.e.events.Len() == 2 }, time.Second, time.Millisecond)
	f.flush()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Settle did not return")
	}
	assert.Equal(t, ir.StatusError, f.e.Status().Status)
	assert.Len(t, f.e.Queue(), 1)
}

func TestEngine_SettleAfterStop(t *testing.T) {
	e := New(testutil.NewScriptedSender(), state.NewStore())
	e.Stop()
	assert.ErrorIs(t, e.Settle(context.Background()), ErrEngineStopped)
}
