package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/offsync/internal/catalog"
	"github.com/roach88/offsync/internal/devserver"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/hostsignal"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/state"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

// Harness executes one scenario.
//
// The server, the wall clock, the snapshot store and the id generator
// outlive restarts; the client state and the engine are rebuilt.
type Harness struct {
	catalog    *catalog.Catalog
	server     *devserver.Server
	clock      *testutil.ManualClock
	snapshots  *store.SnapshotStore
	ids        *testutil.SequentialIDs
	defaultTTL time.Duration
	logger     *slog.Logger

	todos   *state.TodosSlice
	engine  *engine.Engine
	network *hostsignal.Manual

	result *Result
	step   int
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh in-memory snapshot database and backend.
// Execution flow:
// 1. Compile the catalog and seed the server
// 2. Boot client state and engine
// 3. Execute steps, flushing the engine after each
// 4. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	cat, err := loadCatalog(scenario.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	kv, err := store.OpenSQLite(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer kv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	var ttl time.Duration
	if scenario.DefaultTTL != "" {
		ttl, err = time.ParseDuration(scenario.DefaultTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid default_ttl: %w", err)
		}
	}

	h := &Harness{
		catalog:    cat,
		server:     devserver.New(devserver.WithTodos(scenario.Server), devserver.WithLogger(logger)),
		clock:      testutil.NewManualClock(testutil.Epoch),
		snapshots:  store.NewSnapshotStore(kv, store.WithSnapshotLogger(logger)),
		ids:        testutil.NewSequentialIDs("client"),
		defaultTTL: ttl,
		logger:     logger,
		result:     NewResult(),
	}
	h.boot()
	defer func() { h.engine.Stop() }()

	for i, step := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h.step = i + 1
		h.result.AddTrace(TraceEvent{Step: h.step, Kind: EventStep, Subject: step.String()})
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", h.step, step, err)
		}
		h.engine.Flush(ctx)
	}

	actx := h.assertionContext()
	h.result.State = actx.State()
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

// boot builds fresh client state and a fresh engine over the shared
// server, clock and snapshot store.
func (h *Harness) boot() {
	h.todos = state.NewTodosSlice()
	st := state.NewStore()
	st.Register(h.todos, true)

	opts := []engine.Option{
		engine.WithWallClock(h.clock),
		engine.WithSnapshotStore(h.snapshots),
		engine.WithIDGenerator(h.ids),
		engine.WithLogger(h.logger),
		engine.WithDefaultTTL(h.defaultTTL),
	}

	for _, key := range h.catalog.ResourceKeys() {
		if refetch, ok := h.catalog.Refetch(key); ok {
			opts = append(opts, engine.WithResource(key, refetch))
		}
	}

	h.engine = engine.New(h.server, st, opts...)
	h.engine.Subscribe(h.record)
	h.network = hostsignal.NewManual(h.engine.Monitor())
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Ready:
		h.engine.Monitor().MarkReady()

	case step.Network != "":
		if step.Network == "online" {
			h.network.Online()
		} else {
			h.network.Offline()
		}

	case step.Dispatch != "":
		h.dispatch(step)

	case step.Fail != nil:
		h.server.FailAfter(step.Fail.After, step.Fail.Message)

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)

	case step.Refresh != "":
		h.engine.CheckAndRefresh(step.Refresh)

	case step.Stale != "":
		h.result.AddTrace(TraceEvent{
			Step:    h.step,
			Kind:    EventStale,
			Subject: step.Stale,
			Detail:  strconv.FormatBool(h.engine.IsStale(step.Stale)),
		})

	case step.Drain:
		h.engine.RequestDrain()

	case step.Restart:
		h.restart(ctx)

	default:
		return fmt.Errorf("empty step")
	}
	return nil
}

// dispatch attaches the catalogued sync request and submits the action.
// Rejections are part of the trace, not scenario errors.
func (h *Harness) dispatch(step Step) {
	payload, err := ir.ObjectFromAny(step.Payload)
	if err != nil {
		h.reject(step.Dispatch, fmt.Errorf("payload: %w", err))
		return
	}
	if step.Dispatch == state.AddTodo && !payload.Has(ir.KeyClientID) {
		payload[ir.KeyClientID] = ir.IRString(h.engine.NewClientID())
	}

	action, err := h.catalog.Build(ir.NewAction(step.Dispatch, payload))
	if err != nil {
		h.reject(step.Dispatch, err)
		return
	}
	if err := h.engine.Dispatch(action); err != nil {
		h.reject(step.Dispatch, err)
	}
}

func (h *Harness) reject(actionType string, err error) {
	h.result.AddTrace(TraceEvent{
		Step:    h.step,
		Kind:    EventRejected,
		Subject: actionType,
		Detail:  strconv.Quote(err.Error()),
	})
}

// restart simulates a process restart: the old engine is dropped without
// a final flush and a new one is restored from the last snapshot.
func (h *Harness) restart(ctx context.Context) {
	h.engine.Stop()
	h.boot()

	detail := "nothing"
	if h.engine.Restore(ctx) {
		detail = fmt.Sprintf("queue=%d todos=%d", len(h.engine.Queue()), len(h.todos.List()))
	}
	h.result.AddTrace(TraceEvent{Step: h.step, Kind: EventRestored, Detail: detail})
}

// record turns an engine notification into a trace event.
func (h *Harness) record(n engine.Notification) {
	ev := TraceEvent{Step: h.step, Kind: string(n.Kind)}
	switch n.Kind {
	case engine.NotifyNetwork:
		ev.Detail = fmt.Sprintf("online=%t ready=%t", n.Network.Online, n.Network.Ready)
	case engine.NotifyQueue:
		ev.Detail = fmt.Sprintf("len=%d", n.QueueLen)
	case engine.NotifyStatus:
		ev.Subject = string(n.Status.Status)
		if n.Status.Error != "" {
			ev.Detail = strconv.Quote(n.Status.Error)
		}
	case engine.NotifySent, engine.NotifyFailed:
		// The failure text embeds the operation id; the status event
		// already carries the server's message.
		ev.Subject = n.Operation.Kind
		ev.Detail = fmt.Sprintf("seq=%d queue=%d", n.Operation.Seq, n.QueueLen)
	}
	h.result.AddTrace(ev)
}

func (h *Harness) assertionContext() *AssertionContext {
	return &AssertionContext{
		Todos:  h.todos.List(),
		Queue:  h.engine.Queue(),
		Status: h.engine.Status(),
		Server: h.server.Todos(),
	}
}
