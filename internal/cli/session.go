package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/offsync/internal/catalog"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/rpc"
	"github.com/roach88/offsync/internal/state"
	"github.com/roach88/offsync/internal/store"
)

// session is one client: the snapshot database, the operation catalog,
// the todo state and an engine restored from the last snapshot.
type session struct {
	logger    *slog.Logger
	kv        store.KV
	snapshots *store.SnapshotStore
	catalog   *catalog.Catalog
	todos     *state.TodosSlice
	engine    *engine.Engine
	restored  bool
}

// openSnapshots opens the configured snapshot database.
func openSnapshots(cfg Config, logger *slog.Logger) (store.KV, *store.SnapshotStore, error) {
	if cfg.DB == "" {
		return nil, nil, NewExitError(ExitCommandError, "--db is required")
	}
	kv, err := store.Open(cfg.Backend, cfg.DB)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return kv, store.NewSnapshotStore(kv, store.WithSnapshotLogger(logger)), nil
}

// loadCatalog compiles the configured catalog, or the built-in one.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

// openSession opens the database, compiles the catalog and restores an
// engine sending to sender, or to the configured endpoint when sender is
// nil.
func openSession(ctx context.Context, cfg Config, logger *slog.Logger, sender engine.Sender, extra ...engine.Option) (*session, error) {
	cat, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	if sender == nil {
		if cfg.Endpoint == "" {
			return nil, NewExitError(ExitCommandError, "--endpoint is required")
		}
		sender = rpc.New(cfg.Endpoint, rpc.WithTimeout(cfg.RequestTimeout), rpc.WithLogger(logger))
	}

	kv, snapshots, err := openSnapshots(cfg, logger)
	if err != nil {
		return nil, err
	}

	todos := state.NewTodosSlice()
	st := state.NewStore()
	st.Register(todos, true)

	opts := []engine.Option{
		engine.WithSnapshotStore(snapshots),
		engine.WithLogger(logger),
	}
	if cfg.DefaultTTL > 0 {
		opts = append(opts, engine.WithDefaultTTL(cfg.DefaultTTL))
	}
	for _, key := range cat.ResourceKeys() {
		if refetch, ok := cat.Refetch(key); ok {
			opts = append(opts, engine.WithResource(key, refetch))
		}
	}
	opts = append(opts, extra...)

	s := &session{
		logger:    logger,
		kv:        kv,
		snapshots: snapshots,
		catalog:   cat,
		todos:     todos,
		engine:    engine.New(sender, st, opts...),
	}
	s.restored = s.engine.Restore(ctx)
	return s, nil
}

// dispatch builds the catalogued sync request for an action and submits
// it. An add without a client id gets a fresh one.
func (s *session) dispatch(actionType string, payload ir.IRObject) (ir.Action, error) {
	payload = payload.Clone()
	if payload == nil {
		payload = ir.IRObject{}
	}
	if actionType == state.AddTodo && !payload.Has(ir.KeyClientID) {
		payload[ir.KeyClientID] = ir.IRString(s.engine.NewClientID())
	}

	action, err := s.catalog.Build(ir.NewAction(actionType, payload))
	if err != nil {
		return ir.Action{}, err
	}
	if err := s.engine.Dispatch(action); err != nil {
		return ir.Action{}, err
	}
	return action, nil
}

// serverPayload resolves a todo by client id into the payload toggle and
// remove need: both ids, since the server only knows its own.
func (s *session) serverPayload(clientID string) (ir.IRObject, error) {
	todo, ok := s.todos.Get(clientID)
	if !ok {
		return nil, fmt.Errorf("no todo with id %q", clientID)
	}
	if todo.ServerID == nil {
		return nil, fmt.Errorf("todo %q has not reached the server yet", clientID)
	}
	return ir.Obj(
		ir.O(ir.KeyClientID, ir.IRString(todo.ClientID)),
		ir.O("id", ir.IRString(*todo.ServerID)),
	), nil
}

// SettleResult reports what a one-shot sync did.
type SettleResult struct {
	Sent      int    `json:"sent"`
	Remaining int    `json:"remaining"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// settle brings the engine online and ready and processes events on the
// calling goroutine until nothing is left. The queue is then either empty
// or halted on a failure.
func (s *session) settle(ctx context.Context) SettleResult {
	var sent int
	s.engine.Subscribe(func(n engine.Notification) {
		if n.Kind == engine.NotifySent {
			sent++
		}
	})
	s.engine.Monitor().MarkReady()
	s.engine.Flush(ctx)

	st := s.engine.Status()
	return SettleResult{
		Sent:      sent,
		Remaining: len(s.engine.Queue()),
		Status:    string(st.Status),
		Error:     st.Error,
	}
}

// Close stops the engine and closes the database.
func (s *session) Close() error {
	s.engine.Stop()
	return s.kv.Close()
}
