package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/offsync/internal/ir"
)

// Slice is one named part of the application state.
type Slice interface {
	// Name is the action type prefix the slice answers to.
	Name() string
	// Reduce applies an action and reports whether the slice changed.
	Reduce(a ir.Action) bool
	// Export serializes the slice for persistence.
	Export() (json.RawMessage, error)
	// Import replaces the slice contents with persisted data.
	Import(data json.RawMessage) error
}

// Store routes actions to slices. It implements engine.StateStore.
type Store struct {
	mu        sync.Mutex
	slices    map[string]Slice
	order     []string
	persisted map[string]bool
	listeners []func(ir.Action)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		slices:    make(map[string]Slice),
		persisted: make(map[string]bool),
	}
}

// Register adds a slice. Persisted slices are part of the durable snapshot;
// the rest are rebuilt from the server after a restart.
func (s *Store) Register(slice Slice, persisted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := slice.Name()
	if _, ok := s.slices[name]; !ok {
		s.order = append(s.order, name)
	}
	s.slices[name] = slice
	s.persisted[name] = persisted
}

// OnChange registers fn to run after an action changed some slice.
func (s *Store) OnChange(fn func(ir.Action)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Apply routes a to the slice named by its type prefix. Actions without a
// matching slice are ignored.
func (s *Store) Apply(a ir.Action) bool {
	name, _, ok := strings.Cut(a.Type, "/")
	if !ok {
		return false
	}
	s.mu.Lock()
	slice, found := s.slices[name]
	listeners := append([]func(ir.Action){}, s.listeners...)
	s.mu.Unlock()
	if !found {
		return false
	}

	changed := slice.Reduce(a)
	if changed {
		for _, fn := range listeners {
			fn(a)
		}
	}
	return changed
}

// Export serializes every persisted slice, keyed by name.
func (s *Store) Export() (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage)
	for _, name := range s.order {
		if !s.persisted[name] {
			continue
		}
		data, err := s.slices[name].Export()
		if err != nil {
			return nil, fmt.Errorf("export slice %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// Import restores persisted slices. Unknown and non-persisted names are
// skipped; the first slice that fails to import aborts with an error.
func (s *Store) Import(entities map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		data, ok := entities[name]
		if !ok || !s.persisted[name] {
			continue
		}
		if err := s.slices[name].Import(data); err != nil {
			return fmt.Errorf("import slice %s: %w", name, err)
		}
	}
	return nil
}
