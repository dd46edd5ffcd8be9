package state

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/roach88/offsync/internal/ir"
)

// Todo action types.
const (
	AddTodo           = "todos/addTodo"
	RemoveTodo        = "todos/removeTodo"
	ToggleTodo        = "todos/toggleTodo"
	UpdateTodo        = "todos/updateTodo"
	FetchTodos        = "todos/fetchTodos"
	FetchTodosSuccess = "todos/fetchTodosSuccess"
	MarkSynced        = "todos/markSynced"

	// SetTTL sets the freshness window of TodosResource. The engine's
	// staleness tracker handles it; the list itself does not change.
	SetTTL = TodosResource + ir.SetTTLSuffix
)

// TodosResource is the staleness key of the todo list.
const TodosResource = "todos"

// Todo is a todo entity. It is created optimistically with only a client
// id and becomes authoritative once the server assigns ServerID.
type Todo struct {
	ServerID  *string `json:"server_id,omitempty"`
	ClientID  string  `json:"client_id"`
	Title     string  `json:"title"`
	Completed bool    `json:"completed"`
	Synced    bool    `json:"synced"`
}

// TodosSlice holds the todo list.
type TodosSlice struct {
	mu      sync.RWMutex
	items   []Todo
	loading bool
}

type todosSnapshot struct {
	Items []Todo `json:"items"`
}

// NewTodosSlice creates an empty todo list.
func NewTodosSlice() *TodosSlice {
	return &TodosSlice{}
}

// Name implements Slice.
func (s *TodosSlice) Name() string {
	return "todos"
}

// List returns a copy of the todos in display order.
func (s *TodosSlice) List() []Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Todo, len(s.items))
	for i, t := range s.items {
		out[i] = t.clone()
	}
	return out
}

// Get returns the todo with clientID.
func (s *TodosSlice) Get(clientID string) (Todo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(clientID); i >= 0 {
		return s.items[i].clone(), true
	}
	return Todo{}, false
}

// Loading reports whether a fetch is outstanding.
func (s *TodosSlice) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Pending counts todos not yet confirmed by the server.
func (s *TodosSlice) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.items {
		if !t.Synced {
			n++
		}
	}
	return n
}

// Reduce implements Slice.
func (s *TodosSlice) Reduce(a ir.Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := a.Payload
	switch a.Type {
	case AddTodo:
		clientID, _ := p.String("clientId")
		if clientID == "" || s.indexOf(clientID) >= 0 {
			return false
		}
		title, _ := p.String("title")
		s.items = append(s.items, Todo{ClientID: clientID, Title: title})
		return true

	case RemoveTodo:
		i := s.locate(p)
		if i < 0 {
			return false
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		return true

	case ToggleTodo:
		i := s.locate(p)
		if i < 0 {
			return false
		}
		s.items[i].Completed = !s.items[i].Completed
		s.items[i].Synced = false
		return true

	case UpdateTodo:
		return s.reconcile(p)

	case FetchTodos:
		if s.loading {
			return false
		}
		s.loading = true
		return true

	case FetchTodosSuccess:
		list, _ := p.Array("todos")
		s.replaceAll(list)
		s.loading = false
		return true

	case MarkSynced:
		clientID, _ := p.String("clientId")
		i := s.indexOf(clientID)
		if i < 0 || s.items[i].Synced {
			return false
		}
		s.items[i].Synced = true
		return true
	}
	return false
}

// reconcile applies a server confirmation. The confirmed entity is found
// under the mutation's result key, or is the payload itself when it carries
// a serverId or id next to the clientId. It is matched to the optimistic
// entity by client id only. Without a match the entity is appended.
func (s *TodosSlice) reconcile(p ir.IRObject) bool {
	if deleted, ok := p["deleteTodo"]; ok {
		obj, _ := deleted.(ir.IRObject)
		if i := s.indexOf(clientIDOf(obj, p)); i >= 0 {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
		return false
	}

	var entity ir.IRObject
	for _, key := range []string{"todo", "addTodo", "toggleTodo", "updateTodo"} {
		if obj, ok := p.Object(key); ok {
			entity = obj
			break
		}
	}
	if entity == nil {
		return s.confirm(p)
	}

	confirmed := todoFromServer(entity)
	confirmed.ClientID = clientIDOf(entity, p)
	if confirmed.ClientID == "" {
		return false
	}

	if i := s.indexOf(confirmed.ClientID); i >= 0 {
		s.items[i] = confirmed
		return true
	}
	s.items = append(s.items, confirmed)
	return true
}

// confirm applies a flat confirmation such as {clientId, serverId}. Fields
// the payload leaves out keep their local values.
func (s *TodosSlice) confirm(p ir.IRObject) bool {
	clientID, _ := p.String("clientId")
	serverID, ok := idString(p["serverId"])
	if !ok {
		serverID, ok = idString(p["id"])
	}
	if clientID == "" || !ok {
		return false
	}

	i := s.indexOf(clientID)
	if i < 0 {
		s.items = append(s.items, Todo{ClientID: clientID})
		i = len(s.items) - 1
	}
	t := &s.items[i]
	t.ServerID = &serverID
	if title, ok := p.String("title"); ok {
		t.Title = title
	}
	if completed, ok := p.Bool("completed"); ok {
		t.Completed = completed
	}
	t.Synced = true
	return true
}

// replaceAll installs the server list. Optimistic entities still waiting
// for confirmation survive: unknown ones are kept at the end, and known
// ones keep their local fields with the server id attached.
func (s *TodosSlice) replaceAll(list ir.IRArray) {
	local := make(map[string]Todo, len(s.items))
	for _, t := range s.items {
		if !t.Synced {
			local[t.ClientID] = t
		}
	}

	next := make([]Todo, 0, len(list)+len(local))
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		obj, ok := v.(ir.IRObject)
		if !ok {
			continue
		}
		t := todoFromServer(obj)
		if t.ClientID == "" && t.ServerID != nil {
			t.ClientID = *t.ServerID
		}
		if pending, ok := local[t.ClientID]; ok {
			pending.ServerID = t.ServerID
			t = pending
		}
		seen[t.ClientID] = true
		next = append(next, t)
	}
	for _, t := range s.items {
		if !t.Synced && !seen[t.ClientID] {
			next = append(next, t)
		}
	}
	s.items = next
}

// locate finds the entity a user action refers to: by clientId when given,
// else by server id.
func (s *TodosSlice) locate(p ir.IRObject) int {
	if clientID, ok := p.String("clientId"); ok && clientID != "" {
		return s.indexOf(clientID)
	}
	id, ok := idString(p["id"])
	if !ok {
		return -1
	}
	for i, t := range s.items {
		if t.ServerID != nil && *t.ServerID == id {
			return i
		}
	}
	return -1
}

func (s *TodosSlice) indexOf(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i, t := range s.items {
		if t.ClientID == clientID {
			return i
		}
	}
	return -1
}

// Export implements Slice.
func (s *TodosSlice) Export() (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.items
	if items == nil {
		items = []Todo{}
	}
	return json.Marshal(todosSnapshot{Items: items})
}

// Import implements Slice.
func (s *TodosSlice) Import(data json.RawMessage) error {
	var snap todosSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = snap.Items
	s.loading = false
	return nil
}

func todoFromServer(obj ir.IRObject) Todo {
	t := Todo{Synced: true}
	if id, ok := idString(obj["id"]); ok {
		t.ServerID = &id
	}
	t.ClientID, _ = obj.String("clientId")
	t.Title, _ = obj.String("title")
	t.Completed, _ = obj.Bool("completed")
	return t
}

func idString(v ir.IRValue) (string, bool) {
	switch id := v.(type) {
	case ir.IRString:
		return string(id), id != ""
	case ir.IRInt:
		return strconv.FormatInt(int64(id), 10), true
	default:
		return "", false
	}
}

// clientIDOf prefers the id echoed by the server over the one the engine
// copied from the operation variables.
func clientIDOf(entity, payload ir.IRObject) string {
	if id, ok := entity.String("clientId"); ok && id != "" {
		return id
	}
	id, _ := payload.String("clientId")
	return id
}

func (t Todo) clone() Todo {
	if t.ServerID != nil {
		id := *t.ServerID
		t.ServerID = &id
	}
	return t
}
