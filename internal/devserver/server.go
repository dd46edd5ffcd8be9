package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/roach88/offsync/internal/ir"
)

// Todo is a server-side todo.
type Todo struct {
	ID        string `json:"id" yaml:"id"`
	ClientID  string `json:"clientId" yaml:"client_id"`
	Title     string `json:"title" yaml:"title"`
	Completed bool   `json:"completed" yaml:"completed"`
}

// DefaultTodos is the list a fresh `offsync serve` starts with.
func DefaultTodos() []Todo {
	return []Todo{
		{ID: "1", ClientID: "1", Title: "Learn GraphQL"},
		{ID: "2", ClientID: "2", Title: "Build a ToDo App"},
	}
}

// Server is an in-memory todo backend answering the operations of the
// default catalog. It implements engine.Sender directly and serves the
// same resolvers over HTTP through Handler.
//
// Replies are remembered per idempotency key: a replayed key returns the
// first reply without running the mutation again.
//
// Safe for concurrent use.
type Server struct {
	mu      sync.Mutex
	todos   []Todo
	nextID  int64
	calls   []string
	failAt  map[int]string
	replies map[string]ir.IRObject
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTodos seeds the todo list.
func WithTodos(todos []Todo) Option {
	return func(s *Server) {
		s.todos = append([]Todo(nil), todos...)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a server with an empty todo list.
func New(opts ...Option) *Server {
	s := &Server{
		failAt:  make(map[int]string),
		replies: make(map[string]ir.IRObject),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, t := range s.todos {
		if n, err := strconv.ParseInt(t.ID, 10, 64); err == nil && n > s.nextID {
			s.nextID = n
		}
	}
	s.nextID++
	return s
}

// FailNext makes the next request fail with msg.
func (s *Server) FailNext(msg string) {
	s.FailAfter(0, msg)
}

// FailAfter lets n requests through, then fails one with msg. Failures
// scheduled for the same request queue up behind each other.
func (s *Server) FailAfter(n int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.calls) + n
	for {
		if _, taken := s.failAt[idx]; !taken {
			break
		}
		idx++
	}
	s.failAt[idx] = msg
}

// Send implements engine.Sender.
func (s *Server) Send(ctx context.Context, op ir.Operation) (ir.IRObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Execute(op.ID, op.Query, op.Variables)
}

// Execute runs one GraphQL request. key is the idempotency key; empty
// disables replay detection.
func (s *Server) Execute(key, query string, variables ir.IRObject) (ir.IRObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	field := rootField(query)
	idx := len(s.calls)
	s.calls = append(s.calls, field)

	if msg, ok := s.failAt[idx]; ok {
		delete(s.failAt, idx)
		s.logger.Debug("failing request", "field", field, "error", msg)
		return nil, errors.New(msg)
	}

	if key != "" {
		if reply, ok := s.replies[key]; ok {
			s.logger.Debug("replayed request", "field", field, "key", key)
			return reply.Clone(), nil
		}
	}

	value, err := s.resolve(field, variables)
	if err != nil {
		return nil, err
	}
	reply := ir.Obj(ir.O(field, value))
	if key != "" {
		s.replies[key] = reply.Clone()
	}
	s.logger.Debug("resolved request", "field", field, "todos", len(s.todos))
	return reply, nil
}

func (s *Server) resolve(field string, vars ir.IRObject) (ir.IRValue, error) {
	switch field {
	case "todos":
		list := make(ir.IRArray, len(s.todos))
		for i, t := range s.todos {
			list[i] = t.object()
		}
		return list, nil

	case "addTodo":
		title, ok := vars.String("title")
		if !ok {
			return nil, fmt.Errorf("variable %q is required", "title")
		}
		clientID, _ := vars.String("clientId")
		t := Todo{ID: strconv.FormatInt(s.nextID, 10), ClientID: clientID, Title: title}
		s.nextID++
		s.todos = append(s.todos, t)
		return t.object(), nil

	case "toggleTodo":
		i, err := s.lookup(vars)
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return ir.IRNull{}, nil
		}
		s.todos[i].Completed = !s.todos[i].Completed
		return s.todos[i].object(), nil

	case "deleteTodo":
		i, err := s.lookup(vars)
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return ir.IRNull{}, nil
		}
		t := s.todos[i]
		s.todos = append(s.todos[:i], s.todos[i+1:]...)
		return t.object(), nil

	case "":
		return nil, errors.New("no operation in query")
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}
}

func (s *Server) lookup(vars ir.IRObject) (int, error) {
	id, ok := vars.String("id")
	if !ok {
		return -1, fmt.Errorf("variable %q is required", "id")
	}
	for i, t := range s.todos {
		if t.ID == id {
			return i, nil
		}
	}
	return -1, nil
}

// Todos returns a copy of the server's todo list.
func (s *Server) Todos() []Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Todo(nil), s.todos...)
}

// Calls returns the root field of every request received, in order,
// including failed and replayed ones.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (t Todo) object() ir.IRObject {
	return ir.Obj(
		ir.O("id", ir.IRString(t.ID)),
		ir.O("clientId", ir.IRString(t.ClientID)),
		ir.O("title", ir.IRString(t.Title)),
		ir.O("completed", ir.IRBool(t.Completed)),
	)
}

// rootField returns the first field selected by the operation: the
// identifier after the first opening brace.
func rootField(query string) string {
	i := 0
	for i < len(query) && query[i] != '{' {
		i++
	}
	if i == len(query) {
		return ""
	}
	i++
	for i < len(query) && isSpace(query[i]) {
		i++
	}
	start := i
	for i < len(query) && isIdent(query[i], i == start) {
		i++
	}
	return query[start:i]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ','
}

func isIdent(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}
