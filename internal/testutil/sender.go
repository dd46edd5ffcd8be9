package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/offsync/internal/ir"
)

// Call is one recorded Send.
type Call struct {
	OperationID string
	Kind        string
	Query       string
	Variables   ir.IRObject
}

// ScriptedSender is an engine.Sender for tests. It records every call and
// answers from a queue of scripted failures, falling back to Respond.
//
// Safe for concurrent use.
type ScriptedSender struct {
	mu       sync.Mutex
	calls    []Call
	failures []error

	// Respond builds the result for a successful call. Nil returns an
	// empty object.
	Respond func(op ir.Operation) (ir.IRObject, error)
}

// NewScriptedSender creates a sender that succeeds with an empty result.
func NewScriptedSender() *ScriptedSender {
	return &ScriptedSender{}
}

// FailNext makes the next call fail with msg. Calls stack up in order.
func (s *ScriptedSender) FailNext(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errors.New(msg))
}

// Send implements engine.Sender.
func (s *ScriptedSender) Send(ctx context.Context, op ir.Operation) (ir.IRObject, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{
		OperationID: op.ID,
		Kind:        op.Kind,
		Query:       op.Query,
		Variables:   op.Variables.Clone(),
	})
	var fail error
	if len(s.failures) > 0 {
		fail = s.failures[0]
		s.failures = s.failures[1:]
	}
	respond := s.Respond
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fail
	}
	if respond == nil {
		return ir.IRObject{}, nil
	}
	return respond(op)
}

// Calls returns a copy of the recorded calls.
func (s *ScriptedSender) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Kinds returns the kind of every recorded call, in order.
func (s *ScriptedSender) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Kind
	}
	return out
}
