package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/offsync/internal/devserver"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/state"
)

// AssertionContext is the final client and server view assertions run
// against.
type AssertionContext struct {
	Todos  []state.Todo
	Queue  []ir.Operation
	Status ir.SyncState
	Server []devserver.Todo
}

// State summarizes the view for Result.State.
func (c *AssertionContext) State() map[string]any {
	todos := make([]any, len(c.Todos))
	for i, t := range c.Todos {
		todos[i] = todoFields(t)
	}
	out := map[string]any{
		"todos":        todos,
		"queue":        queueKinds(c.Queue),
		"status":       string(c.Status.Status),
		"server_todos": len(c.Server),
	}
	if c.Status.Error != "" {
		out["error"] = c.Status.Error
	}
	return out
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "%s\n", event)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertTodo:
		return assertTodo(actx, a)
	case AssertQueue:
		return assertQueue(actx, a)
	case AssertStatus:
		return assertStatus(actx, a)
	case AssertServer:
		return assertServer(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func matches(ev TraceEvent, kind, subject string) bool {
	return ev.Kind == kind && (subject == "" || ev.Subject == subject)
}

// assertTraceContains checks if the trace contains an event of the given
// kind and subject.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a.Kind, a.Action) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: strings.TrimSpace(a.Kind + " " + a.Action),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if labels appear in the specified order.
// Events don't need to be consecutive (intervening events are allowed);
// each label is matched after the previous match.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	prev := -1
	for _, want := range a.Events {
		found := -1
		for i := pos; i < len(trace); i++ {
			if trace[i].Label() == want {
				found = i
				break
			}
		}
		if found < 0 {
			actual := fmt.Sprintf("missing event: %s", want)
			if prev >= 0 {
				actual = fmt.Sprintf("%s not found after line %d", want, prev+1)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   actual,
				Trace:    trace,
			}
		}
		prev = found
		pos = found + 1
	}
	return nil
}

// assertTraceCount checks if the event appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a.Kind, a.Action) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *a.Count, strings.TrimSpace(a.Kind+" "+a.Action)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTodo checks a client entity field by field (subset match).
func assertTodo(actx *AssertionContext, a Assertion) error {
	var (
		todo  state.Todo
		found bool
	)
	for _, t := range actx.Todos {
		if t.ClientID == a.ClientID {
			todo, found = t, true
			break
		}
	}

	if a.Absent {
		if found {
			return &AssertionError{
				Type:     AssertTodo,
				Expected: fmt.Sprintf("no todo with client_id %s", a.ClientID),
				Actual:   fmt.Sprintf("found %v", todoFields(todo)),
			}
		}
		return nil
	}
	if !found {
		return &AssertionError{
			Type:     AssertTodo,
			Expected: fmt.Sprintf("todo with client_id %s", a.ClientID),
			Actual:   fmt.Sprintf("not found among %d todos", len(actx.Todos)),
		}
	}

	fields := todoFields(todo)
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		got, known := fields[k]
		if !known {
			return fmt.Errorf("todo %s: unknown field %q", a.ClientID, k)
		}
		if !reflect.DeepEqual(a.Expect[k], got) {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %v, got %v", k, a.Expect[k], got))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertTodo,
			Expected: fmt.Sprintf("todo %s matching %v", a.ClientID, a.Expect),
			Actual:   strings.Join(mismatches, "; "),
		}
	}
	return nil
}

// assertQueue checks the offline queue length and kinds, front first.
func assertQueue(actx *AssertionContext, a Assertion) error {
	kinds := queueKinds(actx.Queue)
	if a.Count != nil && len(kinds) != *a.Count {
		return &AssertionError{
			Type:     AssertQueue,
			Expected: fmt.Sprintf("%d queued operations", *a.Count),
			Actual:   fmt.Sprintf("%d queued: %v", len(kinds), kinds),
		}
	}
	if a.Actions != nil && !reflect.DeepEqual(a.Actions, kinds) {
		return &AssertionError{
			Type:     AssertQueue,
			Expected: fmt.Sprintf("queue %v", a.Actions),
			Actual:   fmt.Sprintf("queue %v", kinds),
		}
	}
	return nil
}

func assertStatus(actx *AssertionContext, a Assertion) error {
	st := actx.Status
	if string(st.Status) != a.Status || (a.Error != "" && st.Error != a.Error) {
		return &AssertionError{
			Type:     AssertStatus,
			Expected: describeStatus(a.Status, a.Error),
			Actual:   describeStatus(string(st.Status), st.Error),
		}
	}
	return nil
}

func assertServer(actx *AssertionContext, a Assertion) error {
	if len(actx.Server) != *a.Count {
		return &AssertionError{
			Type:     AssertServer,
			Expected: fmt.Sprintf("%d server todos", *a.Count),
			Actual:   fmt.Sprintf("%d server todos", len(actx.Server)),
		}
	}
	return nil
}

func describeStatus(status, msg string) string {
	if msg == "" {
		return status
	}
	return fmt.Sprintf("%s (%s)", status, msg)
}

// todoFields flattens a todo into the names scenarios use.
func todoFields(t state.Todo) map[string]any {
	var serverID any
	if t.ServerID != nil {
		serverID = *t.ServerID
	}
	return map[string]any{
		"client_id": t.ClientID,
		"server_id": serverID,
		"title":     t.Title,
		"completed": t.Completed,
		"synced":    t.Synced,
	}
}

func queueKinds(queue []ir.Operation) []string {
	kinds := make([]string, len(queue))
	for i, op := range queue {
		kinds[i] = op.Kind
	}
	return kinds
}
