package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/offsync/internal/engine"
)

// Trace event kinds. Network, queue, status, sent and failed mirror
// engine notifications; the rest are recorded by the harness itself.
const (
	EventStep     = "step"
	EventNetwork  = string(engine.NotifyNetwork)
	EventQueue    = string(engine.NotifyQueue)
	EventStatus   = string(engine.NotifyStatus)
	EventSent     = string(engine.NotifySent)
	EventFailed   = string(engine.NotifyFailed)
	EventRejected = "rejected"
	EventStale    = "stale"
	EventRestored = "restored"
)

// TraceEvent is one line of a scenario trace.
//
// Operation ids and timestamps are left out so traces are stable across
// runs; seq numbers identify operations instead.
type TraceEvent struct {
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	Subject string `json:"subject,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// String renders the event as it appears in golden files.
func (e TraceEvent) String() string {
	if e.Kind == EventStep {
		return fmt.Sprintf("step %d: %s", e.Step, e.Subject)
	}
	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(e.Kind)
	if e.Subject != "" {
		b.WriteString(" ")
		b.WriteString(e.Subject)
	}
	if e.Detail != "" {
		b.WriteString(" ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Label is the "kind subject" form used by trace assertions.
func (e TraceEvent) Label() string {
	if e.Subject == "" {
		return e.Kind
	}
	return e.Kind + " " + e.Subject
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds the step markers and engine notifications in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final client view: todos, queue kinds and status.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// TraceText renders the trace, one event per line.
func (r *Result) TraceText() string {
	var b strings.Builder
	for _, ev := range r.Trace {
		b.WriteString(ev.String())
		b.WriteString("\n")
	}
	return b.String()
}
