package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/devserver"
)

// Scenario is a scripted client session with assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is an optional operation catalog path, relative to the
	// scenario file. Empty uses the embedded default catalog.
	Catalog string `yaml:"catalog,omitempty"`

	// DefaultTTL is the freshness window for resources without their own,
	// as a Go duration. Empty uses the engine default.
	DefaultTTL string `yaml:"default_ttl,omitempty"`

	// Server seeds the backend's todo list.
	Server []devserver.Todo `yaml:"server,omitempty"`

	// Steps run in order; each is followed by a flush of the engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted event. Exactly one field is set.
type Step struct {
	Ready    bool           `yaml:"ready,omitempty"`
	Network  string         `yaml:"network,omitempty"`
	Dispatch string         `yaml:"dispatch,omitempty"`
	Payload  map[string]any `yaml:"payload,omitempty"`
	Fail     *FailStep      `yaml:"fail,omitempty"`
	Advance  string         `yaml:"advance,omitempty"`
	Refresh  string         `yaml:"refresh,omitempty"`
	Stale    string         `yaml:"stale,omitempty"`
	Drain    bool           `yaml:"drain,omitempty"`
	Restart  bool           `yaml:"restart,omitempty"`
}

// FailStep makes a server call fail. After skips that many successful
// calls first.
type FailStep struct {
	Message string `yaml:"message"`
	After   int    `yaml:"after,omitempty"`
}

// Step kinds, as returned by Step.Kind.
const (
	StepReady    = "ready"
	StepNetwork  = "network"
	StepDispatch = "dispatch"
	StepFail     = "fail"
	StepAdvance  = "advance"
	StepRefresh  = "refresh"
	StepStale    = "stale"
	StepDrain    = "drain"
	StepRestart  = "restart"
)

// Kind returns the kinds of the fields that are set.
func (s Step) Kind() []string {
	var kinds []string
	if s.Ready {
		kinds = append(kinds, StepReady)
	}
	if s.Network != "" {
		kinds = append(kinds, StepNetwork)
	}
	if s.Dispatch != "" {
		kinds = append(kinds, StepDispatch)
	}
	if s.Fail != nil {
		kinds = append(kinds, StepFail)
	}
	if s.Advance != "" {
		kinds = append(kinds, StepAdvance)
	}
	if s.Refresh != "" {
		kinds = append(kinds, StepRefresh)
	}
	if s.Stale != "" {
		kinds = append(kinds, StepStale)
	}
	if s.Drain {
		kinds = append(kinds, StepDrain)
	}
	if s.Restart {
		kinds = append(kinds, StepRestart)
	}
	return kinds
}

// String describes the step in the trace.
func (s Step) String() string {
	switch {
	case s.Ready:
		return "ready"
	case s.Network != "":
		return s.Network
	case s.Dispatch != "":
		return "dispatch " + s.Dispatch
	case s.Fail != nil:
		if s.Fail.After > 0 {
			return fmt.Sprintf("fail %q after=%d", s.Fail.Message, s.Fail.After)
		}
		return fmt.Sprintf("fail %q", s.Fail.Message)
	case s.Advance != "":
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return "advance " + s.Advance
		}
		return "advance " + d.String()
	case s.Refresh != "":
		return "refresh " + s.Refresh
	case s.Stale != "":
		return "stale " + s.Stale
	case s.Drain:
		return "drain"
	case s.Restart:
		return "restart"
	}
	return "empty"
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind is the trace event kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Action is the event subject, usually an action type (trace_contains,
	// trace_count). Empty matches any subject.
	Action string `yaml:"action,omitempty"`

	// Events is the expected order of "kind subject" labels (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count, queue,
	// server).
	Count *int `yaml:"count,omitempty"`

	// Actions are the expected queued operation kinds, front first (queue).
	Actions []string `yaml:"actions,omitempty"`

	// ClientID selects the entity (todo).
	ClientID string `yaml:"client_id,omitempty"`

	// Expect contains expected entity fields, subset match (todo).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the entity does not exist (todo).
	Absent bool `yaml:"absent,omitempty"`

	// Status is the expected sync status (status).
	Status string `yaml:"status,omitempty"`

	// Error is the expected sync error message (status).
	Error string `yaml:"error,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertTodo          = "todo"
	AssertQueue         = "queue"
	AssertStatus        = "status"
	AssertServer        = "server"
)

// LoadScenario reads and parses a scenario YAML file. A relative catalog
// path is resolved against the scenario's directory.
//
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(filepath.Dir(path), scenario.Catalog)
	}
	if scenario.Catalog != "" {
		if _, err := os.Stat(scenario.Catalog); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: catalog file not found: %s", scenario.Catalog)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.DefaultTTL != "" {
		if d, err := time.ParseDuration(s.DefaultTTL); err != nil || d <= 0 {
			return fmt.Errorf("default_ttl must be a positive duration, got %q", s.DefaultTTL)
		}
	}

	for i, todo := range s.Server {
		if todo.ID == "" {
			return fmt.Errorf("server[%d]: id is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	kinds := s.Kind()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("steps[%d]: one of %s is required", index, strings.Join(allStepKinds, ", "))
	case 1:
	default:
		return fmt.Errorf("steps[%d]: only one of %s may be set", index, strings.Join(kinds, ", "))
	}

	if s.Payload != nil && s.Dispatch == "" {
		return fmt.Errorf("steps[%d]: payload requires dispatch", index)
	}

	switch kinds[0] {
	case StepNetwork:
		if s.Network != "online" && s.Network != "offline" {
			return fmt.Errorf("steps[%d]: network must be online or offline, got %q", index, s.Network)
		}
	case StepFail:
		if s.Fail.Message == "" {
			return fmt.Errorf("steps[%d]: fail.message is required", index)
		}
		if s.Fail.After < 0 {
			return fmt.Errorf("steps[%d]: fail.after must be non-negative", index)
		}
	case StepAdvance:
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
	}
	return nil
}

var allStepKinds = []string{
	StepReady, StepNetwork, StepDispatch, StepFail, StepAdvance,
	StepRefresh, StepStale, StepDrain, StepRestart,
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTodo:
		if a.ClientID == "" {
			return fmt.Errorf("assertions[%d]: client_id is required for todo", index)
		}
		if a.Absent && len(a.Expect) > 0 {
			return fmt.Errorf("assertions[%d]: absent and expect are exclusive", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for todo", index)
		}
	case AssertQueue:
		if a.Count == nil && a.Actions == nil {
			return fmt.Errorf("assertions[%d]: count or actions is required for queue", index)
		}
	case AssertStatus:
		switch a.Status {
		case "idle", "syncing", "error":
		default:
			return fmt.Errorf("assertions[%d]: status must be idle, syncing or error, got %q", index, a.Status)
		}
	case AssertServer:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for server", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
