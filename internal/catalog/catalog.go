package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/offsync/internal/ir"
)

//go:embed todos.cue
var defaultSource []byte

// DefaultFilename names the embedded catalog in error positions.
const DefaultFilename = "todos.cue"

// Variable is one declared operation variable.
type Variable struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// OperationSpec describes how one action type is synchronized.
type OperationSpec struct {
	Action         string        `json:"action"`
	Query          string        `json:"query"`
	Variables      []Variable    `json:"variables,omitempty"`
	Success        string        `json:"success"`
	SuccessPayload ir.IRObject   `json:"success_payload,omitempty"`
	Resource       string        `json:"resource,omitempty"`
	TTL            time.Duration `json:"ttl,omitempty"`
	Polling        time.Duration `json:"polling,omitempty"`
	Pos            token.Pos     `json:"-"`
}

// Catalog is a compiled set of operation specs keyed by action type.
type Catalog struct {
	ops map[string]*OperationSpec
}

// Default compiles the embedded todo catalog.
func Default() (*Catalog, error) {
	return Compile(defaultSource, DefaultFilename)
}

// MustDefault is Default for package initialisation; it panics on error.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load compiles the catalog file at path.
func Load(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Compile(src, path)
}

// Compile parses CUE source into a Catalog.
// Uses CUE SDK's Go API directly (not CLI subprocess).
func Compile(src []byte, filename string) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	c := &Catalog{ops: make(map[string]*OperationSpec)}

	opsVal := v.LookupPath(cue.ParsePath("operation"))
	if !opsVal.Exists() {
		return c, nil
	}

	iter, err := opsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		spec, err := CompileOperation(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		c.ops[spec.Action] = spec
	}
	return c, nil
}

// CompileOperation parses one operation entry.
func CompileOperation(action string, v cue.Value) (*OperationSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &OperationSpec{Action: action, Pos: v.Pos()}
	field := func(name string) string { return fmt.Sprintf("operation.%q.%s", action, name) }

	queryVal := v.LookupPath(cue.ParsePath("query"))
	if !queryVal.Exists() {
		return nil, &CompileError{Field: field("query"), Message: "query is required", Pos: v.Pos()}
	}
	query, err := queryVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	spec.Query = query

	successVal := v.LookupPath(cue.ParsePath("success"))
	if !successVal.Exists() {
		return nil, &CompileError{Field: field("success"), Message: "success action is required", Pos: v.Pos()}
	}
	spec.Success, err = successVal.LookupPath(cue.ParsePath("type")).String()
	if err != nil {
		return nil, &CompileError{Field: field("success.type"), Message: "success.type must be a string", Pos: successVal.Pos()}
	}
	if payloadVal := successVal.LookupPath(cue.ParsePath("payload")); payloadVal.Exists() {
		spec.SuccessPayload, err = decodeObject(payloadVal)
		if err != nil {
			return nil, &CompileError{Field: field("success.payload"), Message: err.Error(), Pos: payloadVal.Pos()}
		}
	}

	spec.Variables, err = parseVariables(action, v)
	if err != nil {
		return nil, err
	}

	if resVal := v.LookupPath(cue.ParsePath("resource")); resVal.Exists() {
		spec.Resource, err = resVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}

	spec.TTL, err = parseMillis(v, "ttl", field)
	if err != nil {
		return nil, err
	}
	spec.Polling, err = parseMillis(v, "polling", field)
	if err != nil {
		return nil, err
	}

	return spec, nil
}

// parseVariables reads the variables struct in declaration order.
func parseVariables(action string, v cue.Value) ([]Variable, error) {
	varsVal := v.LookupPath(cue.ParsePath("variables"))
	if !varsVal.Exists() {
		return nil, nil
	}

	iter, err := varsVal.Fields(cue.Optional(true))
	if err != nil {
		return nil, formatCUEError(err)
	}

	var vars []Variable
	for iter.Next() {
		typ, err := extractTypeName(iter.Value())
		if err != nil {
			if ce, ok := err.(*CompileError); ok {
				ce.Field = fmt.Sprintf("operation.%q.variables.%s", action, iter.Label())
			}
			return nil, err
		}
		vars = append(vars, Variable{
			Name:     iter.Label(),
			Type:     typ,
			Optional: iter.IsOptional(),
		})
	}
	return vars, nil
}

// parseMillis reads an optional integer millisecond field.
func parseMillis(v cue.Value, name string, field func(string) string) (time.Duration, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return 0, nil
	}
	if val.IncompleteKind() != cue.IntKind {
		return 0, &CompileError{Field: field(name), Message: "must be an integer number of milliseconds", Pos: val.Pos()}
	}
	ms, err := val.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	if ms <= 0 {
		return 0, &CompileError{Field: field(name), Message: "must be positive", Pos: val.Pos()}
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// decodeObject converts a concrete CUE struct into an IRObject.
func decodeObject(v cue.Value) (ir.IRObject, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var obj ir.IRObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// extractTypeName converts CUE type to IR type string.
// Floats are forbidden: numbers on the wire are int64.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return "string", nil
	case cue.IntKind:
		return "int", nil
	case cue.BoolKind:
		return "bool", nil
	case cue.ListKind:
		return "array", nil
	case cue.StructKind:
		return "object", nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// Get returns the spec for an action type.
func (c *Catalog) Get(action string) (*OperationSpec, bool) {
	spec, ok := c.ops[action]
	return spec, ok
}

// Actions returns the catalogued action types, sorted.
func (c *Catalog) Actions() []string {
	out := make([]string, 0, len(c.ops))
	for a := range c.ops {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of operations.
func (c *Catalog) Len() int {
	return len(c.ops)
}

// Resources returns the distinct staleness keys declared by operations,
// mapped to the action that refetches them.
func (c *Catalog) Resources() map[string]string {
	out := make(map[string]string)
	for _, a := range c.Actions() {
		spec := c.ops[a]
		key := spec.ResourceKey()
		if key == "" {
			continue
		}
		if _, dup := out[key]; !dup {
			out[key] = a
		}
	}
	return out
}

// ResourceKeys returns the keys of Resources, sorted. Engines register
// resources in this order, so the refresh on startup is stable.
func (c *Catalog) ResourceKeys() []string {
	resources := c.Resources()
	keys := make([]string, 0, len(resources))
	for key := range resources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ResourceKey returns the staleness key of the operation: the declared
// resource, else the action type when a ttl is set, else empty.
func (s *OperationSpec) ResourceKey() string {
	if s.Resource != "" {
		return s.Resource
	}
	if s.TTL > 0 {
		return s.Action
	}
	return ""
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
