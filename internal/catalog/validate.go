package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation error codes (E100-E199)
const (
	ErrQueryEmpty         = "E101" // query document is blank
	ErrSuccessEmpty       = "E102" // success action type is blank
	ErrUndeclaredVariable = "E103" // query references a variable not declared
	ErrUnusedVariable     = "E104" // declared variable never referenced
	ErrSuccessLoops       = "E105" // success action is itself catalogued
	ErrPollingNoResource  = "E106" // polled operation has no staleness key
	ErrDuplicateResource  = "E107" // two operations refetch the same resource
	ErrRefetchVariables   = "E108" // refetch operation needs required variables
)

// ValidationError represents a catalog validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var queryVariablePattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// Validate checks a compiled catalog for semantic problems.
// Returns all errors found (does not fail-fast), ordered by action.
func Validate(c *Catalog) []ValidationError {
	var errs []ValidationError
	resources := make(map[string]string)

	for _, action := range c.Actions() {
		spec := c.ops[action]
		errs = append(errs, validateOperation(c, spec)...)

		key := spec.ResourceKey()
		if key == "" {
			continue
		}
		if owner, dup := resources[key]; dup {
			errs = append(errs, ValidationError{
				Field:   field(action, "resource"),
				Message: fmt.Sprintf("resource %q is already refetched by %q", key, owner),
				Code:    ErrDuplicateResource,
				Line:    spec.Pos.Line(),
			})
			continue
		}
		resources[key] = action
	}
	return errs
}

func validateOperation(c *Catalog, spec *OperationSpec) []ValidationError {
	var errs []ValidationError
	line := spec.Pos.Line()

	if strings.TrimSpace(spec.Query) == "" {
		errs = append(errs, ValidationError{
			Field:   field(spec.Action, "query"),
			Message: "query must be non-empty",
			Code:    ErrQueryEmpty,
			Line:    line,
		})
	}
	if strings.TrimSpace(spec.Success) == "" {
		errs = append(errs, ValidationError{
			Field:   field(spec.Action, "success.type"),
			Message: "success action type must be non-empty",
			Code:    ErrSuccessEmpty,
			Line:    line,
		})
	}
	if _, loops := c.ops[spec.Success]; loops {
		errs = append(errs, ValidationError{
			Field:   field(spec.Action, "success.type"),
			Message: fmt.Sprintf("success action %q is itself a synchronized operation", spec.Success),
			Code:    ErrSuccessLoops,
			Line:    line,
		})
	}
	if spec.Polling > 0 && spec.ResourceKey() == "" {
		errs = append(errs, ValidationError{
			Field:   field(spec.Action, "polling"),
			Message: "polled operations need a resource or ttl",
			Code:    ErrPollingNoResource,
			Line:    line,
		})
	}

	if spec.ResourceKey() != "" {
		for _, v := range spec.Variables {
			if !v.Optional {
				errs = append(errs, ValidationError{
					Field:   field(spec.Action, "variables."+v.Name),
					Message: "operations that refetch a resource cannot take required variables",
					Code:    ErrRefetchVariables,
					Line:    line,
				})
			}
		}
	}

	declared := make(map[string]bool, len(spec.Variables))
	for _, v := range spec.Variables {
		declared[v.Name] = true
	}
	used := make(map[string]bool)
	for _, m := range queryVariablePattern.FindAllStringSubmatch(spec.Query, -1) {
		name := m[1]
		if used[name] {
			continue
		}
		used[name] = true
		if !declared[name] {
			errs = append(errs, ValidationError{
				Field:   field(spec.Action, "query"),
				Message: fmt.Sprintf("query references undeclared variable $%s", name),
				Code:    ErrUndeclaredVariable,
				Line:    line,
			})
		}
	}
	for _, v := range spec.Variables {
		if !used[v.Name] {
			errs = append(errs, ValidationError{
				Field:   field(spec.Action, "variables."+v.Name),
				Message: fmt.Sprintf("variable %q is never referenced by the query", v.Name),
				Code:    ErrUnusedVariable,
				Line:    line,
			})
		}
	}
	return errs
}

func field(action, name string) string {
	return fmt.Sprintf("operation.%q.%s", action, name)
}
