package catalog

import (
	"fmt"

	"github.com/roach88/offsync/internal/ir"
)

// BuildError reports a user action that cannot be turned into a
// syncable one.
type BuildError struct {
	Action  string
	Message string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %s", e.Action, e.Message)
}

// Build returns the action with the sync keys for its operation attached.
// Variables are taken from the payload by name and type checked. Actions
// without a catalog entry are returned unchanged.
func (c *Catalog) Build(a ir.Action) (ir.Action, error) {
	spec, ok := c.ops[a.Type]
	if !ok {
		return a, nil
	}

	vars := ir.IRObject{}
	for _, v := range spec.Variables {
		val, present := a.Payload[v.Name]
		if !present || isNull(val) {
			if v.Optional {
				continue
			}
			return ir.Action{}, &BuildError{Action: a.Type, Message: fmt.Sprintf("missing variable %q", v.Name)}
		}
		if !hasType(val, v.Type) {
			return ir.Action{}, &BuildError{
				Action:  a.Type,
				Message: fmt.Sprintf("variable %q must be %s, got %T", v.Name, v.Type, val),
			}
		}
		vars[v.Name] = ir.CloneValue(val)
	}

	success := ir.Obj(ir.O("type", ir.IRString(spec.Success)))
	if len(spec.SuccessPayload) > 0 {
		success["payload"] = spec.SuccessPayload.Clone()
	}

	payload := a.Payload.Clone()
	if payload == nil {
		payload = ir.IRObject{}
	}
	payload[ir.KeySync] = ir.IRBool(true)
	payload[ir.KeyQuery] = ir.IRString(spec.Query)
	payload[ir.KeyVariables] = vars
	payload[ir.KeySuccess] = success
	if spec.Resource != "" {
		payload[ir.KeyResource] = ir.IRString(spec.Resource)
	}
	if spec.TTL > 0 && !payload.Has(ir.KeyTTL) {
		payload[ir.KeyTTL] = ir.IRInt(spec.TTL.Milliseconds())
	}
	if spec.Polling > 0 && !payload.Has(ir.KeyPolling) {
		payload[ir.KeyPolling] = ir.Obj(ir.O("interval", ir.IRInt(spec.Polling.Milliseconds())))
	}
	return ir.Action{Type: a.Type, Payload: payload}, nil
}

// Refetch returns a builder for the action that refreshes resource key,
// for use with engine.WithResource.
func (c *Catalog) Refetch(key string) (func() ir.Action, bool) {
	action, ok := c.Resources()[key]
	if !ok {
		return nil, false
	}
	return func() ir.Action {
		built, err := c.Build(ir.NewAction(action, nil))
		if err != nil {
			// Unreachable for catalogs that pass Validate (E108).
			return ir.NewAction(action, nil)
		}
		return built
	}, true
}

func isNull(v ir.IRValue) bool {
	_, null := v.(ir.IRNull)
	return v == nil || null
}

func hasType(v ir.IRValue, typ string) bool {
	switch typ {
	case "string":
		_, ok := v.(ir.IRString)
		return ok
	case "int":
		_, ok := v.(ir.IRInt)
		return ok
	case "bool":
		_, ok := v.(ir.IRBool)
		return ok
	case "array":
		_, ok := v.(ir.IRArray)
		return ok
	case "object":
		_, ok := v.(ir.IRObject)
		return ok
	}
	return false
}
