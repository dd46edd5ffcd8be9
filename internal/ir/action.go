package ir

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Payload keys recognized on syncable actions.
const (
	KeySync      = "sync"
	KeyQuery     = "query"
	KeyVariables = "variables"
	KeySuccess   = "success"
	KeyPolling   = "polling"
	KeyTTL       = "ttl"
	KeyResource  = "resource"
	KeyClientID  = "clientId"
)

// Engine-level action types. They reach reducers like any other action.
const (
	// ActionStopPolling cancels the polling timer keyed by payload.actionType.
	ActionStopPolling = "polling/stop"

	// ActionClearQueue drops every queued operation.
	ActionClearQueue = "queue/clear"

	// SetTTLSuffix ends the type of an action that sets a resource's
	// freshness window, e.g. "todos/setTTL" with payload.ttl in ms.
	SetTTLSuffix = "/setTTL"
)

// ErrMalformedSync marks a syncable action whose request cannot be built.
var ErrMalformedSync = errors.New("malformed sync request")

// Action is a state-change request with a type tag and a payload.
type Action struct {
	Type    string   `json:"type"`
	Payload IRObject `json:"payload,omitempty"`
}

// NewAction builds an Action. A nil payload becomes an empty object.
func NewAction(typ string, payload IRObject) Action {
	if payload == nil {
		payload = IRObject{}
	}
	return Action{Type: typ, Payload: payload}
}

// IsSync reports whether the action is tagged for synchronization.
func (a Action) IsSync() bool {
	v, _ := a.Payload.Bool(KeySync)
	return v
}

// WithoutPolling returns a copy whose payload has no polling directive.
// Polling timers re-dispatch this form so a tick never re-arms itself.
func (a Action) WithoutPolling() Action {
	return Action{Type: a.Type, Payload: a.Payload.Without(KeyPolling)}
}

// StopPolling builds the action that cancels polling for actionType.
func StopPolling(actionType string) Action {
	return NewAction(ActionStopPolling, Obj(O("actionType", IRString(actionType))))
}

// ClearQueue builds the action that empties the offline queue.
func ClearQueue() Action {
	return NewAction(ActionClearQueue, nil)
}

// ParseTTLOverride recognizes a "<resource>/setTTL" action and returns the
// resource and its new TTL. payload.resource, when set, names the resource
// instead of the type prefix. A missing or non-positive ttl is not an
// override.
func ParseTTLOverride(a Action) (string, time.Duration, bool) {
	resource, found := strings.CutSuffix(a.Type, SetTTLSuffix)
	if !found || resource == "" {
		return "", 0, false
	}
	ms, ok := a.Payload.Int(KeyTTL)
	if !ok || ms <= 0 {
		return "", 0, false
	}
	if res, ok := a.Payload.String(KeyResource); ok && res != "" {
		resource = res
	}
	return resource, time.Duration(ms) * time.Millisecond, true
}

// ActionTemplate is an action to apply once the server confirms an operation.
type ActionTemplate struct {
	Type    string   `json:"type"`
	Payload IRObject `json:"payload,omitempty"`
}

// Resolve merges the template payload with the server result. Result keys win.
// When the result carries no clientId the one from variables is copied over,
// so reducers can correlate the confirmation with the optimistic entity.
func (t ActionTemplate) Resolve(result, variables IRObject) Action {
	payload := t.Payload.Merge(result)
	if !payload.Has(KeyClientID) {
		if cid, ok := variables.String(KeyClientID); ok {
			payload[KeyClientID] = IRString(cid)
		}
	}
	return Action{Type: t.Type, Payload: payload}
}

// Polling asks for the action to be re-dispatched on a fixed interval.
type Polling struct {
	Interval time.Duration
}

// SyncRequest is the synchronization part of a syncable action's payload.
type SyncRequest struct {
	Query     string
	Variables IRObject
	Success   ActionTemplate
	Polling   *Polling
	TTL       time.Duration
	Resource  string
}

// ParseSyncRequest extracts the sync request from an action.
//
// ok is false when the action is not tagged sync: true; such actions only
// reach reducers. A tagged action with a missing query or success type, or
// with wrongly typed fields, returns an error wrapping ErrMalformedSync.
//
// ttl and polling.interval are integer milliseconds. When ttl is present
// without a resource, the action type is used as the staleness key.
func ParseSyncRequest(a Action) (SyncRequest, bool, error) {
	if !a.IsSync() {
		return SyncRequest{}, false, nil
	}
	p := a.Payload
	var req SyncRequest

	query, ok := p.String(KeyQuery)
	if !ok || query == "" {
		return SyncRequest{}, true, malformed(a.Type, "query is required")
	}
	req.Query = query

	req.Variables = IRObject{}
	if p.Has(KeyVariables) {
		vars, ok := p.Object(KeyVariables)
		if !ok {
			return SyncRequest{}, true, malformed(a.Type, "variables must be an object")
		}
		req.Variables = vars
	}

	success, ok := p.Object(KeySuccess)
	if !ok {
		return SyncRequest{}, true, malformed(a.Type, "success template is required")
	}
	successType, ok := success.String("type")
	if !ok || successType == "" {
		return SyncRequest{}, true, malformed(a.Type, "success.type is required")
	}
	req.Success = ActionTemplate{Type: successType, Payload: IRObject{}}
	if success.Has("payload") {
		tp, ok := success.Object("payload")
		if !ok {
			return SyncRequest{}, true, malformed(a.Type, "success.payload must be an object")
		}
		req.Success.Payload = tp
	}

	if p.Has(KeyPolling) {
		polling, ok := p.Object(KeyPolling)
		if !ok {
			return SyncRequest{}, true, malformed(a.Type, "polling must be an object")
		}
		ms, ok := polling.Int("interval")
		if !ok || ms <= 0 {
			return SyncRequest{}, true, malformed(a.Type, "polling.interval must be a positive integer")
		}
		req.Polling = &Polling{Interval: time.Duration(ms) * time.Millisecond}
	}

	if p.Has(KeyTTL) {
		ms, ok := p.Int(KeyTTL)
		if !ok || ms <= 0 {
			return SyncRequest{}, true, malformed(a.Type, "ttl must be a positive integer")
		}
		req.TTL = time.Duration(ms) * time.Millisecond
	}

	if p.Has(KeyResource) {
		res, ok := p.String(KeyResource)
		if !ok {
			return SyncRequest{}, true, malformed(a.Type, "resource must be a string")
		}
		req.Resource = res
	}
	if req.Resource == "" && req.TTL > 0 {
		req.Resource = a.Type
	}

	return req, true, nil
}

func malformed(actionType, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedSync, actionType, msg)
}
