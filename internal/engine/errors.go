package engine

import (
	"errors"
	"fmt"
)

// ErrDrainInProgress is returned when a drain is requested while another is
// still running. The request is dropped, not queued.
var ErrDrainInProgress = errors.New("drain already in progress")

// SyncError describes a failure inside the sync pipeline.
//
// None of these escape the Run loop. They are logged and surfaced through
// SyncState or the entity's synced flag:
//   - transport failures leave the operation queued and put status in error
//   - persistence failures are logged, the engine keeps running
//   - malformed operations are rejected by Dispatch before anything is applied
type SyncError struct {
	Code        SyncErrorCode
	Message     string
	ActionType  string
	OperationID string
	Err         error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeTransport indicates the RPC send failed or the server returned errors.
	ErrCodeTransport SyncErrorCode = "TRANSPORT_FAILURE"

	// ErrCodePersistence indicates the snapshot could not be read or written.
	ErrCodePersistence SyncErrorCode = "PERSISTENCE_FAILURE"

	// ErrCodeMalformed indicates a sync-tagged action without a usable request.
	ErrCodeMalformed SyncErrorCode = "MALFORMED_OPERATION"

	// ErrCodeDrainInProgress indicates a reentrant drain request.
	ErrCodeDrainInProgress SyncErrorCode = "DRAIN_IN_PROGRESS"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.OperationID != "":
		return fmt.Sprintf("%s: %s (action=%s, op=%s)", e.Code, msg, e.ActionType, shortID(e.OperationID))
	case e.ActionType != "":
		return fmt.Sprintf("%s: %s (action=%s)", e.Code, msg, e.ActionType)
	default:
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is a transport failure.
func IsTransportError(err error) bool {
	return hasCode(err, ErrCodeTransport)
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
