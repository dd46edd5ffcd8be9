package engine

import (
	"sync"
	"time"

	"github.com/roach88/offsync/internal/ir"
)

// StatusTracker is the sync status state machine:
//
//	idle|error --Begin--> syncing --Succeed--> idle
//	                      syncing --Fail-----> error
//
// Transitions not in the table are rejected and leave the state unchanged.
// Begin while already syncing is a no-op that reports success.
type StatusTracker struct {
	mu        sync.RWMutex
	state     ir.SyncState
	listeners []func(ir.SyncState)
}

// NewStatusTracker creates a tracker in the idle state.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{state: ir.SyncState{Status: ir.StatusIdle}}
}

// State returns a copy of the current state.
func (s *StatusTracker) State() ir.SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.LastSyncedAt != nil {
		t := *st.LastSyncedAt
		st.LastSyncedAt = &t
	}
	return st
}

// Begin moves to syncing and clears any previous error.
func (s *StatusTracker) Begin() bool {
	return s.transition(func(st *ir.SyncState) bool {
		switch st.Status {
		case ir.StatusSyncing:
			return true
		case ir.StatusIdle, ir.StatusError:
			st.Status = ir.StatusSyncing
			st.Error = ""
			return true
		}
		return false
	})
}

// Succeed moves syncing to idle and stamps lastSyncedAt.
func (s *StatusTracker) Succeed(now time.Time) bool {
	return s.transition(func(st *ir.SyncState) bool {
		if st.Status != ir.StatusSyncing {
			return false
		}
		st.Status = ir.StatusIdle
		st.LastSyncedAt = &now
		return true
	})
}

// Fail moves syncing to error with msg.
func (s *StatusTracker) Fail(msg string) bool {
	return s.transition(func(st *ir.SyncState) bool {
		if st.Status != ir.StatusSyncing {
			return false
		}
		st.Status = ir.StatusError
		st.Error = msg
		return true
	})
}

// OnChange registers fn to receive every new state.
func (s *StatusTracker) OnChange(fn func(ir.SyncState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *StatusTracker) transition(apply func(*ir.SyncState) bool) bool {
	s.mu.Lock()
	before := s.state
	next := s.state
	if !apply(&next) {
		s.mu.Unlock()
		return false
	}
	s.state = next
	listeners := append([]func(ir.SyncState){}, s.listeners...)
	s.mu.Unlock()

	if next.Status != before.Status || next.Error != before.Error || next.LastSyncedAt != before.LastSyncedAt {
		for _, fn := range listeners {
			fn(next)
		}
	}
	return true
}
