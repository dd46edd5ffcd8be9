package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/ir"
)

func TestStatusTracker_Transitions(t *testing.T) {
	s := NewStatusTracker()
	assert.Equal(t, ir.StatusIdle, s.State().Status)

	require.True(t, s.Begin())
	assert.Equal(t, ir.StatusSyncing, s.State().Status)

	require.True(t, s.Fail("boom"))
	st := s.State()
	assert.Equal(t, ir.StatusError, st.Status)
	assert.Equal(t, "boom", st.Error)

	require.True(t, s.Begin())
	assert.Empty(t, s.State().Error, "begin clears the error")

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, s.Succeed(at))
	st = s.State()
	assert.Equal(t, ir.StatusIdle, st.Status)
	require.NotNil(t, st.LastSyncedAt)
	assert.Equal(t, at, *st.LastSyncedAt)
}

func TestStatusTracker_RejectsInvalidTransitions(t *testing.T) {
	s := NewStatusTracker()
	assert.False(t, s.Succeed(time.Now()), "idle cannot succeed")
	assert.False(t, s.Fail("x"), "idle cannot fail")
	assert.Equal(t, ir.StatusIdle, s.State().Status)
	assert.Nil(t, s.State().LastSyncedAt)
}

func TestStatusTracker_BeginWhileSyncingIsNoop(t *testing.T) {
	s := NewStatusTracker()
	changes := 0
	s.OnChange(func(ir.SyncState) { changes++ })

	s.Begin()
	s.Begin()
	assert.Equal(t, 1, changes)
}

func TestStatusTracker_StateIsACopy(t *testing.T) {
	s := NewStatusTracker()
	s.Begin()
	s.Succeed(time.Unix(100, 0))

	st := s.State()
	*st.LastSyncedAt = time.Unix(0, 0)
	assert.Equal(t, time.Unix(100, 0), *s.State().LastSyncedAt)
}
