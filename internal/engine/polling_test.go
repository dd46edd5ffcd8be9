package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollingScheduler_Ticks(t *testing.T) {
	p := NewPollingScheduler()
	defer p.StopAll()

	var ticks atomic.Int32
	p.Start("todos/fetchTodos", 5*time.Millisecond, func() { ticks.Add(1) })

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestPollingScheduler_RestartReplacesTimer(t *testing.T) {
	p := NewPollingScheduler()
	defer p.StopAll()

	var first, second atomic.Int32
	p.Start("k", time.Hour, func() { first.Add(1) })
	p.Start("k", 5*time.Millisecond, func() { second.Add(1) })

	assert.Equal(t, []string{"k"}, p.Active())
	interval, ok := p.Interval("k")
	require.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, interval)

	require.Eventually(t, func() bool { return second.Load() >= 1 }, time.Second, time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestPollingScheduler_Stop(t *testing.T) {
	p := NewPollingScheduler()

	var ticks atomic.Int32
	p.Start("k", 2*time.Millisecond, func() { ticks.Add(1) })
	require.Eventually(t, func() bool { return ticks.Load() >= 1 }, time.Second, time.Millisecond)

	assert.True(t, p.Stop("k"))
	assert.False(t, p.Stop("k"), "unknown key is a no-op")
	assert.Empty(t, p.Active())

	p.StopAll()
	after := ticks.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}

func TestPollingScheduler_IgnoresNonPositiveInterval(t *testing.T) {
	p := NewPollingScheduler()
	p.Start("k", 0, func() {})
	assert.Empty(t, p.Active())
}
