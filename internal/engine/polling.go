package engine

import (
	"sort"
	"sync"
	"time"
)

// PollingScheduler runs at most one repeating timer per key.
//
// Starting a key that already has a timer cancels the old timer first, so
// a re-dispatched polling action never doubles the polling rate.
type PollingScheduler struct {
	mu     sync.Mutex
	timers map[string]*pollTimer
	wg     sync.WaitGroup
}

type pollTimer struct {
	interval time.Duration
	stop     chan struct{}
}

// NewPollingScheduler creates a scheduler with no timers.
func NewPollingScheduler() *PollingScheduler {
	return &PollingScheduler{timers: make(map[string]*pollTimer)}
}

// Start (re)arms the timer for key. reissue runs on the timer goroutine at
// every tick and should only enqueue work.
func (p *PollingScheduler) Start(key string, interval time.Duration, reissue func()) {
	if interval <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.timers[key]; ok {
		close(old.stop)
	}
	t := &pollTimer{interval: interval, stop: make(chan struct{})}
	p.timers[key] = t

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				reissue()
			}
		}
	}()
}

// Stop cancels the timer for key. Unknown keys are a no-op.
func (p *PollingScheduler) Stop(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.timers[key]
	if !ok {
		return false
	}
	close(t.stop)
	delete(p.timers, key)
	return true
}

// StopAll cancels every timer and waits for their goroutines to exit.
func (p *PollingScheduler) StopAll() {
	p.mu.Lock()
	for key, t := range p.timers {
		close(t.stop)
		delete(p.timers, key)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Active returns the polled keys in sorted order.
func (p *PollingScheduler) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.timers))
	for k := range p.timers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Interval returns the interval polled for key.
func (p *PollingScheduler) Interval(key string) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.timers[key]
	if !ok {
		return 0, false
	}
	return t.interval, true
}
