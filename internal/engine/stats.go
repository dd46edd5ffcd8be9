package engine

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
)

// statsWindow is the number of recent sends the moving averages cover.
const statsWindow = 20

// SendStats summarizes recent RPC sends.
type SendStats struct {
	Sent          int64         `json:"sent"`
	Failed        int64         `json:"failed"`
	AvgLatency    time.Duration `json:"avg_latency"`
	RecentFailure float64       `json:"recent_failure_ratio"`
}

// sendMonitor keeps moving averages of send latency and failure ratio.
type sendMonitor struct {
	mu       sync.Mutex
	sent     int64
	failed   int64
	latency  *movingaverage.MovingAverage
	failures *movingaverage.MovingAverage
}

func newSendMonitor() *sendMonitor {
	return &sendMonitor{
		latency:  movingaverage.New(statsWindow),
		failures: movingaverage.New(statsWindow),
	}
}

func (m *sendMonitor) record(d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latency.Add(float64(d/time.Microsecond) / 1000.0)
	if err != nil {
		m.failed++
		m.failures.Add(1)
		return
	}
	m.sent++
	m.failures.Add(0)
}

func (m *sendMonitor) snapshot() SendStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := SendStats{Sent: m.sent, Failed: m.failed}
	if m.sent+m.failed > 0 {
		st.AvgLatency = time.Duration(m.latency.Avg() * float64(time.Millisecond))
		st.RecentFailure = m.failures.Avg()
	}
	return st
}
