package dispatcher

import (
	"sync"
	"time"
)

// DispatchMetrics tracks statistics about action dispatch.
type DispatchMetrics struct {
	CallsExecuted   int
	CallsSucceeded  int
	CallsFailed     int
	CallsRejected   int
	TotalDuration   time.Duration
	LongestCallTime time.Duration

	mu sync.Mutex // Protects metrics updates
}

func (m *DispatchMetrics) recordCall(duration time.Duration, succeeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallsExecuted++
	if succeeded {
		m.CallsSucceeded++
	} else {
		m.CallsFailed++
	}
	m.TotalDuration += duration
	if duration > m.LongestCallTime {
		m.LongestCallTime = duration
	}
}

func (m *DispatchMetrics) recordRejection() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallsRejected++
}

// Copy returns a snapshot without the mutex.
func (m *DispatchMetrics) Copy() DispatchMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return DispatchMetrics{
		CallsExecuted:   m.CallsExecuted,
		CallsSucceeded:  m.CallsSucceeded,
		CallsFailed:     m.CallsFailed,
		CallsRejected:   m.CallsRejected,
		TotalDuration:   m.TotalDuration,
		LongestCallTime: m.LongestCallTime,
	}
}
