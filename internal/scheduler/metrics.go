package scheduler

import (
	"sync"
	"time"
)

// Metrics is a snapshot of one device's dispatch counters.
type Metrics struct {
	Dispatched    uint64
	Failed        uint64
	Retried       uint64
	RateDropped   uint64
	Coalesced     uint64
	OutboxDropped uint64
	PingFailures  uint64
	LastLatency   time.Duration
	LastDispatch  time.Time
}

// deviceMetrics is the mutable counter set owned by a worker.
type deviceMetrics struct {
	mu sync.Mutex
	m  Metrics
}

func (d *deviceMetrics) update(fn func(*Metrics)) {
	d.mu.Lock()
	fn(&d.m)
	d.mu.Unlock()
}

func (d *deviceMetrics) snapshot() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.m
}
