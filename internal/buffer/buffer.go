// Package buffer holds accepted events in memory until the batch worker
// persists them.
package buffer

import (
	"sync"
	"time"

	"eventpipe/pkg/metrics"
	"eventpipe/pkg/models"
)

const minAlloc = 64

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// MetricsSnapshot is derived on demand and never stored.
type MetricsSnapshot struct {
	TotalEnqueued        uint64       `json:"totalEnqueued"`
	TotalDropped         uint64       `json:"totalDropped"`
	CurrentSize          int          `json:"currentSize"`
	Capacity             int          `json:"capacity"`
	UtilizationPercent   float64      `json:"utilizationPercent"`
	DropRate             float64      `json:"dropRate"`
	Throughput           float64      `json:"throughput"`
	HealthStatus         HealthStatus `json:"healthStatus"`
	UptimeSeconds        float64      `json:"uptimeSeconds"`
	TimeSinceLastEnqueue *float64     `json:"timeSinceLastEnqueue,omitempty"`
	TimeSinceLastDrain   *float64     `json:"timeSinceLastDrain,omitempty"`
	StartTime            time.Time    `json:"startTime"`
}

// Buffer is a bounded FIFO backed by a ring. Enqueue and Drain never block
// on I/O and are safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	ring     []models.EnrichedEvent
	head     int
	size     int
	capacity int

	totalEnqueued uint64
	totalDropped  uint64
	lastEnqueue   time.Time
	lastDrain     time.Time
	startTime     time.Time

	now func() time.Time
}

func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{
		ring:      make([]models.EnrichedEvent, min(capacity, minAlloc)),
		capacity:  capacity,
		startTime: time.Now(),
		now:       time.Now,
	}
	metrics.SetBufferCapacity(capacity)
	return b
}

// Enqueue appends ev at the tail. It returns false and counts a drop when
// the buffer is at capacity.
func (b *Buffer) Enqueue(ev models.EnrichedEvent) bool {
	b.mu.Lock()
	if b.size >= b.capacity {
		b.totalDropped++
		b.mu.Unlock()
		return false
	}

	if b.size == len(b.ring) {
		b.resize(min(len(b.ring)*2, b.capacity))
	}
	b.ring[(b.head+b.size)%len(b.ring)] = ev
	b.size++
	b.totalEnqueued++
	b.lastEnqueue = b.now()
	size := b.size
	b.mu.Unlock()

	metrics.IncBufferEnqueued()
	metrics.SetBufferSize(size)
	return true
}

// Drain removes and returns up to maxCount of the oldest events.
func (b *Buffer) Drain(maxCount int) []models.EnrichedEvent {
	if maxCount <= 0 {
		return []models.EnrichedEvent{}
	}

	b.mu.Lock()
	n := min(maxCount, b.size)
	if n == 0 {
		b.mu.Unlock()
		return []models.EnrichedEvent{}
	}

	out := make([]models.EnrichedEvent, n)
	var zero models.EnrichedEvent
	for i := 0; i < n; i++ {
		idx := (b.head + i) % len(b.ring)
		out[i] = b.ring[idx]
		b.ring[idx] = zero
	}
	b.head = (b.head + n) % len(b.ring)
	b.size -= n
	b.lastDrain = b.now()

	if len(b.ring) > minAlloc && b.size < len(b.ring)/4 {
		b.resize(max(len(b.ring)/2, minAlloc))
	}
	size := b.size
	b.mu.Unlock()

	metrics.SetBufferSize(size)
	return out
}

// resize reallocates the ring to n slots, unrolling it so head is 0.
// Caller holds mu and guarantees n >= size.
func (b *Buffer) resize(n int) {
	next := make([]models.EnrichedEvent, n)
	for i := 0; i < b.size; i++ {
		next[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.ring = next
	b.head = 0
}

// Snapshot copies the unconsumed events in FIFO order.
func (b *Buffer) Snapshot() []models.EnrichedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.EnrichedEvent, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.ring[(b.head+i)%len(b.ring)].Clone()
	}
	return out
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size >= b.capacity
}

func (b *Buffer) allocated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

func (b *Buffer) Metrics() MetricsSnapshot {
	b.mu.Lock()
	size := b.size
	enqueued := b.totalEnqueued
	dropped := b.totalDropped
	lastEnqueue := b.lastEnqueue
	lastDrain := b.lastDrain
	now := b.now()
	b.mu.Unlock()

	m := MetricsSnapshot{
		TotalEnqueued: enqueued,
		TotalDropped:  dropped,
		CurrentSize:   size,
		Capacity:      b.capacity,
		StartTime:     b.startTime,
	}

	m.UtilizationPercent = float64(size) / float64(b.capacity) * 100
	if attempts := enqueued + dropped; attempts > 0 {
		m.DropRate = float64(dropped) / float64(attempts) * 100
	}
	m.UptimeSeconds = now.Sub(b.startTime).Seconds()
	if m.UptimeSeconds > 0 {
		m.Throughput = float64(enqueued) / m.UptimeSeconds
	}
	if !lastEnqueue.IsZero() {
		since := now.Sub(lastEnqueue).Seconds()
		m.TimeSinceLastEnqueue = &since
	}
	if !lastDrain.IsZero() {
		since := now.Sub(lastDrain).Seconds()
		m.TimeSinceLastDrain = &since
	}
	m.HealthStatus = healthOf(m.UtilizationPercent, m.DropRate)

	return m
}

func healthOf(utilization, dropRate float64) HealthStatus {
	switch {
	case utilization >= 90 || dropRate > 5:
		return HealthCritical
	case utilization >= 70 || dropRate > 1:
		return HealthWarning
	default:
		return HealthHealthy
	}
}
