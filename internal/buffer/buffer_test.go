package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpipe/pkg/models"
)

func event(name string) models.EnrichedEvent {
	return models.NewEventBuilder().
		WithService("svc").
		WithMessage(name).
		WithTimestamp("2024-01-15T10:30:00Z").
		Build()
}

func messages(events []models.EnrichedEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Message
	}
	return out
}

func TestBuffer_CapacityScenario(t *testing.T) {
	b := New(3)

	for _, name := range []string{"A", "B", "C"} {
		assert.True(t, b.Enqueue(event(name)))
	}
	assert.False(t, b.Enqueue(event("D")))
	assert.False(t, b.Enqueue(event("E")))

	assert.Equal(t, 3, b.Size())
	assert.True(t, b.IsFull())
	assert.EqualValues(t, 2, b.Metrics().TotalDropped)

	drained := b.Drain(2)
	assert.Equal(t, []string{"A", "B"}, messages(drained))
	assert.Equal(t, 1, b.Size())
	assert.False(t, b.IsFull())
}

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b := New(50)
	accepted := 0
	for i := 0; i < 200; i++ {
		if b.Enqueue(event(fmt.Sprint(i))) {
			accepted++
		}
		require.LessOrEqual(t, b.Size(), 50)
	}
	assert.Equal(t, 50, accepted)
	assert.Equal(t, 50, b.Size())
}

func TestBuffer_DrainEdgeCases(t *testing.T) {
	b := New(10)

	assert.Empty(t, b.Drain(5))
	b.Enqueue(event("x"))
	assert.Empty(t, b.Drain(0))
	assert.Empty(t, b.Drain(-1))
	assert.Equal(t, 1, b.Size())

	got := b.Drain(100)
	assert.Len(t, got, 1)
	assert.Equal(t, 0, b.Size())
}

func TestBuffer_FIFOAcrossWrapAndResize(t *testing.T) {
	b := New(1000)
	next := 0
	expect := 0

	for round := 0; round < 20; round++ {
		for i := 0; i < 37; i++ {
			require.True(t, b.Enqueue(event(fmt.Sprint(next))))
			next++
		}
		for _, ev := range b.Drain(23) {
			require.Equal(t, fmt.Sprint(expect), ev.Message)
			expect++
		}
	}
	for _, ev := range b.Drain(10000) {
		require.Equal(t, fmt.Sprint(expect), ev.Message)
		expect++
	}
	assert.Equal(t, next, expect)
}

func TestBuffer_ShrinksAfterDrain(t *testing.T) {
	b := New(10000)
	for i := 0; i < 4096; i++ {
		b.Enqueue(event("x"))
	}
	grown := b.allocated()
	assert.GreaterOrEqual(t, grown, 4096)

	b.Drain(4090)
	assert.Less(t, b.allocated(), grown)
	assert.Equal(t, 6, b.Size())
}

func TestBuffer_SnapshotDoesNotConsume(t *testing.T) {
	b := New(10)
	b.Enqueue(event("a"))
	b.Enqueue(event("b"))

	snap := b.Snapshot()
	assert.Equal(t, []string{"a", "b"}, messages(snap))
	assert.Equal(t, 2, b.Size())
}

func TestBuffer_ConcurrentEnqueueDrain(t *testing.T) {
	b := New(500)
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Enqueue(event(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}

	producersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(producersDone)
	}()

	seen := make(map[string]struct{})
	record := func(batch []models.EnrichedEvent) {
		for _, ev := range batch {
			_, dup := seen[ev.EventID]
			require.False(t, dup, "event %s drained twice", ev.EventID)
			seen[ev.EventID] = struct{}{}
		}
	}

	for running := true; running; {
		select {
		case <-producersDone:
			running = false
		default:
			record(b.Drain(64))
		}
	}
	record(b.Drain(1000))

	m := b.Metrics()
	assert.EqualValues(t, producers*perProducer, m.TotalEnqueued+m.TotalDropped)
	assert.Len(t, seen, int(m.TotalEnqueued))
	assert.Equal(t, 0, b.Size())
}

func TestBuffer_Metrics(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start

	b := New(100)
	b.startTime = start
	b.now = func() time.Time { return clock }

	m := b.Metrics()
	assert.Equal(t, HealthHealthy, m.HealthStatus)
	assert.Nil(t, m.TimeSinceLastEnqueue)
	assert.Nil(t, m.TimeSinceLastDrain)

	for i := 0; i < 75; i++ {
		b.Enqueue(event("x"))
	}
	clock = start.Add(10 * time.Second)

	m = b.Metrics()
	assert.InDelta(t, 75.0, m.UtilizationPercent, 0.001)
	assert.Equal(t, HealthWarning, m.HealthStatus)
	assert.InDelta(t, 7.5, m.Throughput, 0.001)
	assert.InDelta(t, 10.0, m.UptimeSeconds, 0.001)
	require.NotNil(t, m.TimeSinceLastEnqueue)
	assert.InDelta(t, 10.0, *m.TimeSinceLastEnqueue, 0.001)

	b.Drain(1)
	m = b.Metrics()
	require.NotNil(t, m.TimeSinceLastDrain)
	assert.InDelta(t, 0.0, *m.TimeSinceLastDrain, 0.001)
}

func TestHealthOf(t *testing.T) {
	tests := []struct {
		util, drop float64
		want       HealthStatus
	}{
		{0, 0, HealthHealthy},
		{69.9, 1, HealthHealthy},
		{70, 0, HealthWarning},
		{10, 1.5, HealthWarning},
		{89.9, 5, HealthWarning},
		{90, 0, HealthCritical},
		{0, 5.1, HealthCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, healthOf(tt.util, tt.drop), "util=%v drop=%v", tt.util, tt.drop)
	}
}

func TestBuffer_DropRate(t *testing.T) {
	b := New(1)
	b.Enqueue(event("a"))
	for i := 0; i < 3; i++ {
		b.Enqueue(event("b"))
	}
	m := b.Metrics()
	assert.InDelta(t, 75.0, m.DropRate, 0.001)
	assert.Equal(t, HealthCritical, m.HealthStatus)
}
