package events

import (
	"context"
	"fmt"

	"eventpipe/internal/buffer"
	"eventpipe/pkg/circuitbreaker"
	"eventpipe/pkg/health"
)

// BufferChecker reports warning utilization as degraded and critical as unhealthy.
func BufferChecker(buf BufferInspector) health.Checker {
	return health.NewFuncChecker("buffer", func(ctx context.Context) error {
		m := buf.Metrics()
		switch m.HealthStatus {
		case buffer.HealthCritical:
			return fmt.Errorf("buffer critical: %.1f%% full, %.2f%% dropped", m.UtilizationPercent, m.DropRate)
		case buffer.HealthWarning:
			return health.Degraded("buffer under pressure: %.1f%% full, %.2f%% dropped", m.UtilizationPercent, m.DropRate)
		}
		return nil
	})
}

// BreakerChecker reports an open or probing storage breaker as degraded:
// ingestion keeps accepting events while storage recovers.
func BreakerChecker(b *circuitbreaker.Breaker) health.Checker {
	return health.NewFuncChecker("circuit_breaker", func(ctx context.Context) error {
		switch state := b.State(); state {
		case circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen:
			return health.Degraded("%s breaker is %s", b.Name(), state)
		}
		return nil
	})
}
