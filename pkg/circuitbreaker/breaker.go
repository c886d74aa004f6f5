package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	apperrors "eventpipe/pkg/errors"
	"eventpipe/pkg/metrics"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config defines circuit breaker configuration
type Config struct {
	Name string
	// FailureThreshold is the number of consecutive failures in CLOSED that
	// trips the breaker.
	FailureThreshold uint32
	// SuccessThreshold is the number of consecutive successes in HALF_OPEN
	// that closes it again.
	SuccessThreshold uint32
	// Timeout is how long the breaker stays OPEN before letting a trial call through.
	Timeout time.Duration
	// IsFailure classifies an error returned by the protected call. Defaults
	// to DefaultIsFailure.
	IsFailure func(err error) bool
	// IsExcluded marks errors that count as neither success nor failure.
	// Defaults to DefaultIsExcluded.
	IsExcluded    func(err error) bool
	OnStateChange func(name string, from, to State)
}

// DefaultIsFailure counts every error except permanent ones (validation,
// not found) against the breaker.
func DefaultIsFailure(err error) bool {
	return err != nil && !apperrors.IsPermanent(err)
}

// DefaultIsExcluded ignores calls the caller abandoned. A cancelled call says
// nothing about the backend, so it neither closes a half-open breaker nor
// clears the consecutive failure count.
func DefaultIsExcluded(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Metrics is a point-in-time view of the breaker.
type Metrics struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	FailureCount    uint32     `json:"failureCount"`
	SuccessCount    uint32     `json:"successCount"`
	TotalRequests   uint32     `json:"totalRequests"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
}

// Breaker is a CLOSED/OPEN/HALF_OPEN state machine around arbitrary calls.
// It is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu          sync.RWMutex
	cb          *gobreaker.CircuitBreaker[any]
	lastFailure time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.IsExcluded == nil {
		cfg.IsExcluded = DefaultIsExcluded
	}

	b := &Breaker{cfg: cfg}
	b.cb = b.newGobreaker()
	updateStateMetric(cfg.Name, StateClosed)
	return b
}

func (b *Breaker) newGobreaker() *gobreaker.CircuitBreaker[any] {
	threshold := b.cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        b.cfg.Name,
		MaxRequests: b.cfg.SuccessThreshold,
		// Zero interval keeps CLOSED counts until a success or a trip.
		Interval: 0,
		Timeout:  b.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !b.cfg.IsFailure(err)
		},
		IsExcluded: b.cfg.IsExcluded,
		OnStateChange: func(name string, from, to gobreaker.State) {
			updateStateMetric(name, fromGobreaker(to))
			if b.cfg.OnStateChange != nil {
				b.cfg.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	})
}

func (b *Breaker) current() *gobreaker.CircuitBreaker[any] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb
}

// Execute runs fn under breaker protection. A rejected call returns an
// error matching apperrors.ErrCircuitOpen and fn is not invoked; otherwise
// fn's own error is returned unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute is the typed form of Breaker.Execute.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	cb := b.current()
	state := fromGobreaker(cb.State())

	result, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRejections.WithLabelValues(b.cfg.Name).Inc()
		return zero, apperrors.ErrCircuitOpen.
			WithCause(err).
			WithDetail("breaker", b.cfg.Name)
	}

	if !b.cfg.IsExcluded(err) {
		b.record(state, b.cfg.IsFailure(err))
	}

	// fn's result is passed through even alongside an error so callers can
	// see partial outcomes.
	typed, _ := result.(T)
	return typed, err
}

func (b *Breaker) record(state State, failed bool) {
	metrics.CircuitBreakerRequests.WithLabelValues(b.cfg.Name, string(state)).Inc()
	if !failed {
		return
	}
	metrics.CircuitBreakerFailures.WithLabelValues(b.cfg.Name).Inc()

	b.mu.Lock()
	b.lastFailure = time.Now()
	b.mu.Unlock()
}

func (b *Breaker) Name() string {
	return b.cfg.Name
}

func (b *Breaker) State() State {
	return fromGobreaker(b.current().State())
}

func (b *Breaker) Metrics() Metrics {
	b.mu.RLock()
	cb := b.cb
	last := b.lastFailure
	b.mu.RUnlock()

	state := fromGobreaker(cb.State())
	counts := cb.Counts()

	m := Metrics{
		Name:          b.cfg.Name,
		State:         state,
		FailureCount:  counts.ConsecutiveFailures,
		TotalRequests: counts.Requests,
	}
	if state == StateHalfOpen {
		m.SuccessCount = counts.ConsecutiveSuccesses
	}
	if !last.IsZero() {
		m.LastFailureTime = &last
	}
	return m
}

// Reset forces the breaker back to CLOSED with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := fromGobreaker(b.cb.State())
	b.cb = b.newGobreaker()
	b.lastFailure = time.Time{}
	b.mu.Unlock()

	updateStateMetric(b.cfg.Name, StateClosed)
	if from != StateClosed && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, StateClosed)
	}
}

func updateStateMetric(name string, state State) {
	var value float64
	switch state {
	case StateHalfOpen:
		value = 1
	case StateOpen:
		value = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(value)
}
