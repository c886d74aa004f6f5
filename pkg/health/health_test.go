package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func check(name string, err error) Checker {
	return NewFuncChecker(name, func(ctx context.Context) error { return err })
}

func TestCheckerRegistry(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"no checkers", nil, StatusHealthy},
		{"all healthy", []Checker{check("a", nil), check("b", nil)}, StatusHealthy},
		{"one degraded", []Checker{check("a", nil), check("b", Degraded("buffer at %d%%", 75))}, StatusDegraded},
		{"unhealthy wins", []Checker{check("a", Degraded("slow")), check("b", errors.New("down"))}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}
			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
		})
	}
}

func TestCheckResultMessages(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(check("buffer", Degraded("buffer at %d%%", 75)))
	r.Register(check("postgresql", errors.New("connection refused")))

	h := r.Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Checks["buffer"].Status)
	assert.Equal(t, "buffer at 75%", h.Checks["buffer"].Message)
	assert.Equal(t, StatusUnhealthy, h.Checks["postgresql"].Status)
	assert.Equal(t, "connection refused", h.Checks["postgresql"].Message)
	assert.Equal(t, []string{"buffer", "postgresql"}, r.Names())
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestPostgreSQLChecker(t *testing.T) {
	assert.NoError(t, NewPostgreSQLChecker(pinger{}).Check(context.Background()))

	err := NewPostgreSQLChecker(pinger{err: errors.New("refused")}).Check(context.Background())
	assert.EqualError(t, err, "postgresql ping failed: refused")
}
