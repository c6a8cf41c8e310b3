package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"edge-proxy-go/internal/config"
	"edge-proxy-go/internal/metrics"
	"edge-proxy-go/internal/route"
)

// ErrBreakerOpen is returned when a route's circuit breaker rejects a call.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breakers holds one circuit breaker per route. The set of breakers is fixed
// at construction, so lookups need no locking.
type Breakers struct {
	byRoute map[string]*gobreaker.TwoStepCircuitBreaker
}

// NewBreakers creates a breaker for every route in table, or an empty set
// that passes every call through when breakers are disabled.
func NewBreakers(cfg config.CircuitBreakerConfig, table *route.Table, logger *slog.Logger, m *metrics.Metrics) *Breakers {
	b := &Breakers{byRoute: make(map[string]*gobreaker.TwoStepCircuitBreaker)}
	if !cfg.Enabled || table == nil {
		return b
	}

	threshold := safeUint32(cfg.FailureThreshold)
	for _, prefix := range table.Prefixes() {
		if m != nil {
			m.BreakerState.WithLabelValues(prefix).Set(float64(gobreaker.StateClosed))
		}
		b.byRoute[prefix] = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:        prefix,
			MaxRequests: 1,
			Timeout:     time.Duration(cfg.OpenSeconds) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					"route", name,
					"from", from.String(),
					"to", to.String(),
				)
				if m != nil {
					m.BreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		})
	}
	return b
}

// Execute runs fn under the breaker of the given route. Calls whose ctx was
// canceled by the client say nothing about the backend: they are not
// counted, except that a canceled half-open trial reopens the breaker so a
// new trial is made after the open period.
func (b *Breakers) Execute(ctx context.Context, prefix string, fn func() (*http.Response, error)) (*http.Response, error) {
	cb, ok := b.byRoute[prefix]
	if !ok || errors.Is(ctx.Err(), context.Canceled) {
		return fn()
	}

	done, err := cb.Allow()
	if err != nil {
		return nil, fmt.Errorf("%w for route %s: %w", ErrBreakerOpen, prefix, err)
	}

	resp, err := fn()
	switch {
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		// Allow admitted this call as the only half-open trial; leaving it
		// unreported would block the breaker in half-open.
		if cb.State() == gobreaker.StateHalfOpen {
			done(false)
		}
	default:
		done(err == nil)
	}
	return resp, err
}

// State returns the breaker state of a route; routes without a breaker are
// always closed.
func (b *Breakers) State(prefix string) gobreaker.State {
	if cb, ok := b.byRoute[prefix]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func safeUint32(n int) uint32 {
	if n < 1 {
		return 1
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
