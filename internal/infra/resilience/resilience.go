// Package resilience provides fault-tolerance patterns for the upstream
// wallet API: circuit breaker, request pacing, cooperative backoff sleep and
// a single-flight gate.
package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
// Errors for which countsAsSuccess returns true do not move the breaker
// towards open (a rejected token is not an outage).
func NewCircuitBreaker(name string, countsAsSuccess func(error) bool) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    60 * time.Second, // closed: reset counters every 60s
		Timeout:     30 * time.Second, // open -> half-open after 30s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return countsAsSuccess != nil && countsAsSuccess(err)
		},
	})
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer spaces outgoing requests. A nil Pacer never waits.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows rps requests per second with a burst of one.
// rps <= 0 returns nil (unlimited).
func NewPacer(rps float64) *Pacer {
	if rps <= 0 {
		return nil
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the next request may be sent or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Gate admits at most one holder at a time. Callers that find it taken are
// turned away instead of queued.
type Gate struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// NewGate creates an open gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// TryEnter takes the gate if it is free.
func (g *Gate) TryEnter() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.held.Store(true)
	return true
}

// Leave frees the gate.
func (g *Gate) Leave() {
	g.held.Store(false)
	g.sem.Release(1)
}

// Busy reports whether the gate is currently held.
func (g *Gate) Busy() bool {
	return g.held.Load()
}
