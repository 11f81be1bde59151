// Package breakers wraps sony/gobreaker behind the narrow Execute
// interface internal/upstream and internal/downstream each declare for
// their own Breaker dependency, so a peer's dead socket stops being hit on
// every scan/reconnect tick instead of hot-looping against it. Adapted
// directly from the teacher's infra/breakers/breakers.go.
package breakers

import (
	"time"

	gobreaker "github.com/sony/gobreaker"
)

// Breaker opens after repeated connect/write failures against one peer,
// forcing callers (an UpstreamWorker's send loop, a DownstreamWorker's
// reconnect loop) back off further rather than retrying immediately.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a Breaker named for the peer it guards (passed to gobreaker
// as the breaker's name). It trips after 3 consecutive
// failures, or after a 5% failure rate once at least 20 requests have been
// observed in the rolling interval.
func New(name string) *Breaker {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute runs fn, tripping the breaker on sustained failure. Satisfies
// both upstream.Breaker and downstream.Breaker structurally.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current gobreaker state name (closed,
// half-open, open). The admin HTTP /peers endpoint does not include it.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
