// Package resilience provides a circuit breaker for calls to flaky upstream
// services. The engine wraps its LLM classifier with one so a dead model
// endpoint degrades to the keyword fallback instead of stalling every ask.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AdvisorAI/advisor-engine/pkg/fn"
)

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // passing calls through
	StateOpen                  // rejecting calls
	StateHalfOpen              // letting probe calls through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the wrapped call while the breaker
// is open.
var ErrOpen = errors.New("resilience: circuit open")

// BreakerOpts configures trip and recovery behavior.
type BreakerOpts struct {
	// FailThreshold is the consecutive-failure count that opens the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// ProbeMax caps concurrent probe calls while half-open.
	ProbeMax int
}

// DefaultBreakerOpts suits a single upstream LLM endpoint.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Cooldown:      30 * time.Second,
	ProbeMax:      1,
}

// Breaker is a mutex-guarded closed/open/half-open circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time
}

// NewBreaker builds a breaker, substituting defaults for zero options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.ProbeMax <= 0 {
		opts.ProbeMax = DefaultBreakerOpts.ProbeMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the current position, advancing open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position()
}

// position must be called with mu held.
func (b *Breaker) position() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probes = 0
	}
	return b.state
}

// admit decides whether a call may proceed. Must hold mu on entry; releases it.
func (b *Breaker) admit() error {
	defer b.mu.Unlock()
	switch b.position() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probes >= b.opts.ProbeMax {
			return ErrOpen
		}
		b.probes++
	}
	return nil
}

// settle records a call outcome. A failure in half-open, or the threshold's
// worth of consecutive failures in closed, opens the breaker.
func (b *Breaker) settle(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.probes = 0
		}
		return
	}
	if b.state == StateHalfOpen {
		b.state = StateClosed
	}
	b.failures = 0
}

// Do executes f through the breaker.
func (b *Breaker) Do(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.settle(err != nil)
	return err
}

// DoResult is the fn.Result form of Do.
func DoResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	b.mu.Lock()
	if err := b.admit(); err != nil {
		return fn.Err[T](err)
	}
	res := f(ctx)
	b.settle(res.IsErr())
	return res
}

// Guard wraps a pipeline stage with breaker protection.
func Guard[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return DoResult(b, ctx, func(ctx context.Context) fn.Result[Out] {
			return stage(ctx, in)
		})
	}
}
