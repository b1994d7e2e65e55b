// Package resilience stops the search server from queueing requests behind
// an embedding model or vector store that has gone away. A Breaker counts
// consecutive outages of one backend; once the count reaches its threshold,
// searches fail at once with ErrCircuitOpen until a cooldown has passed and a
// trial request gets through.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a Breaker.
type State int

const (
	StateClosed   State = iota // requests reach the backend
	StateOpen                  // requests are refused
	StateHalfOpen              // a limited number of trial requests pass
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned instead of calling a backend the breaker has
// given up on.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes a Breaker. Zero fields take the value from DefaultConfig.
type Config struct {
	// Threshold is the number of outages in a row that opens the breaker.
	Threshold int
	// Cooldown is how long an open breaker refuses requests.
	Cooldown time.Duration
	// Trials is how many requests a half-open breaker lets through.
	Trials int
	// Trips decides which errors are outages. Anything else, a rejected
	// query for instance, resets the count like a success. Nil treats every
	// error as an outage.
	Trips func(error) bool
}

// DefaultConfig matches the search server's settings.
var DefaultConfig = Config{
	Threshold: 5,
	Cooldown:  30 * time.Second,
	Trials:    1,
}

// Breaker guards one backend. It is safe for concurrent use.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	outages  int
	openedAt time.Time
	trials   int
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig.Cooldown
	}
	if cfg.Trials <= 0 {
		cfg.Trials = DefaultConfig.Trials
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// State reports the breaker's position, moving an open breaker whose
// cooldown has passed to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh()
}

// refresh must be called with mu held.
func (b *Breaker) refresh() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		b.trials = 0
	}
	return b.state
}

// Call runs f unless the breaker is open, in which case it returns
// ErrCircuitOpen without calling f. The outcome of f moves the breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.enter(); err != nil {
		return err
	}
	err := f(ctx)
	b.settle(err)
	return err
}

// Do is Call for functions that also return a value.
func Do[T any](ctx context.Context, b *Breaker, f func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = f(ctx)
		return err
	})
	return out, err
}

func (b *Breaker) enter() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.refresh() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trials >= b.cfg.Trials {
			return ErrCircuitOpen
		}
		b.trials++
	}
	return nil
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	outage := err != nil && (b.cfg.Trips == nil || b.cfg.Trips(err))
	if !outage {
		b.outages = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		return
	}

	b.outages++
	if b.state == StateHalfOpen || b.outages >= b.cfg.Threshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.outages = 0
		b.trials = 0
	}
}
