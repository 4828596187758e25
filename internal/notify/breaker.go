package notify

import (
	"errors"
	"sync"
	"time"
)

var errCircuitOpen = errors.New("notification circuit open")

// BreakerState is the state of a delivery circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets deliveries through and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen fails deliveries without calling the notifier.
	BreakerOpen
	// BreakerHalfOpen lets probe deliveries through after the cooldown.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops the dispatcher from hammering a notifier that keeps failing.
// It opens after threshold consecutive failures, stays open for cooldown,
// then closes again once probes succeed. It is safe for concurrent use.
type Breaker struct {
	threshold int
	probes    int
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a Breaker. probes is the number of consecutive
// half-open successes needed to close; values below 1 mean 1.
func NewBreaker(threshold, probes int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 5
	}
	if probes < 1 {
		probes = 1
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		probes:    probes,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow returns errCircuitOpen while the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.currentState() == BreakerOpen {
		return errCircuitOpen
	}
	return nil
}

// RecordSuccess records a delivered message.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.probes {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure records a failed delivery attempt.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState moves an expired open breaker to half-open. Must be called
// with mu held.
func (b *Breaker) currentState() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
	return b.state
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successes = 0
}
