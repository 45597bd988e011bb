package scheduler

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls per-feed circuit breaking.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int
	// BaseRetryInterval is how long the breaker stays open after first
	// tripping. Doubled on every failed half-open attempt.
	BaseRetryInterval time.Duration
	// MaxRetryInterval caps the doubling.
	MaxRetryInterval time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  3,
		BaseRetryInterval: 10 * time.Second,
		MaxRetryInterval:  300 * time.Second,
	}
}

// breaker suppresses polling of a persistently failing feed. While open,
// polls are skipped until the retry interval elapses; then one half-open
// attempt is allowed. Success closes the breaker, failure reopens it with
// a doubled retry interval, capped.
type breaker struct {
	mu sync.Mutex

	cfg   BreakerConfig
	state breakerState

	failures      int
	openedAt      time.Time
	retryInterval time.Duration
	backoff       *backoff.ExponentialBackOff
}

func newBreaker(cfg BreakerConfig) *breaker {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseRetryInterval
	bo.MaxInterval = cfg.MaxRetryInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &breaker{cfg: cfg, state: breakerClosed, backoff: bo}
}

// allow reports whether a poll attempt may proceed at the given time. An
// open breaker whose retry interval has elapsed transitions to half-open
// and permits exactly one attempt.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if now.Sub(b.openedAt) < b.retryInterval {
			return false
		}
		b.state = breakerHalfOpen
		return true
	default:
		return true
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
	b.openedAt = time.Time{}
	b.retryInterval = 0
	b.backoff.Reset()
}

func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	switch b.state {
	case breakerHalfOpen:
		b.open(now)
	case breakerClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.open(now)
		}
	}
}

// open trips the breaker. Each trip takes the next step of the backoff,
// doubling the retry interval up to the cap. Caller holds mu.
func (b *breaker) open(now time.Time) {
	b.state = breakerOpen
	b.openedAt = now
	b.retryInterval = b.backoff.NextBackOff()
}

// snapshot returns the state fields for diagnostics.
func (b *breaker) snapshot() (state breakerState, failures int, retry time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures, b.retryInterval
}
