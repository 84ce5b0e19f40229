// Package breaker implements the circuit breaker state machine shared by
// the Job Scheduler (per-site, spec §4.6) and the Classification Pipeline
// (per-classifier, spec §4.5.3/§7 ClassifierError).
package breaker

import (
	"sync"
	"time"

	"siteguard/internal/clock"
)

// State is the breaker's current position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config tunes breaker behavior. Zero values fall back to the defaults
// named in spec §4.6.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultConfig matches spec §4.6's defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second}
}

// Breaker is a single circuit breaker instance. One Breaker guards one
// failure domain (one site, or one sub-classifier) — no cross-domain
// sharing, per spec §5.
type Breaker struct {
	mu   sync.Mutex
	cfg  Config
	clk  clock.Clock
	state State

	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// New creates a breaker in the Closed state.
func New(cfg Config, clk clock.Clock) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{cfg: cfg, clk: clk, state: Closed}
}

// Allow reports whether a call may proceed right now. When the breaker is
// Open and the recovery timeout has elapsed, it transitions to HalfOpen and
// allows exactly one probe through; subsequent calls are blocked until that
// probe reports its outcome via RecordSuccess/RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clk.Now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case HalfOpen:
		// Only the probe that triggered the half-open transition proceeds;
		// everyone else waits for its outcome.
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.probeInFlight = false
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is reached (or immediately, if the failing call was the
// half-open probe).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.open()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = Open
	b.openedAt = b.clk.Now()
	b.probeInFlight = false
}

// CurrentState returns the current breaker state without side effects (does not
// perform the Open->HalfOpen transition that Allow does).
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset forces the breaker back to Closed, e.g. on operator resume.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.probeInFlight = false
}
