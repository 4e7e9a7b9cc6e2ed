package errors

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	// BreakerClosed admits all calls.
	BreakerClosed BreakerState = iota
	// BreakerOpen fails all calls fast until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen admits exactly one probe call.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures within Window
	// that opens the breaker.
	Threshold int

	// Window is the sliding window in which consecutive failures count.
	// Failures older than the window are forgotten.
	Window time.Duration

	// Cooldown is how long the breaker stays open before admitting a probe.
	Cooldown time.Duration
}

// DefaultBreaker is the standard breaker configuration.
var DefaultBreaker = BreakerConfig{
	Threshold: 3,
	Window:    2 * time.Minute,
	Cooldown:  30 * time.Second,
}

// Breaker is a circuit breaker for one backend.
//
// Transitions: Closed -> Open (Threshold consecutive failures within
// Window) -> HalfOpen (after Cooldown; one probe admitted) -> Closed on
// probe success, or back to Open on probe failure with a fresh cool-down.
//
// Safe for concurrent use: grouped stages may hit the same backend.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	state        BreakerState
	failures     int
	firstFailure time.Time
	openedAt     time.Time
	probing      bool

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewBreaker creates a breaker with the given configuration.
// Zero or negative fields fall back to DefaultBreaker values.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBreaker.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultBreaker.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreaker.Cooldown
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// State returns the current breaker state, accounting for cool-down expiry.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Allow reports whether a call may proceed. Returns a *BreakerOpenError
// when the breaker is open, or when it is half-open and the single probe
// slot is already taken.
func (b *Breaker) Allow(backend string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return &BreakerOpenError{
				Backend:    backend,
				RetryAfter: b.cooldownRemainingLocked(),
			}
		}
		b.probing = true
		return nil
	default: // BreakerOpen
		return &BreakerOpenError{
			Backend:    backend,
			RetryAfter: b.cooldownRemainingLocked(),
		}
	}
}

// RecordSuccess registers a successful call.
// A half-open probe success closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure registers a failed call.
// A half-open probe failure reopens the breaker and resets the cool-down.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = now
		b.probing = false
		b.failures = 0
		return
	}

	// Consecutive failures only count within the sliding window.
	if b.failures == 0 || now.Sub(b.firstFailure) > b.cfg.Window {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++

	if b.failures >= b.cfg.Threshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.failures = 0
	}
}

// refreshLocked moves Open -> HalfOpen once the cool-down has elapsed.
func (b *Breaker) refreshLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = BreakerHalfOpen
		b.probing = false
	}
}

func (b *Breaker) cooldownRemainingLocked() time.Duration {
	remaining := b.cfg.Cooldown - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BreakerSet holds one breaker per backend/model.
// Safe for concurrent use.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerSet creates a breaker set; every backend gets the same config.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for a backend, creating it on first use.
func (s *BreakerSet) For(backend string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[backend]
	if !ok {
		b = NewBreaker(s.cfg)
		s.breakers[backend] = b
	}
	return b
}
