// Package resilience protects the enhancement pipeline from hammering a
// failing inference backend.
//
// The central type is [Breaker], a three-state circuit breaker
// (closed → open → half-open). When the backend fails repeatedly the breaker
// opens and rejects calls immediately with [ErrEngineUnavailable], giving the
// backend room to recover; after a cooldown a small number of probe calls
// decide whether it closes again.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrEngineUnavailable is returned by [Breaker.Execute] when the breaker is
// open and the cooldown has not yet elapsed. Callers should treat it like a
// transient backend failure.
var ErrEngineUnavailable = errors.New("inference backend unavailable (breaker open)")

// State is the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal state. All calls go through to the backend.
	StateClosed State = iota

	// StateOpen rejects calls immediately after too many consecutive
	// failures, until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through after the
	// cooldown. Success closes the breaker; any failure re-opens it.
	StateHalfOpen
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

// Config holds tuning knobs for a [Breaker].
type Config struct {
	// Engine labels the guarded backend in log messages.
	Engine string

	// MaxFailures is the number of consecutive failures in the closed
	// state before the breaker opens. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before letting probe
	// calls through. Default: 15s.
	Cooldown time.Duration

	// HalfOpenMax is the number of probe calls allowed while half-open.
	// Default: 2.
	HalfOpenMax int
}

// Breaker guards calls to one inference backend.
type Breaker struct {
	engine      string
	maxFailures int
	cooldown    time.Duration
	halfOpenMax int

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// New creates a [Breaker]. Zero-value config fields get defaults.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 2
	}
	return &Breaker{
		engine:      cfg.Engine,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		halfOpenMax: cfg.HalfOpenMax,
		state:       StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrEngineUnavailable] without calling fn. Context cancellation reported by
// fn does not count against the backend; the breaker only trips on real
// failures.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = StateHalfOpen
			b.halfOpenCalls = 0
			b.halfOpenFails = 0
			slog.Info("breaker transitioning to half-open", "engine", b.engine)
		} else {
			b.mu.Unlock()
			return ErrEngineUnavailable
		}

	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMax {
			// Probe budget already spent.
			b.mu.Unlock()
			return ErrEngineUnavailable
		}
	}

	inHalfOpen := b.state == StateHalfOpen
	if inHalfOpen {
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		// The caller gave up; says nothing about backend health.
	case err != nil:
		b.recordFailure(inHalfOpen)
	default:
		b.recordSuccess(inHalfOpen)
	}
	return err
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(inHalfOpen bool) {
	b.lastFailure = time.Now()

	if inHalfOpen {
		b.halfOpenFails++
		// Any failure while probing re-opens immediately.
		b.state = StateOpen
		b.consecutiveFail = b.maxFailures
		slog.Warn("breaker re-opened from half-open", "engine", b.engine)
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.maxFailures {
		b.state = StateOpen
		slog.Warn("breaker opened",
			"engine", b.engine,
			"consecutive_failures", b.consecutiveFail)
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(inHalfOpen bool) {
	if inHalfOpen {
		successes := b.halfOpenCalls - b.halfOpenFails
		if successes >= b.halfOpenMax {
			b.state = StateClosed
			b.consecutiveFail = 0
			b.halfOpenCalls = 0
			b.halfOpenFails = 0
			slog.Info("breaker closed after successful probes", "engine", b.engine)
		}
		return
	}
	b.consecutiveFail = 0
}

// State returns the breaker's current [State]. An open breaker whose
// cooldown has elapsed reports [StateHalfOpen]; the actual transition happens
// on the next [Execute] call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailure) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFail = 0
	b.halfOpenCalls = 0
	b.halfOpenFails = 0
}
