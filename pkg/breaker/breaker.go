package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit short-circuits a call without
// attempting it. Callers decide their own fallback.
var ErrOpen = errors.New("breaker: circuit open")

// State is the circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config holds breaker tuning. Zero values fall back to defaults.
type Config struct {
	Timeout               time.Duration // per-call timeout
	ErrorThresholdPercent float64       // rolling error rate that trips the circuit
	ResetTimeout          time.Duration // open duration before a half-open probe
	Window                time.Duration // rolling window for the error rate
	MinRequests           int           // minimum calls in window before tripping
}

// Breaker guards a failing dependency: once the rolling error rate crosses
// the threshold it stops calling the dependency for ResetTimeout, bounding
// tail latency, then lets a single probe through.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	windowStart time.Time
	requests    int
	failures    int
	openedAt    time.Time
	probing     bool
}

// New creates a Breaker.
func New(cfg Config) *Breaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ErrorThresholdPercent <= 0 {
		cfg.ErrorThresholdPercent = 50
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 3
	}
	return &Breaker{cfg: cfg, windowStart: time.Now()}
}

// Do runs fn under the breaker's call timeout. In the open state it returns
// ErrOpen without invoking fn.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	err = fn(callCtx)
	cancel()

	b.record(probe, err)
	return err
}

// State returns the current state, applying the open -> half-open transition
// if the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = StateHalfOpen
	}
	return b.state
}

// acquire decides whether the call may proceed. The bool result marks the
// call as the half-open probe.
func (b *Breaker) acquire() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return true, nil
	case StateHalfOpen:
		if b.probing {
			return false, ErrOpen
		}
		b.probing = true
		return true, nil
	default:
		b.roll()
		b.requests++
		return false, nil
	}
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		if err != nil {
			b.trip()
			return
		}
		b.state = StateClosed
		b.reset()
		return
	}

	if b.state != StateClosed {
		return
	}
	if err != nil {
		b.failures++
		if b.requests >= b.cfg.MinRequests &&
			float64(b.failures)*100/float64(b.requests) >= b.cfg.ErrorThresholdPercent {
			b.trip()
		}
	}
}

// roll resets counters once the window has elapsed. Caller holds the lock.
func (b *Breaker) roll() {
	if time.Since(b.windowStart) > b.cfg.Window {
		b.reset()
	}
}

func (b *Breaker) reset() {
	b.windowStart = time.Now()
	b.requests = 0
	b.failures = 0
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.reset()
}
