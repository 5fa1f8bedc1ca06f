// Package reconnect implements the exponential backoff-with-jitter policy
// used by the socket and event-stream channels. The engine is pure policy:
// it knows nothing about channel types, only how to pace invocations of a
// supplied reconnect function.
package reconnect

import (
	"math/rand"
	"sync"
	"time"

	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultMaxAttempts   = 5
	DefaultInitialDelay  = time.Second
	DefaultMaxDelay      = 30 * time.Second
	DefaultBackoffFactor = 2.0

	// jitterFraction is the maximum additive jitter: up to +25% of the
	// computed delay, to avoid synchronized retry storms.
	jitterFraction = 0.25
)

// Config tunes the backoff policy.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter adds up to 25% random variance to each delay.
	Jitter bool
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = DefaultBackoffFactor
	}
	return cfg
}

// Callbacks notify the owner about reconnection outcomes. Any field may be
// nil.
type Callbacks struct {
	OnReconnected func()
	OnFailed      func(attempt int, err error)
	OnMaxAttempts func()
}

// Engine schedules reconnect attempts with exponentially growing, capped,
// jittered delays. Safe for concurrent use; Reset and Stop may be called at
// any time, including from inside a scheduled callback.
type Engine struct {
	cfg    Config
	cb     Callbacks
	logger logging.ServiceLogger

	mu           sync.Mutex
	attempts     int
	reconnecting bool
	timer        *time.Timer
}

// New creates an engine with defaults applied to zero config values.
func New(cfg Config, cb Callbacks, logger logging.ServiceLogger) *Engine {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Engine{cfg: cfg.withDefaults(), cb: cb, logger: logger}
}

// Delay returns the backoff delay for the given 1-based attempt number:
// min(maxDelay, initialDelay * factor^(attempt-1)), plus up to 25% jitter
// when enabled.
func (e *Engine) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(e.cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= e.cfg.BackoffFactor
		if delay >= float64(e.cfg.MaxDelay) {
			delay = float64(e.cfg.MaxDelay)
			break
		}
	}
	if delay > float64(e.cfg.MaxDelay) {
		delay = float64(e.cfg.MaxDelay)
	}
	if e.cfg.Jitter {
		delay += rand.Float64() * jitterFraction * delay
	}
	return time.Duration(delay)
}

// Schedule arms a reconnect attempt. It is a no-op when an attempt is
// already in flight; once the attempt budget is spent it fires OnMaxAttempts
// instead. A successful fn resets the attempt counter to zero; a failure
// reports OnFailed and recursively schedules the next attempt.
func (e *Engine) Schedule(fn func() error) {
	e.mu.Lock()
	if e.reconnecting {
		e.mu.Unlock()
		return
	}
	if e.attempts >= e.cfg.MaxAttempts {
		e.mu.Unlock()
		e.logger.Error("reconnection attempts exhausted", nil, logging.LogFields{
			"max_attempts": e.cfg.MaxAttempts,
		})
		if e.cb.OnMaxAttempts != nil {
			e.cb.OnMaxAttempts()
		}
		return
	}

	e.reconnecting = true
	e.attempts++
	attempt := e.attempts
	delay := e.Delay(attempt)

	e.logger.Debug("scheduling reconnect", logging.LogFields{
		"attempt": attempt,
		"delay":   delay.String(),
	})

	e.timer = time.AfterFunc(delay, func() {
		err := fn()

		e.mu.Lock()
		e.reconnecting = false
		if err == nil {
			e.attempts = 0
		}
		e.mu.Unlock()

		if err == nil {
			if e.cb.OnReconnected != nil {
				e.cb.OnReconnected()
			}
			return
		}

		e.logger.Error("reconnect attempt failed", err, logging.LogFields{"attempt": attempt})
		if e.cb.OnFailed != nil {
			e.cb.OnFailed(attempt, err)
		}
		e.Schedule(fn)
	})
	e.mu.Unlock()
}

// Reset clears any pending timer and zeroes the attempt counter.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimerLocked()
	e.attempts = 0
	e.reconnecting = false
}

// Stop clears any pending timer and the reconnecting flag without touching
// the attempt counter.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimerLocked()
	e.reconnecting = false
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Attempts returns the number of attempts made since the last success or
// reset.
func (e *Engine) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// IsReconnecting reports whether an attempt is currently scheduled or
// running.
func (e *Engine) IsReconnecting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconnecting
}
