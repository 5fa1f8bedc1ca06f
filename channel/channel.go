// Package channel defines the uniform contract every mcpwire channel
// implements, the shared subscriber/metrics bookkeeping, and the registry
// that maps channel type tags to builders. Each concrete channel
// (subprocess, httpchan, socket, eventstream) lives in its own sub-package
// and registers itself with the registry.
package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/mcpwire/envelope"
)

// Metrics is a point-in-time snapshot of a channel's counters.
type Metrics struct {
	MessagesSent     uint64    `json:"messages_sent"`
	MessagesReceived uint64    `json:"messages_received"`
	Errors           uint64    `json:"errors"`
	ConnectedAt      time.Time `json:"connected_at"`
	LastActivity     time.Time `json:"last_activity"`
}

// Channel is one concrete communication path to a backend. Send fails when
// the channel is not connected. Close is idempotent and best-effort.
// Subscriber callbacks are invoked in registration order; they must not
// block.
type Channel interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *envelope.Envelope) error
	OnMessage(fn func(*envelope.Envelope))
	OnError(fn func(error))
	OnClose(fn func())
	IsConnected() bool
	Metrics() Metrics
	Close() error
}

// Emitter carries the subscriber lists and counters shared by every channel
// implementation. Concrete channels embed it and call the Emit/Mark methods
// from their I/O paths.
type Emitter struct {
	mu          sync.Mutex
	messageSubs []func(*envelope.Envelope)
	errorSubs   []func(error)
	closeSubs   []func()

	sent     atomic.Uint64
	received atomic.Uint64
	errors   atomic.Uint64

	timeMu       sync.Mutex
	connectedAt  time.Time
	lastActivity time.Time
}

// OnMessage registers a message subscriber.
func (e *Emitter) OnMessage(fn func(*envelope.Envelope)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messageSubs = append(e.messageSubs, fn)
}

// OnError registers an error subscriber.
func (e *Emitter) OnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorSubs = append(e.errorSubs, fn)
}

// OnClose registers a close subscriber.
func (e *Emitter) OnClose(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeSubs = append(e.closeSubs, fn)
}

// EmitMessage counts a received message and delivers it to every message
// subscriber in registration order.
func (e *Emitter) EmitMessage(msg *envelope.Envelope) {
	e.received.Add(1)
	e.Touch()

	e.mu.Lock()
	subs := make([]func(*envelope.Envelope), len(e.messageSubs))
	copy(subs, e.messageSubs)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

// EmitError counts an error and delivers it to every error subscriber.
func (e *Emitter) EmitError(err error) {
	e.errors.Add(1)

	e.mu.Lock()
	subs := make([]func(error), len(e.errorSubs))
	copy(subs, e.errorSubs)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
}

// EmitClose notifies every close subscriber.
func (e *Emitter) EmitClose() {
	e.mu.Lock()
	subs := make([]func(), len(e.closeSubs))
	copy(subs, e.closeSubs)
	e.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// MarkSent counts an outgoing message.
func (e *Emitter) MarkSent() {
	e.sent.Add(1)
	e.Touch()
}

// MarkConnected stamps the connect time.
func (e *Emitter) MarkConnected() {
	e.timeMu.Lock()
	defer e.timeMu.Unlock()
	now := time.Now()
	e.connectedAt = now
	e.lastActivity = now
}

// Touch updates the last-activity time.
func (e *Emitter) Touch() {
	e.timeMu.Lock()
	defer e.timeMu.Unlock()
	e.lastActivity = time.Now()
}

// Snapshot returns the current metrics.
func (e *Emitter) Snapshot() Metrics {
	e.timeMu.Lock()
	connectedAt := e.connectedAt
	lastActivity := e.lastActivity
	e.timeMu.Unlock()

	return Metrics{
		MessagesSent:     e.sent.Load(),
		MessagesReceived: e.received.Load(),
		Errors:           e.errors.Load(),
		ConnectedAt:      connectedAt,
		LastActivity:     lastActivity,
	}
}
