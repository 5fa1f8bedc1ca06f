// Package tracker correlates asynchronous responses back to the requests
// that caused them, by id. Each tracked request holds exactly one pending
// waiter that is resolved or rejected exactly once: by a matching response,
// a timeout, or a cancellation, whichever comes first.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/jsoncodec"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// Defaults applied to zero-valued options.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	// staleFactor: the sweep cancels entries pending longer than this many
	// default timeouts, protecting against responses that never arrive.
	staleFactor = 2
)

// Result is the terminal outcome of a tracked request.
type Result struct {
	Response *envelope.Envelope
	Err      error
}

// Waiter receives the terminal outcome of one tracked request.
type Waiter struct {
	ch chan Result
}

// Done returns a channel that yields the result exactly once.
func (w *Waiter) Done() <-chan Result {
	return w.ch
}

// Wait blocks for the result or the context.
func (w *Waiter) Wait(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case res := <-w.ch:
		return res.Response, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pendingRequest struct {
	id         string
	method     string
	createdAt  time.Time
	timeout    time.Duration
	retries    int
	maxRetries int
	timer      *time.Timer
	waiter     *Waiter
	settled    bool
}

// Metrics is a running snapshot of tracker activity.
type Metrics struct {
	Pending         int               `json:"pending"`
	Completed       uint64            `json:"completed"`
	TimedOut        uint64            `json:"timed_out"`
	Errored         uint64            `json:"errored"`
	PerMethod       map[string]uint64 `json:"per_method"`
	AvgResponseTime time.Duration     `json:"avg_response_time"`
}

// TrackOptions customise one tracked request. Zero values fall back to the
// tracker defaults.
type TrackOptions struct {
	Timeout    time.Duration
	MaxRetries int
}

// Config tunes the tracker.
type Config struct {
	DefaultTimeout time.Duration
	MaxRetries     int
	SweepInterval  time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.DefaultTimeout
	}
	return cfg
}

// Tracker owns the pending-request map. It owns no channels; sending is
// always the caller's responsibility.
type Tracker struct {
	cfg    Config
	logger logging.ServiceLogger

	mu      sync.Mutex
	pending map[string]*pendingRequest

	completed uint64
	timedOut  uint64
	errored   uint64
	perMethod map[string]uint64
	window    *responseWindow

	stopSweep chan struct{}
	sweepDone chan struct{}
	closed    bool
}

// New creates a tracker and starts its stale-entry sweep.
func New(cfg Config, logger logging.ServiceLogger) *Tracker {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	t := &Tracker{
		cfg:       cfg.withDefaults(),
		logger:    logger,
		pending:   make(map[string]*pendingRequest),
		perMethod: make(map[string]uint64),
		window:    newResponseWindow(responseWindowSize),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// TrackRequest registers a pending request for the message's id and arms its
// timeout. The message must be a Request; tracking an id twice without the
// first completing is an error.
func (t *Tracker) TrackRequest(msg *envelope.Envelope, opts TrackOptions) (*Waiter, error) {
	key := msg.IDKey()
	if key == "" {
		return nil, runtimeerrors.ErrMissingRequestID
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = t.cfg.DefaultTimeout
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = t.cfg.MaxRetries
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, runtimeerrors.ErrChannelClosed
	}
	if _, exists := t.pending[key]; exists {
		return nil, fmt.Errorf("%w: %s", runtimeerrors.ErrDuplicateRequestID, key)
	}

	entry := &pendingRequest{
		id:         key,
		method:     msg.Method,
		createdAt:  time.Now(),
		timeout:    timeout,
		maxRetries: maxRetries,
		waiter:     &Waiter{ch: make(chan Result, 1)},
	}
	entry.timer = time.AfterFunc(timeout, func() {
		t.expire(key)
	})

	t.pending[key] = entry
	t.perMethod[msg.Method]++
	return entry.waiter, nil
}

// HandleResponse resolves the pending request matching the response's id.
// It returns false, leaving tracker state unchanged, when the id is not
// ours to own (an unsolicited response).
func (t *Tracker) HandleResponse(msg *envelope.Envelope) bool {
	key := msg.IDKey()
	if key == "" {
		return false
	}

	t.mu.Lock()
	entry, ok := t.pending[key]
	if !ok {
		t.mu.Unlock()
		return false
	}

	var err error
	if msg.Error != nil {
		var data any
		if len(msg.Error.Data) > 0 {
			if decodeErr := jsoncodec.Unmarshal(msg.Error.Data, &data); decodeErr != nil {
				data = string(msg.Error.Data)
			}
		}
		err = &runtimeerrors.ProtocolError{
			Code:    msg.Error.Code,
			Message: msg.Error.Message,
			Data:    data,
		}
	}

	t.settleLocked(entry, msg, err)
	t.mu.Unlock()
	return true
}

// RetryRequest re-arms the timeout, bumps the retry counter, and re-invokes
// sendFn. A retry past maxRetries or a failing send removes the entry and
// rejects the waiter.
func (t *Tracker) RetryRequest(ctx context.Context, msg *envelope.Envelope, sendFn func(ctx context.Context, msg *envelope.Envelope) error) error {
	key := msg.IDKey()

	t.mu.Lock()
	entry, ok := t.pending[key]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", runtimeerrors.ErrRequestNotTracked, key)
	}

	if entry.retries >= entry.maxRetries {
		err := fmt.Errorf("%w: %s after %d attempts", runtimeerrors.ErrMaxRetriesExceeded, key, entry.retries)
		t.settleLocked(entry, nil, err)
		t.mu.Unlock()
		return err
	}

	entry.retries++
	entry.timer.Stop()
	// Re-arm with the timeout the request was tracked with, not the default.
	entry.timer = time.AfterFunc(entry.timeout, func() {
		t.expire(key)
	})
	retries := entry.retries
	t.mu.Unlock()

	t.logger.Debug("retrying request", logging.LogFields{"id": key, "attempt": retries})

	if err := sendFn(ctx, msg); err != nil {
		t.mu.Lock()
		if entry, ok := t.pending[key]; ok {
			t.settleLocked(entry, nil, err)
		}
		t.mu.Unlock()
		return err
	}
	return nil
}

// CancelRequest rejects one pending request with a cancellation error.
// Returns false when the id is not tracked.
func (t *Tracker) CancelRequest(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.pending[id]
	if !ok {
		return false
	}
	t.settleLocked(entry, nil, runtimeerrors.ErrRequestCancelled)
	return true
}

// CancelAllRequests rejects every pending request with a cancellation
// error, leaving the pending count at zero.
func (t *Tracker) CancelAllRequests() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.pending {
		t.settleLocked(entry, nil, runtimeerrors.ErrRequestCancelled)
	}
}

// expire handles a fired timeout.
func (t *Tracker) expire(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.pending[key]
	if !ok {
		return
	}
	t.logger.Debug("request timed out", logging.LogFields{"id": key, "method": entry.method})
	t.settleLocked(entry, nil, &runtimeerrors.ProtocolError{
		Code:    runtimeerrors.CodeInternalError,
		Message: fmt.Sprintf("request %s timed out", key),
		Err:     runtimeerrors.ErrRequestTimeout,
	})
}

// settleLocked resolves or rejects an entry exactly once and removes it.
// Callers must hold t.mu.
func (t *Tracker) settleLocked(entry *pendingRequest, resp *envelope.Envelope, err error) {
	if entry.settled {
		return
	}
	entry.settled = true
	entry.timer.Stop()
	delete(t.pending, entry.id)

	switch {
	case err == nil:
		t.completed++
		t.window.Add(time.Since(entry.createdAt))
	case isTimeout(err):
		t.timedOut++
	default:
		t.errored++
	}

	entry.waiter.ch <- Result{Response: resp, Err: err}
}

func isTimeout(err error) bool {
	return errors.Is(err, runtimeerrors.ErrRequestTimeout)
}

// sweepLoop cancels entries that have been pending longer than twice the
// default timeout, protecting against responses lost in transit.
func (t *Tracker) sweepLoop() {
	defer close(t.sweepDone)
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopSweep:
			return
		case <-ticker.C:
			t.sweepStale()
		}
	}
}

func (t *Tracker) sweepStale() {
	cutoff := time.Now().Add(-staleFactor * t.cfg.DefaultTimeout)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.pending {
		if entry.createdAt.Before(cutoff) {
			t.logger.Info("sweeping stale pending request", logging.LogFields{
				"id":     entry.id,
				"method": entry.method,
			})
			t.settleLocked(entry, nil, runtimeerrors.ErrRequestCancelled)
		}
	}
}

// PendingCount returns the number of in-flight requests.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Metrics returns a snapshot of the running counters.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	perMethod := make(map[string]uint64, len(t.perMethod))
	for method, count := range t.perMethod {
		perMethod[method] = count
	}

	return Metrics{
		Pending:         len(t.pending),
		Completed:       t.completed,
		TimedOut:        t.timedOut,
		Errored:         t.errored,
		PerMethod:       perMethod,
		AvgResponseTime: t.window.Average(),
	}
}

// Close cancels every pending request and stops the sweep. Idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, entry := range t.pending {
		t.settleLocked(entry, nil, runtimeerrors.ErrRequestCancelled)
	}
	t.mu.Unlock()

	close(t.stopSweep)
	<-t.sweepDone
}
