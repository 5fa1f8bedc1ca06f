// Package pool manages a set of homogeneous subprocess channels, load
// balancing sends round-robin across the active slots, health-checking them
// periodically, and restarting failed slots when configured to.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	"github.com/drblury/mcpwire/internal/runtime/config"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/ids"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// DefaultHealthCheckInterval is used when the config leaves it zero.
const DefaultHealthCheckInterval = 30 * time.Second

// Builder creates a fresh channel for a pool slot. The pool owns the
// returned channel.
type Builder func(ctx context.Context, slotID string) (channel.Channel, error)

// Stats is a point-in-time view of the pool.
type Stats struct {
	ActiveInstances int `json:"active_instances"`
	TotalInstances  int `json:"total_instances"`
}

type slot struct {
	id     string
	ch     channel.Channel
	active bool
	// removing marks a slot the pool itself is tearing down, so the
	// channel's own close callback does not re-enter the failure path.
	removing bool
}

// Pool owns N subprocess channels and presents them as one send target.
// Messages and errors from every slot fan in through the embedded Emitter,
// so the pool itself satisfies the subscriber side of the channel contract.
type Pool struct {
	channel.Emitter

	cfg        config.PoolConfig
	newChannel Builder
	logger     logging.ServiceLogger

	mu      sync.Mutex
	slots   []*slot
	next    int
	started bool
	closed  bool

	stopHealth chan struct{}
	healthDone chan struct{}
}

// New creates a pool. Call Start before sending.
func New(cfg config.PoolConfig, builder Builder, logger logging.ServiceLogger) *Pool {
	if cfg.MinInstances <= 0 {
		cfg.MinInstances = 1
	}
	if cfg.HealthCheckInterval.Std() <= 0 {
		cfg.HealthCheckInterval = config.Duration(DefaultHealthCheckInterval)
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Pool{cfg: cfg, newChannel: builder, logger: logger}
}

// Start creates the minimum number of slots sequentially and launches the
// periodic health check. Calling Start on a started pool is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.cfg.MinInstances; i++ {
		if err := p.addSlot(ctx, ids.NewSlotID()); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.stopHealth = make(chan struct{})
	p.healthDone = make(chan struct{})
	stop, done := p.stopHealth, p.healthDone
	p.mu.Unlock()

	go p.healthLoop(stop, done)
	return nil
}

func (p *Pool) addSlot(ctx context.Context, slotID string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return runtimeerrors.ErrChannelClosed
	}
	if p.cfg.MaxInstances > 0 && len(p.activeLocked()) >= p.cfg.MaxInstances {
		p.mu.Unlock()
		return runtimeerrors.ErrNoActiveInstances
	}
	p.mu.Unlock()

	ch, err := p.newChannel(ctx, slotID)
	if err != nil {
		return err
	}
	if err := ch.Connect(ctx); err != nil {
		_ = ch.Close()
		return err
	}

	s := &slot{id: slotID, ch: ch, active: true}

	ch.OnMessage(p.EmitMessage)

	// Channel-reported failures feed the same remove-and-restart path as
	// a failed send, outside the health tick.
	ch.OnError(func(err error) {
		p.logger.Error("pool slot reported an error", err, logging.LogFields{"slot": slotID})
		p.EmitError(err)
	})
	ch.OnClose(func() {
		p.handleSlotFailure(slotID)
	})

	p.mu.Lock()
	p.slots = append(p.slots, s)
	p.mu.Unlock()

	p.logger.Info("pool slot started", logging.LogFields{"slot": slotID})
	return nil
}

// Send picks the next active slot round-robin. When the chosen slot fails,
// it is marked failed and the send is retried once against a different
// member of the refreshed active set; with no other active slot the
// original error propagates.
func (p *Pool) Send(ctx context.Context, msg *envelope.Envelope) error {
	target := p.nextActive(nil)
	if target == nil {
		return runtimeerrors.ErrNoActiveInstances
	}

	err := target.ch.Send(ctx, msg)
	if err == nil {
		return nil
	}

	p.logger.Error("pool send failed, failing over", err, logging.LogFields{"slot": target.id})
	p.failSlot(target.id)

	retry := p.nextActive(target)
	if retry == nil {
		return err
	}

	retryErr := retry.ch.Send(ctx, msg)
	if retryErr != nil {
		p.failSlot(retry.id)
		return retryErr
	}
	return nil
}

// nextActive returns the next slot in round-robin order among the currently
// active slots, skipping the excluded one.
func (p *Pool) nextActive(exclude *slot) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := p.activeLocked()
	if exclude != nil {
		filtered := active[:0:0]
		for _, s := range active {
			if s != exclude {
				filtered = append(filtered, s)
			}
		}
		active = filtered
	}
	if len(active) == 0 {
		return nil
	}

	s := active[p.next%len(active)]
	p.next++
	return s
}

func (p *Pool) activeLocked() []*slot {
	active := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		if s.active {
			active = append(active, s)
		}
	}
	return active
}

// failSlot removes the slot from the active set, closes it, and schedules a
// same-id restart when configured.
func (p *Pool) failSlot(slotID string) {
	p.mu.Lock()
	var failed *slot
	for _, s := range p.slots {
		if s.id == slotID && s.active {
			failed = s
			break
		}
	}
	if failed == nil {
		p.mu.Unlock()
		return
	}
	failed.active = false
	failed.removing = true
	restart := p.cfg.RestartOnFailure && !p.closed
	p.mu.Unlock()

	_ = failed.ch.Close()
	p.removeSlot(slotID)

	if restart {
		go p.restartSlot(slotID)
	}
}

// handleSlotFailure reacts to a channel-initiated close.
func (p *Pool) handleSlotFailure(slotID string) {
	p.mu.Lock()
	for _, s := range p.slots {
		if s.id == slotID && s.removing {
			// The pool closed this slot itself.
			p.mu.Unlock()
			return
		}
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}
	p.logger.Info("pool slot closed unexpectedly", logging.LogFields{"slot": slotID})
	p.failSlot(slotID)
}

func (p *Pool) removeSlot(slotID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.slots {
		if s.id == slotID {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			return
		}
	}
}

func (p *Pool) restartSlot(slotID string) {
	p.logger.Info("restarting pool slot", logging.LogFields{"slot": slotID})
	if err := p.addSlot(context.Background(), slotID); err != nil {
		p.logger.Error("pool slot restart failed", err, logging.LogFields{"slot": slotID})
	}
}

func (p *Pool) healthLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.HealthCheckInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.healthCheck()
		}
	}
}

// healthCheck drops disconnected slots and tops the active set back up to
// the configured minimum with fresh ids, all within one sweep.
func (p *Pool) healthCheck() {
	p.mu.Lock()
	snapshot := make([]*slot, len(p.slots))
	copy(snapshot, p.slots)
	p.mu.Unlock()

	for _, s := range snapshot {
		if !s.ch.IsConnected() {
			p.logger.Info("pool slot failed health check", logging.LogFields{"slot": s.id})
			p.mu.Lock()
			s.active = false
			s.removing = true
			p.mu.Unlock()
			_ = s.ch.Close()
			p.removeSlot(s.id)
		}
	}

	for {
		p.mu.Lock()
		deficit := p.cfg.MinInstances - len(p.activeLocked())
		closed := p.closed
		p.mu.Unlock()
		if closed || deficit <= 0 {
			return
		}
		if err := p.addSlot(context.Background(), ids.NewSlotID()); err != nil {
			p.logger.Error("pool top-up failed", err, nil)
			return
		}
	}
}

// Stats returns active and total slot counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ActiveInstances: len(p.activeLocked()),
		TotalInstances:  len(p.slots),
	}
}

// ActiveIDs returns the ids of the currently active slots.
func (p *Pool) ActiveIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.slots))
	for _, s := range p.slots {
		if s.active {
			out = append(out, s.id)
		}
	}
	return out
}

// Close stops the health check and closes every slot. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stop := p.stopHealth
	done := p.healthDone
	slots := make([]*slot, len(p.slots))
	copy(slots, p.slots)
	for _, s := range p.slots {
		s.active = false
		s.removing = true
	}
	p.slots = nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	for _, s := range slots {
		_ = s.ch.Close()
	}
	return nil
}
