// Package factory is the composition root of mcpwire. It turns a validated
// configuration into a running transport instance, wrapping the channel in a
// subprocess pool or an HTTP session manager when configured, and tracks
// every instance through its lifecycle states.
package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	"github.com/drblury/mcpwire/internal/runtime/config"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/ids"
	"github.com/drblury/mcpwire/internal/runtime/logging"
	"github.com/drblury/mcpwire/internal/runtime/pool"
	"github.com/drblury/mcpwire/internal/runtime/session"

	// Channel packages register their builders on import.
	_ "github.com/drblury/mcpwire/channel/eventstream"
	_ "github.com/drblury/mcpwire/channel/httpchan"
	_ "github.com/drblury/mcpwire/channel/socket"
	_ "github.com/drblury/mcpwire/channel/subprocess"
)

// DefaultSweepInterval is how often the factory reconciles instance status
// with the underlying channel state.
const DefaultSweepInterval = 30 * time.Second

// Status is the lifecycle state of a transport instance.
type Status string

const (
	StatusCreated    Status = "created"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Instance is one running transport: a channel plus its optional pool or
// session manager, under a stable id.
type Instance struct {
	ID        string
	Type      string
	Name      string
	CreatedAt time.Time

	ch       channel.Channel
	pool     *pool.Pool
	sessions *session.Manager

	mu       sync.Mutex
	status   Status
	removing bool
}

// Status returns the instance's current lifecycle state.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status == StatusClosed {
		return
	}
	i.status = s
}

// Send sends a message through the instance's channel.
func (i *Instance) Send(ctx context.Context, msg *envelope.Envelope) error {
	return i.ch.Send(ctx, msg)
}

// Channel returns the instance's channel. For pooled or session-managed
// instances this is the wrapping adapter, not a raw channel.
func (i *Instance) Channel() channel.Channel { return i.ch }

// Pool returns the owned subprocess pool, or nil.
func (i *Instance) Pool() *pool.Pool { return i.pool }

// Sessions returns the owned session manager, or nil.
func (i *Instance) Sessions() *session.Manager { return i.sessions }

// Metrics returns the instance's channel metrics.
func (i *Instance) Metrics() channel.Metrics { return i.ch.Metrics() }

// InstanceStats is a point-in-time view of one instance.
type InstanceStats struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Channel   channel.Metrics `json:"channel"`
	Pool      *pool.Stats     `json:"pool,omitempty"`
	Sessions  int             `json:"sessions,omitempty"`
}

// Stats aggregates the factory's instances.
type Stats struct {
	Total     int             `json:"total"`
	ByStatus  map[Status]int  `json:"by_status"`
	Instances []InstanceStats `json:"instances"`
}

// Option customises a Factory.
type Option func(*Factory)

// WithRegistry overrides the channel registry, mainly for tests.
func WithRegistry(r *channel.Registry) Option {
	return func(f *Factory) { f.registry = r }
}

// WithRegisterer sets the prometheus registerer for the instance gauge.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(f *Factory) { f.registerer = reg }
}

// WithSweepInterval overrides the status reconciliation interval.
func WithSweepInterval(d time.Duration) Option {
	return func(f *Factory) { f.sweepInterval = d }
}

// Factory creates and owns transport instances. It doubles as the lookup
// table the router resolves destinations against.
type Factory struct {
	registry      *channel.Registry
	logger        logging.ServiceLogger
	registerer    prometheus.Registerer
	sweepInterval time.Duration

	instanceGauge *prometheus.GaugeVec

	mu        sync.Mutex
	instances map[string]*Instance
	closed    bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New creates a factory and starts its status sweep.
func New(logger logging.ServiceLogger, opts ...Option) *Factory {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	f := &Factory{
		registry:      channel.DefaultRegistry,
		logger:        logger,
		registerer:    prometheus.DefaultRegisterer,
		sweepInterval: DefaultSweepInterval,
		instances:     make(map[string]*Instance),
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.instanceGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mcpwire",
		Name:      "transport_instances",
		Help:      "Number of transport instances owned by the factory.",
	}, []string{"channel_type"})
	if f.registerer != nil {
		if err := f.registerer.Register(f.instanceGauge); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				f.instanceGauge = already.ExistingCollector.(*prometheus.GaugeVec)
			} else {
				f.logger.Error("registering instance gauge failed", err, nil)
			}
		}
	}

	go f.sweepLoop()
	return f
}

// Create validates the config, builds the channel (wrapped in a pool or
// session manager when configured), connects it, and registers the instance.
func (f *Factory) Create(ctx context.Context, cfg *config.Config) (*Instance, error) {
	if err := runtimeerrors.NewConfigValidationError(cfg.Validate()); err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, runtimeerrors.ErrChannelClosed
	}
	f.mu.Unlock()

	inst := &Instance{
		ID:        ids.NewInstanceID(),
		Type:      cfg.ChannelType,
		Name:      cfg.Name,
		CreatedAt: time.Now(),
		status:    StatusCreated,
	}

	log := f.logger.With(logging.LogFields{
		"instance": inst.ID,
		"type":     inst.Type,
	})

	switch {
	case cfg.Pool != nil:
		p := pool.New(*cfg.Pool, f.poolBuilder(cfg, log), log)
		inst.pool = p
		inst.ch = &poolChannel{pool: p}
	case cfg.Session != nil:
		m := session.New(*cfg.Session, func(ctx context.Context) (channel.Channel, error) {
			return f.registry.Build(ctx, cfg, log)
		}, log)
		inst.sessions = m
		inst.ch = &sessionChannel{manager: m}
	default:
		ch, err := f.registry.Build(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		inst.ch = ch
	}

	inst.ch.OnClose(func() {
		inst.mu.Lock()
		removing := inst.removing
		inst.mu.Unlock()
		if !removing {
			inst.setStatus(StatusClosed)
		}
	})
	inst.ch.OnError(func(err error) {
		if inst.Status() == StatusConnected && !inst.ch.IsConnected() {
			inst.setStatus(StatusError)
		}
	})

	inst.setStatus(StatusConnecting)
	if err := inst.ch.Connect(ctx); err != nil {
		inst.setStatus(StatusError)
		f.closeOwned(inst)
		return nil, err
	}
	inst.setStatus(StatusConnected)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.closeOwned(inst)
		return nil, runtimeerrors.ErrChannelClosed
	}
	f.instances[inst.ID] = inst
	f.mu.Unlock()

	f.instanceGauge.WithLabelValues(inst.Type).Inc()
	log.Info("transport instance created", nil)
	return inst, nil
}

// poolBuilder returns a slot builder that clones the config per slot so each
// container gets a unique name.
func (f *Factory) poolBuilder(cfg *config.Config, log logging.ServiceLogger) pool.Builder {
	return func(ctx context.Context, slotID string) (channel.Channel, error) {
		slotCfg := *cfg
		if slotCfg.ContainerName != "" {
			slotCfg.ContainerName = fmt.Sprintf("%s-%s", slotCfg.ContainerName, slotID)
		}
		return f.registry.Build(ctx, &slotCfg, log.With(logging.LogFields{"slot": slotID}))
	}
}

// Get returns the instance with the given id.
func (f *Factory) Get(id string) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", runtimeerrors.ErrInstanceNotFound, id)
	}
	return inst, nil
}

// Destination returns a send function bound to the instance, shaped for
// registration as a router destination. The instance is looked up on every
// call so a removed instance fails rather than sending into a closed channel.
func (f *Factory) Destination(id string) func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
	return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
		inst, err := f.Get(id)
		if err != nil {
			return err
		}
		return inst.Send(ctx, msg)
	}
}

// List returns all instances.
func (f *Factory) List() []*Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Instance, 0, len(f.instances))
	for _, inst := range f.instances {
		out = append(out, inst)
	}
	return out
}

// Remove closes an instance and forgets it. The owned pool or session
// manager shuts down with the channel.
func (f *Factory) Remove(id string) error {
	f.mu.Lock()
	inst, ok := f.instances[id]
	delete(f.instances, id)
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", runtimeerrors.ErrInstanceNotFound, id)
	}

	inst.mu.Lock()
	inst.removing = true
	inst.mu.Unlock()

	f.closeOwned(inst)
	inst.setStatus(StatusClosed)
	f.instanceGauge.WithLabelValues(inst.Type).Dec()
	f.logger.Info("transport instance removed", logging.LogFields{"instance": id})
	return nil
}

// closeOwned closes the channel; the pool and session adapters close their
// owned manager through the channel's Close.
func (f *Factory) closeOwned(inst *Instance) {
	if err := inst.ch.Close(); err != nil {
		f.logger.Error("closing instance channel failed", err, logging.LogFields{
			"instance": inst.ID,
		})
	}
}

// Stats aggregates instance state and metrics across the factory.
func (f *Factory) Stats() Stats {
	instances := f.List()

	stats := Stats{
		Total:     len(instances),
		ByStatus:  make(map[Status]int),
		Instances: make([]InstanceStats, 0, len(instances)),
	}
	for _, inst := range instances {
		status := inst.Status()
		stats.ByStatus[status]++

		entry := InstanceStats{
			ID:        inst.ID,
			Type:      inst.Type,
			Name:      inst.Name,
			Status:    status,
			CreatedAt: inst.CreatedAt,
			Channel:   inst.Metrics(),
		}
		if inst.pool != nil {
			poolStats := inst.pool.Stats()
			entry.Pool = &poolStats
		}
		if inst.sessions != nil {
			entry.Sessions = inst.sessions.Count()
		}
		stats.Instances = append(stats.Instances, entry)
	}
	return stats
}

func (f *Factory) sweepLoop() {
	defer close(f.sweepDone)
	ticker := time.NewTicker(f.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopSweep:
			return
		case <-ticker.C:
			f.sweepStatus()
		}
	}
}

// sweepStatus reconciles each instance's status with the channel's actual
// connection state, catching transitions the callbacks missed.
func (f *Factory) sweepStatus() {
	for _, inst := range f.List() {
		status := inst.Status()
		connected := inst.ch.IsConnected()
		switch {
		case connected && (status == StatusConnecting || status == StatusError):
			inst.setStatus(StatusConnected)
		case !connected && status == StatusConnected:
			f.logger.Info("instance lost its connection", logging.LogFields{
				"instance": inst.ID,
			})
			inst.setStatus(StatusError)
		}
	}
}

// Shutdown stops the status sweep and closes every instance. Idempotent.
func (f *Factory) Shutdown() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	instances := make([]*Instance, 0, len(f.instances))
	for _, inst := range f.instances {
		instances = append(instances, inst)
	}
	f.instances = make(map[string]*Instance)
	f.mu.Unlock()

	close(f.stopSweep)
	<-f.sweepDone

	for _, inst := range instances {
		inst.mu.Lock()
		inst.removing = true
		inst.mu.Unlock()
		f.closeOwned(inst)
		inst.setStatus(StatusClosed)
		f.instanceGauge.WithLabelValues(inst.Type).Dec()
	}
	f.logger.Info("factory shut down", logging.LogFields{"instances": len(instances)})
	return nil
}
