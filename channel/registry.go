package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// Builder is the function signature for creating a channel from config. Each
// channel package provides a Builder and registers it under its type tag.
type Builder func(ctx context.Context, cfg Config, logger logging.ServiceLogger) (Channel, error)

// Registry maintains a mapping of channel type tags to their builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the global channel registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new channel registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a channel builder to the registry. The name should match the
// ChannelType config value (e.g., "subprocess", "socket").
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build creates a channel using the registered builder for the config's
// channel type.
func (r *Registry) Build(ctx context.Context, cfg Config, logger logging.ServiceLogger) (Channel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	name := cfg.GetChannelType()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown channel type: %q (registered: %v)", name, r.Names())
	}

	return builder(ctx, cfg, logger)
}

// Names returns the list of registered channel type tags.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	return names
}

// Has returns true if a builder is registered for the given type tag.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a channel builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build creates a channel using the default registry.
func Build(ctx context.Context, cfg Config, logger logging.ServiceLogger) (Channel, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
