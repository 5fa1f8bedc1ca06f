// Package router matches an outgoing message's method name against
// registered routes and dispatches it to named destinations. Matching is
// fan-out: every matching route receives the message, each processed
// concurrently through its own transformer list and middleware chain.
package router

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// Handler delivers a routed message to a destination. params holds the
// pattern's named captures.
type Handler func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error

// Middleware wraps a handler, continuation style: call next to proceed,
// return without calling it to short-circuit.
type Middleware func(next Handler) Handler

// Transformer rewrites a message before the middleware chain runs. It must
// return a new envelope rather than mutating its input, since other routes
// may process the same message concurrently.
type Transformer func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error)

// Route binds a compiled pattern to a destination plus its processing
// pipeline.
type Route struct {
	pattern      *regexp.Regexp
	destination  string
	transformers []Transformer
	middleware   []Middleware
}

// RouteOption customises a route at registration time.
type RouteOption func(*Route)

// WithTransformers sets the route's ordered transformer list.
func WithTransformers(transformers ...Transformer) RouteOption {
	return func(r *Route) { r.transformers = transformers }
}

// WithMiddleware sets the route's middleware, run after the global chain.
func WithMiddleware(middleware ...Middleware) RouteOption {
	return func(r *Route) { r.middleware = middleware }
}

// Router owns the route list and the destination registry. It owns no
// channels; destinations are handlers registered by the composition root.
type Router struct {
	mu           sync.RWMutex
	routes       []*Route
	destinations map[string]Handler
	middleware   []Middleware

	logger logging.ServiceLogger
}

// New creates an empty router.
func New(logger logging.ServiceLogger) *Router {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Router{
		destinations: make(map[string]Handler),
		logger:       logger,
	}
}

// Use appends global middleware, run before any route middleware.
func (r *Router) Use(middleware ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// RegisterDestination binds a name to a handler. Typically the handler
// forwards to a factory-registered channel.
func (r *Router) RegisterDestination(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destinations[name] = h
}

// AddRoute compiles a string pattern ({name} captures, * wildcard) and
// registers the route.
func (r *Router) AddRoute(pattern, destination string, opts ...RouteOption) error {
	re, err := compilePattern(pattern)
	if err != nil {
		return fmt.Errorf("router: invalid pattern %q: %w", pattern, err)
	}
	r.addCompiled(re, destination, opts...)
	return nil
}

// AddRegexpRoute registers a route whose pattern is used as-is.
func (r *Router) AddRegexpRoute(re *regexp.Regexp, destination string, opts ...RouteOption) {
	r.addCompiled(re, destination, opts...)
}

func (r *Router) addCompiled(re *regexp.Regexp, destination string, opts ...RouteOption) {
	route := &Route{pattern: re, destination: destination}
	for _, opt := range opts {
		opt(route)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

type match struct {
	route  *Route
	params map[string]string
}

// Route dispatches the message to every matching route concurrently. Zero
// matches is a no-route error. Each route runs its transformers in order,
// then the [global..., route...] middleware chain, terminating at the
// destination handler. The first failing route's error is returned; other
// routes still run to completion.
func (r *Router) Route(ctx context.Context, msg *envelope.Envelope) error {
	method := msg.Method
	if method == "" {
		return fmt.Errorf("%w: message has no method", runtimeerrors.ErrNoRoute)
	}

	r.mu.RLock()
	var matches []match
	for _, route := range r.routes {
		if params, ok := matchParams(route.pattern, method); ok {
			matches = append(matches, match{route: route, params: params})
		}
	}
	globals := make([]Middleware, len(r.middleware))
	copy(globals, r.middleware)
	r.mu.RUnlock()

	if len(matches) == 0 {
		r.logger.Debug("no route matched", logging.LogFields{"method": method})
		return fmt.Errorf("%w: %s", runtimeerrors.ErrNoRoute, method)
	}

	var g errgroup.Group
	for _, m := range matches {
		m := m
		g.Go(func() error {
			if err := r.dispatch(ctx, msg, m, globals); err != nil {
				r.logger.Error("route dispatch failed", err, logging.LogFields{
					"method":      method,
					"destination": m.route.destination,
				})
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Router) dispatch(ctx context.Context, msg *envelope.Envelope, m match, globals []Middleware) error {
	current := msg
	for _, transform := range m.route.transformers {
		next, err := transform(ctx, current)
		if err != nil {
			return fmt.Errorf("router: transformer failed: %w", err)
		}
		current = next
	}

	terminal := func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
		r.mu.RLock()
		handler, ok := r.destinations[m.route.destination]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %s", runtimeerrors.ErrDestinationNotFound, m.route.destination)
		}
		return handler(ctx, msg, params)
	}

	chain := terminal
	middleware := append(globals, m.route.middleware...)
	for i := len(middleware) - 1; i >= 0; i-- {
		chain = middleware[i](chain)
	}

	return chain(ctx, current, m.params)
}

// Destinations returns the registered destination names.
func (r *Router) Destinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.destinations))
	for name := range r.destinations {
		names = append(names, name)
	}
	return names
}

// RouteCount returns the number of registered routes.
func (r *Router) RouteCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}
