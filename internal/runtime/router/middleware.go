package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// RateLimitConfig tunes the sliding-window rate limiter.
type RateLimitConfig struct {
	// MaxRequests is the ceiling per window. Defaults to 100.
	MaxRequests int
	// Window is the sliding window size. Defaults to one second.
	Window time.Duration
}

func (cfg RateLimitConfig) withDefaults() RateLimitConfig {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return cfg
}

// RateLimitMiddleware rejects a message once the request count within the
// sliding window, keyed by method plus id, exceeds the ceiling.
func RateLimitMiddleware(cfg RateLimitConfig) Middleware {
	cfg = cfg.withDefaults()

	var mu sync.Mutex
	hits := make(map[string][]time.Time)

	return func(next Handler) Handler {
		return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
			key := msg.Method + "|" + msg.IDKey()
			now := time.Now()
			cutoff := now.Add(-cfg.Window)

			mu.Lock()
			window := hits[key]
			kept := window[:0]
			for _, t := range window {
				if t.After(cutoff) {
					kept = append(kept, t)
				}
			}
			if len(kept) >= cfg.MaxRequests {
				hits[key] = kept
				mu.Unlock()
				return fmt.Errorf("%w: %s", runtimeerrors.ErrRateLimitExceeded, key)
			}
			hits[key] = append(kept, now)
			mu.Unlock()

			return next(ctx, msg, params)
		}
	}
}

// AuthMiddleware rejects messages the supplied predicate does not approve.
func AuthMiddleware(approve func(msg *envelope.Envelope) bool) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
			if !approve(msg) {
				return runtimeerrors.ErrAuthenticationFailed
			}
			return next(ctx, msg, params)
		}
	}
}

// MetricsMiddleware measures wall-clock duration around the remaining chain
// and reports it to a Prometheus histogram keyed by method.
func MetricsMiddleware(reg prometheus.Registerer, namespace string) Middleware {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "message_duration_seconds",
		Help:      "Wall-clock time spent routing a message, by method.",
	}, []string{"method"})

	if err := reg.Register(hist); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			hist = already.ExistingCollector.(*prometheus.HistogramVec)
		}
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
			start := time.Now()
			err := next(ctx, msg, params)
			hist.WithLabelValues(msg.Method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// TracerMiddleware wraps the remaining chain in an OpenTelemetry span.
func TracerMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
			tracer := otel.Tracer("mcpwire-router")
			ctx, span := tracer.Start(ctx, "RouteMessage")
			defer span.End()

			span.SetAttributes(
				attribute.String("message.method", msg.Method),
				attribute.String("message.kind", msg.Kind().String()),
			)
			if key := msg.IDKey(); key != "" {
				span.SetAttributes(attribute.String("message.id", key))
			}

			err := next(ctx, msg, params)
			if err != nil {
				span.RecordError(err)
			}
			return err
		}
	}
}

// LoggingMiddleware logs every routed message at debug level.
func LoggingMiddleware(logger logging.ServiceLogger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
			logger.Debug("routing message", logging.LogFields{
				"method": msg.Method,
				"kind":   msg.Kind().String(),
				"id":     msg.IDKey(),
			})
			return next(ctx, msg, params)
		}
	}
}

// RecovererMiddleware converts panics in the remaining chain into errors so
// one misbehaving destination cannot take the router down.
func RecovererMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("router: handler panicked: %v", r)
				}
			}()
			return next(ctx, msg, params)
		}
	}
}
