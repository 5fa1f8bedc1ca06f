package router

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

func passthrough(calls *int) Handler {
	return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
		*calls++
		return nil
	}
}

func TestRateLimitMiddlewareRejectsOverCeiling(t *testing.T) {
	calls := 0
	limited := RateLimitMiddleware(RateLimitConfig{MaxRequests: 3, Window: time.Minute})(passthrough(&calls))
	msg := request("tools/list")

	for i := 0; i < 3; i++ {
		require.NoError(t, limited(context.Background(), msg, nil))
	}

	err := limited(context.Background(), msg, nil)
	require.ErrorIs(t, err, runtimeerrors.ErrRateLimitExceeded)
	assert.Equal(t, 3, calls)
}

func TestRateLimitMiddlewareKeysByMethodAndID(t *testing.T) {
	calls := 0
	limited := RateLimitMiddleware(RateLimitConfig{MaxRequests: 1, Window: time.Minute})(passthrough(&calls))

	require.NoError(t, limited(context.Background(), request("tools/list"), nil))
	// A different method has its own window.
	require.NoError(t, limited(context.Background(), request("tools/call"), nil))

	require.ErrorIs(t,
		limited(context.Background(), request("tools/list"), nil),
		runtimeerrors.ErrRateLimitExceeded)
	assert.Equal(t, 2, calls)
}

func TestRateLimitMiddlewareWindowSlides(t *testing.T) {
	calls := 0
	limited := RateLimitMiddleware(RateLimitConfig{MaxRequests: 1, Window: 20 * time.Millisecond})(passthrough(&calls))
	msg := request("ping")

	require.NoError(t, limited(context.Background(), msg, nil))
	require.ErrorIs(t, limited(context.Background(), msg, nil), runtimeerrors.ErrRateLimitExceeded)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, limited(context.Background(), msg, nil))
}

func TestAuthMiddleware(t *testing.T) {
	calls := 0
	authed := AuthMiddleware(func(msg *envelope.Envelope) bool {
		return msg.Method != "admin/shutdown"
	})(passthrough(&calls))

	require.NoError(t, authed(context.Background(), request("tools/list"), nil))
	require.ErrorIs(t,
		authed(context.Background(), request("admin/shutdown"), nil),
		runtimeerrors.ErrAuthenticationFailed)
	assert.Equal(t, 1, calls)
}

func TestMetricsMiddlewareObservesDurations(t *testing.T) {
	reg := prometheus.NewRegistry()
	calls := 0
	measured := MetricsMiddleware(reg, "mcpwire")(passthrough(&calls))

	require.NoError(t, measured(context.Background(), request("tools/list"), nil))
	require.NoError(t, measured(context.Background(), request("tools/list"), nil))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "mcpwire_router_message_duration_seconds", families[0].GetName())
	require.Len(t, families[0].GetMetric(), 1)
	assert.Equal(t, uint64(2), families[0].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetricsMiddlewareSurvivesDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	calls := 0
	first := MetricsMiddleware(reg, "mcpwire")(passthrough(&calls))
	second := MetricsMiddleware(reg, "mcpwire")(passthrough(&calls))

	require.NoError(t, first(context.Background(), request("ping"), nil))
	require.NoError(t, second(context.Background(), request("ping"), nil))
	assert.Equal(t, 2, calls)
}

func TestTracerMiddlewarePassesThrough(t *testing.T) {
	calls := 0
	traced := TracerMiddleware()(passthrough(&calls))

	require.NoError(t, traced(context.Background(), request("tools/list"), nil))
	assert.Equal(t, 1, calls)
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	calls := 0
	logged := LoggingMiddleware(logging.NopLogger{})(passthrough(&calls))

	require.NoError(t, logged(context.Background(), request("tools/list"), nil))
	assert.Equal(t, 1, calls)
}

func TestRecovererMiddlewareTurnsPanicIntoError(t *testing.T) {
	recovered := RecovererMiddleware()(func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
		panic("handler exploded")
	})

	err := recovered(context.Background(), request("tools/list"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")
}
