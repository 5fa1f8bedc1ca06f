package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

func request(method string) *envelope.Envelope {
	msg, _ := envelope.NewRequest("req_1", method, nil)
	return msg
}

type recorder struct {
	mu       sync.Mutex
	messages []*envelope.Envelope
	params   []map[string]string
}

func (rec *recorder) handler() Handler {
	return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.messages = append(rec.messages, msg)
		rec.params = append(rec.params, params)
		return nil
	}
}

func (rec *recorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.messages)
}

func TestRouteDeliversToMatchingDestination(t *testing.T) {
	r := New(logging.NopLogger{})
	rec := &recorder{}
	r.RegisterDestination("backend", rec.handler())
	require.NoError(t, r.AddRoute("tools/{name}", "backend"))

	err := r.Route(context.Background(), request("tools/list"))
	require.NoError(t, err)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "list", rec.params[0]["name"])
}

func TestRouteNoMatchIsError(t *testing.T) {
	r := New(logging.NopLogger{})
	rec := &recorder{}
	r.RegisterDestination("backend", rec.handler())
	require.NoError(t, r.AddRoute("tools/{name}", "backend"))

	err := r.Route(context.Background(), request("prompts/get"))
	require.ErrorIs(t, err, runtimeerrors.ErrNoRoute)
	assert.Zero(t, rec.count())
}

func TestRouteMissingMethodIsError(t *testing.T) {
	r := New(logging.NopLogger{})
	res, _ := envelope.NewResult("req_1", nil)

	err := r.Route(context.Background(), res)
	require.ErrorIs(t, err, runtimeerrors.ErrNoRoute)
}

func TestRouteFansOutToEveryMatchExactlyOnce(t *testing.T) {
	r := New(logging.NopLogger{})
	first := &recorder{}
	second := &recorder{}
	third := &recorder{}
	r.RegisterDestination("first", first.handler())
	r.RegisterDestination("second", second.handler())
	r.RegisterDestination("third", third.handler())

	require.NoError(t, r.AddRoute("tools/{name}", "first"))
	require.NoError(t, r.AddRoute("tools/*", "second"))
	require.NoError(t, r.AddRoute("prompts/*", "third"))

	err := r.Route(context.Background(), request("tools/call"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
	assert.Zero(t, third.count())
}

func TestRouteUnknownDestination(t *testing.T) {
	r := New(logging.NopLogger{})
	require.NoError(t, r.AddRoute("tools/*", "missing"))

	err := r.Route(context.Background(), request("tools/list"))
	require.ErrorIs(t, err, runtimeerrors.ErrDestinationNotFound)
}

func TestRouteFailingRouteDoesNotBlockOthers(t *testing.T) {
	r := New(logging.NopLogger{})
	rec := &recorder{}
	r.RegisterDestination("good", rec.handler())
	r.RegisterDestination("bad", func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
		return errors.New("backend down")
	})
	require.NoError(t, r.AddRoute("tools/*", "good"))
	require.NoError(t, r.AddRoute("tools/*", "bad"))

	err := r.Route(context.Background(), request("tools/list"))
	require.Error(t, err)
	assert.Equal(t, 1, rec.count())
}

func TestRouteTransformersRunInOrder(t *testing.T) {
	r := New(logging.NopLogger{})
	rec := &recorder{}
	r.RegisterDestination("backend", rec.handler())

	prefix := func(p string) Transformer {
		return func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error) {
			out := *msg
			out.Method = p + "/" + msg.Method
			return &out, nil
		}
	}
	require.NoError(t, r.AddRoute("tools/*", "backend",
		WithTransformers(prefix("a"), prefix("b")),
	))

	require.NoError(t, r.Route(context.Background(), request("tools/list")))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "b/a/tools/list", rec.messages[0].Method)
}

func TestRouteTransformerDoesNotLeakAcrossRoutes(t *testing.T) {
	r := New(logging.NopLogger{})
	transformed := &recorder{}
	untouched := &recorder{}
	r.RegisterDestination("transformed", transformed.handler())
	r.RegisterDestination("untouched", untouched.handler())

	rewrite := func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error) {
		out := *msg
		out.Method = "rewritten"
		return &out, nil
	}
	require.NoError(t, r.AddRoute("tools/*", "transformed", WithTransformers(rewrite)))
	require.NoError(t, r.AddRoute("tools/*", "untouched"))

	require.NoError(t, r.Route(context.Background(), request("tools/list")))

	assert.Equal(t, "rewritten", transformed.messages[0].Method)
	assert.Equal(t, "tools/list", untouched.messages[0].Method)
}

func TestMiddlewareOrderGlobalThenRoute(t *testing.T) {
	r := New(logging.NopLogger{})
	rec := &recorder{}
	r.RegisterDestination("backend", rec.handler())

	var mu sync.Mutex
	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next(ctx, msg, params)
			}
		}
	}

	r.Use(tag("global1"), tag("global2"))
	require.NoError(t, r.AddRoute("tools/*", "backend", WithMiddleware(tag("route"))))

	require.NoError(t, r.Route(context.Background(), request("tools/list")))

	assert.Equal(t, []string{"global1", "global2", "route"}, order)
	assert.Equal(t, 1, rec.count())
}

func TestMiddlewareShortCircuitSkipsHandler(t *testing.T) {
	r := New(logging.NopLogger{})
	rec := &recorder{}
	r.RegisterDestination("backend", rec.handler())

	deny := func(next Handler) Handler {
		return func(ctx context.Context, msg *envelope.Envelope, params map[string]string) error {
			return runtimeerrors.ErrAuthenticationFailed
		}
	}
	r.Use(deny)
	require.NoError(t, r.AddRoute("tools/*", "backend"))

	err := r.Route(context.Background(), request("tools/list"))
	require.ErrorIs(t, err, runtimeerrors.ErrAuthenticationFailed)
	assert.Zero(t, rec.count())
}
