package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/mcpwire/envelope"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

func TestEmitterDeliversInRegistrationOrder(t *testing.T) {
	var em Emitter
	var order []int

	em.OnMessage(func(*envelope.Envelope) { order = append(order, 1) })
	em.OnMessage(func(*envelope.Envelope) { order = append(order, 2) })
	em.OnMessage(func(*envelope.Envelope) { order = append(order, 3) })

	em.EmitMessage(&envelope.Envelope{})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitterCountsActivity(t *testing.T) {
	var em Emitter

	em.MarkConnected()
	em.MarkSent()
	em.MarkSent()
	em.EmitMessage(&envelope.Envelope{})
	em.EmitError(errors.New("boom"))

	m := em.Snapshot()
	assert.Equal(t, uint64(2), m.MessagesSent)
	assert.Equal(t, uint64(1), m.MessagesReceived)
	assert.Equal(t, uint64(1), m.Errors)
	assert.False(t, m.ConnectedAt.IsZero())
	assert.False(t, m.LastActivity.Before(m.ConnectedAt))
}

func TestEmitterCloseSubscribers(t *testing.T) {
	var em Emitter
	closed := 0
	em.OnClose(func() { closed++ })
	em.OnClose(func() { closed++ })

	em.EmitClose()

	assert.Equal(t, 2, closed)
}

type stubConfig struct {
	Config
	channelType string
}

func (s stubConfig) GetChannelType() string { return s.channelType }

type stubChannel struct {
	Emitter
}

func (s *stubChannel) Connect(context.Context) error                  { return nil }
func (s *stubChannel) Send(context.Context, *envelope.Envelope) error { return nil }
func (s *stubChannel) IsConnected() bool                              { return true }
func (s *stubChannel) Metrics() Metrics                               { return s.Snapshot() }
func (s *stubChannel) Close() error                                   { return nil }

func TestRegistryBuildsByTypeTag(t *testing.T) {
	reg := NewRegistry()
	reg.Register("stub", func(ctx context.Context, cfg Config, logger logging.ServiceLogger) (Channel, error) {
		return &stubChannel{}, nil
	})

	require.True(t, reg.Has("stub"))
	assert.Contains(t, reg.Names(), "stub")

	ch, err := reg.Build(context.Background(), stubConfig{channelType: "stub"}, logging.NopLogger{})
	require.NoError(t, err)
	assert.True(t, ch.IsConnected())
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Build(context.Background(), stubConfig{channelType: "carrier-pigeon"}, logging.NopLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel type")
}

func TestRegistryRequiresConfig(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Build(context.Background(), nil, logging.NopLogger{})
	require.Error(t, err)
}
