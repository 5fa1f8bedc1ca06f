package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	"github.com/drblury/mcpwire/internal/runtime/config"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

type fakeChannel struct {
	channel.Emitter

	mu        sync.Mutex
	connected bool
	connects  int
	sendErr   error
	failOnce  bool
	sent      int
	closed    bool
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.connects++
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, msg *envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOnce {
		f.failOnce = false
		f.connected = false
		return errors.New("connection reset")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent++
	return nil
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && !f.closed
}

func (f *fakeChannel) Metrics() channel.Metrics { return f.Snapshot() }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

type channelFarm struct {
	mu    sync.Mutex
	built []*fakeChannel
}

func (farm *channelFarm) builder() Builder {
	return func(ctx context.Context) (channel.Channel, error) {
		farm.mu.Lock()
		defer farm.mu.Unlock()
		ch := &fakeChannel{}
		farm.built = append(farm.built, ch)
		return ch, nil
	}
}

func newTestManager(t *testing.T, cfg config.SessionConfig, farm *channelFarm) *Manager {
	t.Helper()
	m := New(cfg, farm.builder(), logging.NopLogger{})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func ping(t *testing.T) *envelope.Envelope {
	t.Helper()
	msg, err := envelope.NewRequest("req_1", "ping", nil)
	require.NoError(t, err)
	return msg
}

func TestCreateSessionGeneratesID(t *testing.T) {
	farm := &channelFarm{}
	m := newTestManager(t, config.SessionConfig{}, farm)

	id, err := m.CreateSession(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "sess_"))
	assert.Equal(t, 1, m.Count())
	assert.True(t, farm.built[0].IsConnected())
}

func TestCreateSessionRejectsDuplicateID(t *testing.T) {
	farm := &channelFarm{}
	m := newTestManager(t, config.SessionConfig{}, farm)

	_, err := m.CreateSession(context.Background(), "caller-1")
	require.NoError(t, err)

	_, err = m.CreateSession(context.Background(), "caller-1")
	require.ErrorIs(t, err, runtimeerrors.ErrSessionExists)
	assert.Equal(t, 1, m.Count())
}

func TestCreateSessionEnforcesLimit(t *testing.T) {
	farm := &channelFarm{}
	m := newTestManager(t, config.SessionConfig{MaxSessions: 2}, farm)

	_, err := m.CreateSession(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.CreateSession(context.Background(), "b")
	require.NoError(t, err)

	_, err = m.CreateSession(context.Background(), "c")
	require.ErrorIs(t, err, runtimeerrors.ErrSessionLimitReached)
}

func TestConcurrentCreateSessionRespectsLimit(t *testing.T) {
	// A barrier in the builder holds both creates past the pre-lock cap
	// check, so only the locked re-check can keep the cap intact.
	var entered sync.WaitGroup
	entered.Add(2)
	builder := func(ctx context.Context) (channel.Channel, error) {
		entered.Done()
		entered.Wait()
		return &fakeChannel{}, nil
	}
	m := New(config.SessionConfig{MaxSessions: 1}, builder, logging.NopLogger{})
	t.Cleanup(func() { _ = m.Close() })

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := m.CreateSession(context.Background(), "")
			errs <- err
		}()
	}

	var failures []error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}

	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0], runtimeerrors.ErrSessionLimitReached)
	assert.Equal(t, 1, m.Count())
}

func TestSendMessageUnknownSession(t *testing.T) {
	farm := &channelFarm{}
	m := newTestManager(t, config.SessionConfig{}, farm)

	err := m.SendMessage(context.Background(), "ghost", ping(t))
	require.ErrorIs(t, err, runtimeerrors.ErrSessionNotFound)
}

func TestSendMessageReconnectsAndRetriesOnce(t *testing.T) {
	farm := &channelFarm{}
	m := newTestManager(t, config.SessionConfig{}, farm)

	id, err := m.CreateSession(context.Background(), "")
	require.NoError(t, err)

	// First send fails and drops the connection; the manager reconnects
	// and the retry goes through.
	ch := farm.built[0]
	ch.mu.Lock()
	ch.failOnce = true
	ch.mu.Unlock()

	require.NoError(t, m.SendMessage(context.Background(), id, ping(t)))

	ch.mu.Lock()
	assert.Equal(t, 2, ch.connects)
	assert.Equal(t, 1, ch.sent)
	ch.mu.Unlock()
	assert.Equal(t, 1, m.Count())
}

func TestSendMessageTearsDownSessionAfterFailedRetry(t *testing.T) {
	farm := &channelFarm{}
	m := newTestManager(t, config.SessionConfig{}, farm)

	id, err := m.CreateSession(context.Background(), "")
	require.NoError(t, err)

	ch := farm.built[0]
	failure := errors.New("connection reset")
	ch.mu.Lock()
	ch.sendErr = failure
	ch.connected = false
	ch.mu.Unlock()

	err = m.SendMessage(context.Background(), id, ping(t))
	require.ErrorIs(t, err, failure)
	assert.Zero(t, m.Count())
}

func TestIdleSessionsExpire(t *testing.T) {
	farm := &channelFarm{}
	m := newTestManager(t, config.SessionConfig{
		SessionTimeout:  config.Duration(10 * time.Millisecond),
		CleanupInterval: config.Duration(5 * time.Millisecond),
	}, farm)

	_, err := m.CreateSession(context.Background(), "idle")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Count() == 0
	}, time.Second, 5*time.Millisecond)
	assert.False(t, farm.built[0].IsConnected())
}

func TestActivityKeepsSessionAlive(t *testing.T) {
	farm := &channelFarm{}
	m := newTestManager(t, config.SessionConfig{
		SessionTimeout:  config.Duration(50 * time.Millisecond),
		CleanupInterval: config.Duration(10 * time.Millisecond),
	}, farm)

	id, err := m.CreateSession(context.Background(), "busy")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, m.SendMessage(context.Background(), id, ping(t)))
	}
	assert.Equal(t, 1, m.Count())
}

func TestManagerFansInSessionMessages(t *testing.T) {
	farm := &channelFarm{}
	m := newTestManager(t, config.SessionConfig{}, farm)

	var mu sync.Mutex
	received := 0
	m.OnMessage(func(*envelope.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		received++
	})

	_, err := m.CreateSession(context.Background(), "a")
	require.NoError(t, err)

	note, err := envelope.NewNotification("notify", nil)
	require.NoError(t, err)
	farm.built[0].EmitMessage(note)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, received)
}

func TestCloseTearsDownAllSessions(t *testing.T) {
	farm := &channelFarm{}
	m := New(config.SessionConfig{}, farm.builder(), logging.NopLogger{})

	_, err := m.CreateSession(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.CreateSession(context.Background(), "b")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Zero(t, m.Count())
	for _, ch := range farm.built {
		assert.False(t, ch.IsConnected())
	}

	_, err = m.CreateSession(context.Background(), "c")
	require.ErrorIs(t, err, runtimeerrors.ErrChannelClosed)
}
