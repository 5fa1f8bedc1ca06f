package reconnect

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/mcpwire/internal/runtime/logging"
)

func TestDelayGrowsExponentiallyAndCaps(t *testing.T) {
	e := New(Config{
		MaxAttempts:   10,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}, Callbacks{}, logging.NopLogger{})

	assert.Equal(t, time.Second, e.Delay(1))
	assert.Equal(t, 2*time.Second, e.Delay(2))
	assert.Equal(t, 4*time.Second, e.Delay(3))
	assert.Equal(t, 8*time.Second, e.Delay(4))
	assert.Equal(t, 16*time.Second, e.Delay(5))
	assert.Equal(t, 30*time.Second, e.Delay(6))
	assert.Equal(t, 30*time.Second, e.Delay(20))
}

func TestDelayJitterStaysWithinQuarter(t *testing.T) {
	e := New(Config{
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}, Callbacks{}, logging.NopLogger{})

	base := 4 * time.Second
	for i := 0; i < 100; i++ {
		d := e.Delay(3)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/4)
	}
}

func TestScheduleRetriesUntilSuccessAndResets(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	reconnected := make(chan struct{})
	var failures []int

	e := New(Config{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}, Callbacks{
		OnReconnected: func() { close(reconnected) },
		OnFailed: func(attempt int, err error) {
			mu.Lock()
			failures = append(failures, attempt)
			mu.Unlock()
		},
	}, logging.NopLogger{})

	e.Schedule(func() error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("still down")
		}
		return nil
	})

	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect never succeeded")
	}

	mu.Lock()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, failures)
	mu.Unlock()

	// Success resets the attempt counter.
	assert.Equal(t, 0, e.Attempts())
}

func TestScheduleStopsAtMaxAttempts(t *testing.T) {
	exhausted := make(chan struct{})

	e := New(Config{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2,
	}, Callbacks{
		OnMaxAttempts: func() { close(exhausted) },
	}, logging.NopLogger{})

	e.Schedule(func() error { return errors.New("down") })

	select {
	case <-exhausted:
	case <-time.After(time.Second):
		t.Fatal("OnMaxAttempts never fired")
	}
	assert.Equal(t, 2, e.Attempts())
}

func TestScheduleIsNoOpWhileReconnecting(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	e := New(Config{InitialDelay: time.Millisecond}, Callbacks{}, logging.NopLogger{})

	fn := func() error {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-block
		return nil
	}

	e.Schedule(fn)
	<-started
	e.Schedule(fn) // in-flight attempt, must be ignored
	close(block)

	require.Eventually(t, func() bool {
		return !e.IsReconnecting()
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestResetClearsPendingAttempt(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	e := New(Config{InitialDelay: 50 * time.Millisecond}, Callbacks{}, logging.NopLogger{})
	e.Schedule(func() error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	e.Reset()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
	assert.Zero(t, e.Attempts())
}
