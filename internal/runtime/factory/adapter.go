package factory

import (
	"context"
	"sync"

	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/pool"
	"github.com/drblury/mcpwire/internal/runtime/session"
)

// poolChannel presents a subprocess pool as a single channel. Subscriptions
// and metrics delegate to the pool's own fan-in emitter.
type poolChannel struct {
	pool *pool.Pool
}

func (pc *poolChannel) Connect(ctx context.Context) error {
	return pc.pool.Start(ctx)
}

func (pc *poolChannel) Send(ctx context.Context, msg *envelope.Envelope) error {
	err := pc.pool.Send(ctx, msg)
	if err == nil {
		pc.pool.MarkSent()
	}
	return err
}

func (pc *poolChannel) OnMessage(fn func(*envelope.Envelope)) { pc.pool.OnMessage(fn) }
func (pc *poolChannel) OnError(fn func(error))                { pc.pool.OnError(fn) }
func (pc *poolChannel) OnClose(fn func())                     { pc.pool.OnClose(fn) }

func (pc *poolChannel) IsConnected() bool {
	return pc.pool.Stats().ActiveInstances > 0
}

func (pc *poolChannel) Metrics() channel.Metrics {
	return pc.pool.Snapshot()
}

func (pc *poolChannel) Close() error {
	err := pc.pool.Close()
	pc.pool.EmitClose()
	return err
}

// sessionChannel presents an HTTP session manager as a single channel. The
// first Connect opens a default session; Send goes through it. Additional
// sessions are managed directly on the manager.
type sessionChannel struct {
	manager *session.Manager

	mu        sync.Mutex
	defaultID string
}

// Connect opens the default session. A default session that has been torn
// down in the meantime, idle expiry included, is replaced by a fresh one.
func (sc *sessionChannel) Connect(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.defaultID != "" && sc.manager.Has(sc.defaultID) {
		return nil
	}
	id, err := sc.manager.CreateSession(ctx, "")
	if err != nil {
		return err
	}
	sc.defaultID = id
	sc.manager.MarkConnected()
	return nil
}

func (sc *sessionChannel) Send(ctx context.Context, msg *envelope.Envelope) error {
	sc.mu.Lock()
	id := sc.defaultID
	sc.mu.Unlock()
	if id == "" {
		return runtimeerrors.ErrNotConnected
	}
	err := sc.manager.SendMessage(ctx, id, msg)
	if err == nil {
		sc.manager.MarkSent()
	}
	return err
}

func (sc *sessionChannel) OnMessage(fn func(*envelope.Envelope)) { sc.manager.OnMessage(fn) }
func (sc *sessionChannel) OnError(fn func(error))                { sc.manager.OnError(fn) }
func (sc *sessionChannel) OnClose(fn func())                     { sc.manager.OnClose(fn) }

func (sc *sessionChannel) IsConnected() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.defaultID != "" && sc.manager.Has(sc.defaultID)
}

func (sc *sessionChannel) Metrics() channel.Metrics {
	return sc.manager.Snapshot()
}

func (sc *sessionChannel) Close() error {
	err := sc.manager.Close()
	sc.manager.EmitClose()
	return err
}
