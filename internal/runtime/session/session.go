// Package session manages server-held HTTP sessions: each session binds a
// logical caller to one HTTP channel instance, expires after sitting idle
// longer than its timeout, and survives one reconnect-and-retry on a failed
// send before being torn down.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	"github.com/drblury/mcpwire/internal/runtime/config"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/ids"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// Defaults applied to zero-valued config fields.
const (
	DefaultMaxSessions     = 100
	DefaultSessionTimeout  = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
)

// Builder creates a fresh HTTP channel for a new session. The manager owns
// the returned channel.
type Builder func(ctx context.Context) (channel.Channel, error)

// Session binds a caller to one owned channel.
type Session struct {
	ID        string
	CreatedAt time.Time

	ch           channel.Channel
	lastActivity time.Time
}

// Manager owns the session map and its cleanup sweep. Messages and errors
// from every session channel fan in through the embedded Emitter.
type Manager struct {
	channel.Emitter

	cfg        config.SessionConfig
	newChannel Builder
	logger     logging.ServiceLogger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// New creates a session manager and starts its cleanup sweep.
func New(cfg config.SessionConfig, builder Builder, logger logging.ServiceLogger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.SessionTimeout.Std() <= 0 {
		cfg.SessionTimeout = config.Duration(DefaultSessionTimeout)
	}
	if cfg.CleanupInterval.Std() <= 0 {
		cfg.CleanupInterval = config.Duration(DefaultCleanupInterval)
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	m := &Manager{
		cfg:         cfg,
		newChannel:  builder,
		logger:      logger,
		sessions:    make(map[string]*Session),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// CreateSession opens a fresh channel under the given id, generating one
// when absent. Fails when the id is in use or the session cap is reached.
func (m *Manager) CreateSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = ids.NewSessionID()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", runtimeerrors.ErrChannelClosed
	}
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return "", runtimeerrors.ErrSessionExists
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return "", runtimeerrors.ErrSessionLimitReached
	}
	m.mu.Unlock()

	ch, err := m.newChannel(ctx)
	if err != nil {
		return "", err
	}
	if err := ch.Connect(ctx); err != nil {
		_ = ch.Close()
		return "", err
	}

	ch.OnMessage(m.EmitMessage)
	ch.OnError(m.EmitError)

	now := time.Now()
	sess := &Session{ID: sessionID, CreatedAt: now, ch: ch, lastActivity: now}

	m.mu.Lock()
	// Re-check under lock: another caller may have raced the same id or
	// claimed the last free slot while the channel was connecting.
	if m.closed {
		m.mu.Unlock()
		_ = ch.Close()
		return "", runtimeerrors.ErrChannelClosed
	}
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		_ = ch.Close()
		return "", runtimeerrors.ErrSessionExists
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		_ = ch.Close()
		return "", runtimeerrors.ErrSessionLimitReached
	}
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	m.logger.Info("session created", logging.LogFields{"session": sessionID})
	return sessionID, nil
}

// SendMessage sends through the session's channel, updating last-activity.
// On a send failure with a disconnected channel it reconnects and retries
// once; a second failure tears the session down and propagates the error.
func (m *Manager) SendMessage(ctx context.Context, sessionID string, msg *envelope.Envelope) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		sess.lastActivity = time.Now()
	}
	m.mu.Unlock()

	if !ok {
		return runtimeerrors.ErrSessionNotFound
	}

	err := sess.ch.Send(ctx, msg)
	if err == nil {
		return nil
	}

	if !sess.ch.IsConnected() {
		m.logger.Info("session channel disconnected, reconnecting", logging.LogFields{
			"session": sessionID,
		})
		if reconnectErr := sess.ch.Connect(ctx); reconnectErr == nil {
			retryErr := sess.ch.Send(ctx, msg)
			if retryErr == nil {
				return nil
			}
			err = retryErr
		}
	}

	m.logger.Error("session send failed, removing session", err, logging.LogFields{
		"session": sessionID,
	})
	m.RemoveSession(sessionID)
	return err
}

// RemoveSession closes and forgets a session. Removing an unknown id is a
// no-op.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		_ = sess.ch.Close()
	}
}

// Has reports whether the session id is live.
func (m *Manager) Has(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// IDs returns the live session ids.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

func (m *Manager) cleanupLoop() {
	defer close(m.cleanupDone)
	ticker := time.NewTicker(m.cfg.CleanupInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.expireIdle()
		}
	}
}

func (m *Manager) expireIdle() {
	cutoff := time.Now().Add(-m.cfg.SessionTimeout.Std())

	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if sess.lastActivity.Before(cutoff) {
			expired = append(expired, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		m.logger.Info("session expired", logging.LogFields{"session": sess.ID})
		_ = sess.ch.Close()
	}
}

// Close stops the cleanup sweep and closes every session. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	close(m.stopCleanup)
	<-m.cleanupDone

	for _, sess := range sessions {
		_ = sess.ch.Close()
	}
	return nil
}
