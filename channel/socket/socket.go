// Package socket provides a channel over a persistent WebSocket connection
// with heartbeat ping/pong. Close codes 1000 (normal closure) and 1001
// (going away) are treated as intentional; any other close code hands the
// connection to the reconnection engine.
package socket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/logging"
	"github.com/drblury/mcpwire/internal/runtime/reconnect"
)

// ChannelName is the type tag used to register this channel.
const ChannelName = "socket"

const (
	// DefaultConnectTimeout bounds the WebSocket handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultHeartbeatInterval is the ping cadence.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultHeartbeatTimeout is how long after a ping a pong must arrive
	// before the connection is considered dead.
	DefaultHeartbeatTimeout = 10 * time.Second
)

// DialerFactory allows overriding the WebSocket dialer for testing.
var DialerFactory = func(handshakeTimeout time.Duration) *websocket.Dialer {
	return &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
}

func init() {
	channel.Register(ChannelName, Build)
}

// Build creates a new socket channel from config.
func Build(ctx context.Context, cfg channel.Config, logger logging.ServiceLogger) (channel.Channel, error) {
	url := cfg.GetSocketURL()
	if url == "" {
		return nil, fmt.Errorf("socket: URL is required")
	}

	connectTimeout := cfg.GetConnectTimeout()
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	heartbeat := cfg.GetHeartbeatInterval()
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	heartbeatTimeout := cfg.GetHeartbeatTimeout()
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}

	c := &Channel{
		url:              url,
		connectTimeout:   connectTimeout,
		heartbeat:        heartbeat,
		heartbeatTimeout: heartbeatTimeout,
		logger:           logger,
	}
	c.engine = reconnect.New(reconnect.Config{Jitter: true}, reconnect.Callbacks{
		OnReconnected: func() {
			logger.Info("socket channel reconnected", logging.LogFields{"url": url})
		},
		OnMaxAttempts: func() {
			c.EmitError(runtimeerrors.ErrMaxReconnectAttempts)
			c.EmitClose()
		},
	}, logger)
	return c, nil
}

// Channel is a persistent bidirectional WebSocket channel.
type Channel struct {
	channel.Emitter

	url              string
	connectTimeout   time.Duration
	heartbeat        time.Duration
	heartbeatTimeout time.Duration
	logger           logging.ServiceLogger
	engine           *reconnect.Engine

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	stopPing  chan struct{}
}

// Connect opens the WebSocket with a handshake deadline, arms the heartbeat,
// and starts the read loop.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := DialerFactory(c.connectTimeout)
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: err}
	}

	// A pong extends the read deadline; a missed pong surfaces as a read
	// timeout in the read loop, which force-closes the connection.
	readWait := c.heartbeat + c.heartbeatTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		c.Touch()
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.closing = false
	c.stopPing = make(chan struct{})
	stopPing := c.stopPing
	c.mu.Unlock()
	c.MarkConnected()

	go c.pingLoop(conn, stopPing)
	go c.readLoop(conn)

	c.logger.Info("socket channel connected", logging.LogFields{"url": c.url})
	return nil
}

// Send writes one envelope as a text frame. Fails immediately when the
// connection is not open.
func (c *Channel) Send(ctx context.Context, msg *envelope.Envelope) error {
	c.mu.Lock()
	connected := c.connected
	conn := c.conn
	c.mu.Unlock()

	if !connected || conn == nil {
		return runtimeerrors.ErrNotConnected
	}

	data, err := envelope.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &runtimeerrors.SendError{ChannelType: ChannelName, Err: err}
	}
	c.MarkSent()
	return nil
}

// IsConnected reports whether the WebSocket is open.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Metrics returns the channel counters.
func (c *Channel) Metrics() channel.Metrics {
	return c.Snapshot()
}

// Close performs an intentional shutdown: no reconnection is attempted.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	c.engine.Stop()

	if conn != nil {
		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	return nil
}

func (c *Channel) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.heartbeatTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("heartbeat ping failed", logging.LogFields{"error": err})
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		msg, decodeErr := envelope.Unmarshal(data)
		if decodeErr != nil {
			c.EmitError(decodeErr)
			continue
		}
		c.EmitMessage(msg)
	}
}

func (c *Channel) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	c.connected = false
	if c.conn == conn {
		c.conn = nil
	}
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	closing := c.closing
	c.mu.Unlock()

	_ = conn.Close()

	intentional := closing || websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway)

	if intentional {
		c.EmitClose()
		return
	}

	c.EmitError(&runtimeerrors.SendError{ChannelType: ChannelName, Err: err})
	c.engine.Schedule(func() error {
		return c.Connect(context.Background())
	})
}
