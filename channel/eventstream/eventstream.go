// Package eventstream provides a channel over a server-push SSE stream. The
// stream is receive-only: envelopes arrive as "message" events and a
// reserved "error" event carries an error string. Outgoing sends POST to a
// companion endpoint derived from the stream URL by replacing its trailing
// path segment (conventionally /events becomes /send).
package eventstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/logging"
	"github.com/drblury/mcpwire/internal/runtime/reconnect"
)

// ChannelName is the type tag used to register this channel.
const ChannelName = "eventstream"

const (
	// DefaultConnectTimeout bounds the initial stream handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds companion-endpoint POSTs.
	DefaultRequestTimeout = 30 * time.Second

	messageEventName = "message"
	errorEventName   = "error"
	sendSegment      = "send"
)

// ClientFactory allows overriding the SSE client for testing. The internal
// retry of the client is disabled so the reconnection engine owns the retry
// policy.
var ClientFactory = func(streamURL string) *sse.Client {
	c := sse.NewClient(streamURL)
	c.ReconnectStrategy = &backoff.StopBackOff{}
	return c
}

func init() {
	channel.Register(ChannelName, Build)
}

// Build creates a new event-stream channel from config.
func Build(ctx context.Context, cfg channel.Config, logger logging.ServiceLogger) (channel.Channel, error) {
	streamURL := cfg.GetStreamURL()
	if streamURL == "" {
		return nil, fmt.Errorf("eventstream: stream URL is required")
	}

	sendURL, err := deriveSendURL(streamURL)
	if err != nil {
		return nil, fmt.Errorf("eventstream: %w", err)
	}

	connectTimeout := cfg.GetConnectTimeout()
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	requestTimeout := cfg.GetRequestTimeout()
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	c := &Channel{
		streamURL:      streamURL,
		sendURL:        sendURL,
		connectTimeout: connectTimeout,
		requestTimeout: requestTimeout,
		httpClient:     &http.Client{},
		logger:         logger,
	}
	c.engine = reconnect.New(reconnect.Config{Jitter: true}, reconnect.Callbacks{
		OnReconnected: func() {
			logger.Info("event stream reconnected", logging.LogFields{"url": streamURL})
		},
		OnMaxAttempts: func() {
			c.EmitError(runtimeerrors.ErrMaxReconnectAttempts)
			c.EmitClose()
		},
	}, logger)
	return c, nil
}

// deriveSendURL replaces the trailing path segment of the stream URL with
// the companion send segment: .../events -> .../send.
func deriveSendURL(streamURL string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", err
	}
	dir := path.Dir(strings.TrimSuffix(u.Path, "/"))
	if dir == "." || dir == "/" {
		dir = ""
	}
	u.Path = dir + "/" + sendSegment
	return u.String(), nil
}

// Channel is a server-push SSE channel with a companion send endpoint.
type Channel struct {
	channel.Emitter

	streamURL      string
	sendURL        string
	connectTimeout time.Duration
	requestTimeout time.Duration
	httpClient     *http.Client
	logger         logging.ServiceLogger
	engine         *reconnect.Engine

	mu        sync.Mutex
	connected bool
	closing   bool
	cancel    context.CancelFunc
}

// Connect opens the stream and waits for the subscription to be live, racing
// a connect timeout.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.mu.Unlock()

	client := ClientFactory(c.streamURL)

	connectedCh := make(chan struct{}, 1)
	client.OnConnect(func(*sse.Client) {
		select {
		case connectedCh <- struct{}{}:
		default:
		}
	})

	streamCtx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan error, 1)
	go func() {
		doneCh <- client.SubscribeRawWithContext(streamCtx, c.handleEvent)
	}()

	select {
	case <-connectedCh:
	case err := <-doneCh:
		cancel()
		if err == nil {
			err = errors.New("stream closed before connecting")
		}
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: err}
	case <-time.After(c.connectTimeout):
		cancel()
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: runtimeerrors.ErrConnectTimeout}
	case <-ctx.Done():
		cancel()
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: ctx.Err()}
	}

	c.mu.Lock()
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()
	c.MarkConnected()

	go func() {
		err := <-doneCh
		c.handleDisconnect(err)
	}()

	c.logger.Info("event stream connected", logging.LogFields{"url": c.streamURL})
	return nil
}

func (c *Channel) handleEvent(ev *sse.Event) {
	switch string(ev.Event) {
	case errorEventName:
		c.EmitError(fmt.Errorf("eventstream: server error event: %s", string(ev.Data)))
	case messageEventName, "":
		if len(bytes.TrimSpace(ev.Data)) == 0 {
			return
		}
		msg, err := envelope.Unmarshal(ev.Data)
		if err != nil {
			c.EmitError(err)
			return
		}
		c.EmitMessage(msg)
	default:
		c.logger.Trace("ignoring event of unknown type", logging.LogFields{
			"event": string(ev.Event),
		})
	}
}

func (c *Channel) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	closing := c.closing
	c.mu.Unlock()

	if closing || errors.Is(err, context.Canceled) {
		c.EmitClose()
		return
	}

	if err != nil {
		c.EmitError(&runtimeerrors.SendError{ChannelType: ChannelName, Err: err})
	}
	c.engine.Schedule(func() error {
		return c.Connect(context.Background())
	})
}

// Send POSTs the envelope to the companion endpoint; the stream itself is
// receive-only.
func (c *Channel) Send(ctx context.Context, msg *envelope.Envelope) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return runtimeerrors.ErrNotConnected
	}

	data, err := envelope.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancelReq := context.WithTimeout(ctx, c.requestTimeout)
	defer cancelReq()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(data))
	if err != nil {
		return &runtimeerrors.SendError{ChannelType: ChannelName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", runtimeerrors.ErrRequestTimeout, err)
		}
		return &runtimeerrors.SendError{ChannelType: ChannelName, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &runtimeerrors.SendError{
			ChannelType: ChannelName,
			Err:         fmt.Errorf("send endpoint returned %s", resp.Status),
		}
	}

	c.MarkSent()
	return nil
}

// IsConnected reports whether the stream subscription is live.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Metrics returns the channel counters.
func (c *Channel) Metrics() channel.Metrics {
	return c.Snapshot()
}

// Close cancels the stream subscription; no reconnection is attempted.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	cancel := c.cancel
	connected := c.connected
	c.mu.Unlock()

	c.engine.Stop()

	if cancel != nil {
		cancel()
	} else if !connected {
		c.EmitClose()
	}
	return nil
}
