// Package httpchan provides a channel that speaks the protocol over plain
// HTTP request/response cycles. Connect probes GET <base>/health; Send POSTs
// the serialized envelope to <base>/mcp and, when the outgoing message was a
// Request, feeds a non-empty response body back through the normal message
// subscriber path.
package httpchan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// ChannelName is the type tag used to register this channel.
const ChannelName = "http"

const (
	// DefaultRequestTimeout bounds every HTTP call made by the channel.
	DefaultRequestTimeout = 30 * time.Second

	healthPath  = "/health"
	messagePath = "/mcp"
)

// ClientFactory allows overriding the HTTP client for testing.
var ClientFactory = func() *http.Client {
	return &http.Client{}
}

func init() {
	channel.Register(ChannelName, Build)
}

// Build creates a new HTTP channel from config.
func Build(ctx context.Context, cfg channel.Config, logger logging.ServiceLogger) (channel.Channel, error) {
	baseURL := strings.TrimRight(cfg.GetBaseURL(), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("http: base URL is required")
	}

	timeout := cfg.GetRequestTimeout()
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Channel{
		baseURL: baseURL,
		timeout: timeout,
		client:  ClientFactory(),
		logger:  logger,
	}, nil
}

// Channel is an HTTP request/response channel.
type Channel struct {
	channel.Emitter

	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  logging.ServiceLogger

	mu        sync.Mutex
	connected bool
	closed    bool
}

// Connect performs the health probe. The channel is connected once
// GET <base>/health returns a success status.
func (c *Channel) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: c.classify(err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &runtimeerrors.ConnectError{
			ChannelType: ChannelName,
			Err:         fmt.Errorf("health probe returned %s", resp.Status),
		}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.MarkConnected()

	c.logger.Debug("http channel connected", logging.LogFields{"base_url": c.baseURL})
	return nil
}

// Send POSTs the envelope. A non-empty response body to a Request is parsed
// as an inbound envelope and delivered to message subscribers.
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

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagePath, bytes.NewReader(data))
	if err != nil {
		return &runtimeerrors.SendError{ChannelType: ChannelName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &runtimeerrors.SendError{ChannelType: ChannelName, Err: c.classify(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &runtimeerrors.SendError{
			ChannelType: ChannelName,
			Err:         fmt.Errorf("server returned %s", resp.Status),
		}
	}

	c.MarkSent()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.EmitError(&runtimeerrors.SendError{ChannelType: ChannelName, Err: err})
		return nil
	}

	if msg.IsRequest() && len(bytes.TrimSpace(body)) > 0 {
		inbound, err := envelope.Unmarshal(body)
		if err != nil {
			c.EmitError(err)
			return nil
		}
		c.EmitMessage(inbound)
	}
	return nil
}

// IsConnected reports whether the health probe has succeeded.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Metrics returns the channel counters.
func (c *Channel) Metrics() channel.Metrics {
	return c.Snapshot()
}

// Close marks the channel disconnected and drops idle connections.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	c.client.CloseIdleConnections()
	c.EmitClose()
	return nil
}

// classify maps context deadline errors onto the timeout sentinel so callers
// can branch with errors.Is.
func (c *Channel) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", runtimeerrors.ErrRequestTimeout, err)
	}
	return err
}
