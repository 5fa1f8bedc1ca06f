// Package config groups the channel, pool, and session settings required to
// build a transport. Each channel type only uses the keys relevant to it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/drblury/mcpwire/channel"
)

// Config selects a channel type and carries its connection parameters plus
// the optional pool (subprocess) and session (http) sub-configurations.
type Config struct {
	// ChannelType selects the backing channel. Supported values:
	// "subprocess", "http", "socket", or "eventstream".
	ChannelType string `toml:"channelType"`

	// Name is a human-readable label for the transport instance.
	Name string `toml:"name"`

	// Subprocess channel configuration.
	Image         string                `toml:"image"`
	Command       []string              `toml:"command"`
	Env           map[string]string     `toml:"env"`
	Volumes       []channel.VolumeMount `toml:"volumes"`
	Workdir       string                `toml:"workdir"`
	ContainerName string                `toml:"containerName"`

	// HTTP channel configuration. BaseURL is the server root; the channel
	// derives /health and /mcp from it.
	BaseURL string `toml:"baseURL"`

	// Socket channel configuration.
	SocketURL         string   `toml:"socketURL"`
	HeartbeatInterval Duration `toml:"heartbeatInterval"`
	HeartbeatTimeout  Duration `toml:"heartbeatTimeout"`

	// Event-stream channel configuration.
	StreamURL string `toml:"streamURL"`

	// Shared timeouts. Zero values fall back to channel defaults.
	ConnectTimeout Duration `toml:"connectTimeout"`
	RequestTimeout Duration `toml:"requestTimeout"`

	// Pool enables subprocess pooling when non-nil.
	Pool *PoolConfig `toml:"pool"`

	// Session enables HTTP session management when non-nil.
	Session *SessionConfig `toml:"session"`
}

// PoolConfig tunes the subprocess pool.
type PoolConfig struct {
	MaxInstances        int      `toml:"maxInstances"`
	MinInstances        int      `toml:"minInstances"`
	HealthCheckInterval Duration `toml:"healthCheckInterval"`
	RestartOnFailure    bool     `toml:"restartOnFailure"`
}

// SessionConfig tunes the HTTP session manager.
type SessionConfig struct {
	MaxSessions     int      `toml:"maxSessions"`
	SessionTimeout  Duration `toml:"sessionTimeout"`
	CleanupInterval Duration `toml:"cleanupInterval"`
}

// Duration wraps time.Duration so TOML files can use "30s"-style strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Getter methods implementing the channel.Config interface.
func (c *Config) GetChannelType() string                  { return c.ChannelType }
func (c *Config) GetImage() string                        { return c.Image }
func (c *Config) GetCommand() []string                    { return c.Command }
func (c *Config) GetEnv() map[string]string               { return c.Env }
func (c *Config) GetVolumes() []channel.VolumeMount       { return c.Volumes }
func (c *Config) GetWorkdir() string                      { return c.Workdir }
func (c *Config) GetContainerName() string                { return c.ContainerName }
func (c *Config) GetBaseURL() string                      { return c.BaseURL }
func (c *Config) GetSocketURL() string                    { return c.SocketURL }
func (c *Config) GetHeartbeatInterval() time.Duration     { return c.HeartbeatInterval.Std() }
func (c *Config) GetHeartbeatTimeout() time.Duration      { return c.HeartbeatTimeout.Std() }
func (c *Config) GetStreamURL() string                    { return c.StreamURL }
func (c *Config) GetConnectTimeout() time.Duration        { return c.ConnectTimeout.Std() }
func (c *Config) GetRequestTimeout() time.Duration        { return c.RequestTimeout.Std() }

func (c Config) String() string {
	// Redact credentials that may be embedded in connection URLs.
	copy := c
	if copy.BaseURL != "" {
		copy.BaseURL = redactURLCredentials(copy.BaseURL)
	}
	if copy.SocketURL != "" {
		copy.SocketURL = redactURLCredentials(copy.SocketURL)
	}
	if copy.StreamURL != "" {
		copy.StreamURL = redactURLCredentials(copy.StreamURL)
	}
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

// redactURLCredentials masks the password in URLs like ws://user:pass@host.
func redactURLCredentials(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "***REDACTED_URL***"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "***REDACTED***")
		}
	}
	return parsed.String()
}

// Validate checks that the configuration has all required fields for the
// selected channel type.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateChannel()...)
	errs = append(errs, c.validatePool()...)
	errs = append(errs, c.validateSession()...)

	return errors.Join(errs...)
}

func (c *Config) validateChannel() []error {
	switch strings.ToLower(c.ChannelType) {
	case "subprocess":
		if c.Image == "" {
			return []error{errors.New("subprocess: image is required")}
		}
	case "http":
		if c.BaseURL == "" {
			return []error{errors.New("http: base URL is required")}
		}
	case "socket":
		if c.SocketURL == "" {
			return []error{errors.New("socket: URL is required")}
		}
	case "eventstream":
		if c.StreamURL == "" {
			return []error{errors.New("eventstream: stream URL is required")}
		}
	case "":
		return []error{errors.New("channel type is required")}
	default:
		return []error{fmt.Errorf("unknown channel type: %q", c.ChannelType)}
	}
	return nil
}

func (c *Config) validatePool() []error {
	if c.Pool == nil {
		return nil
	}
	var errs []error
	if !strings.EqualFold(c.ChannelType, "subprocess") {
		errs = append(errs, errors.New("pool: only supported for subprocess channels"))
	}
	if c.Pool.MinInstances < 0 {
		errs = append(errs, errors.New("pool: min instances cannot be negative"))
	}
	if c.Pool.MaxInstances > 0 && c.Pool.MinInstances > c.Pool.MaxInstances {
		errs = append(errs, errors.New("pool: min instances cannot exceed max instances"))
	}
	return errs
}

func (c *Config) validateSession() []error {
	if c.Session == nil {
		return nil
	}
	var errs []error
	if !strings.EqualFold(c.ChannelType, "http") {
		errs = append(errs, errors.New("session: only supported for http channels"))
	}
	if c.Session.MaxSessions < 0 {
		errs = append(errs, errors.New("session: max sessions cannot be negative"))
	}
	return errs
}
