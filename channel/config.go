package channel

import "time"

// VolumeMount describes one container volume binding for the subprocess
// channel. Mode is optional ("ro", "rw").
type VolumeMount struct {
	Source string `json:"source" toml:"source"`
	Target string `json:"target" toml:"target"`
	Mode   string `json:"mode,omitempty" toml:"mode,omitempty"`
}

// Config provides the configuration values needed by channel builders. This
// interface lets each channel access only the keys relevant to it without
// depending on the full config package.
type Config interface {
	// GetChannelType returns the channel type tag: "subprocess", "http",
	// "socket", or "eventstream".
	GetChannelType() string

	// Subprocess
	GetImage() string
	GetCommand() []string
	GetEnv() map[string]string
	GetVolumes() []VolumeMount
	GetWorkdir() string
	GetContainerName() string

	// HTTP
	GetBaseURL() string

	// Socket
	GetSocketURL() string
	GetHeartbeatInterval() time.Duration
	GetHeartbeatTimeout() time.Duration

	// Event stream
	GetStreamURL() string

	// Shared timeouts. Zero values fall back to channel defaults.
	GetConnectTimeout() time.Duration
	GetRequestTimeout() time.Duration
}
