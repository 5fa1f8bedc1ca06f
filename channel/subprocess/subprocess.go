// Package subprocess provides a channel that talks to a backend running as a
// containerised subprocess. Envelopes travel newline-delimited over the
// child's standard input (writes) and standard output (reads); standard
// error is treated as diagnostics and logged, never parsed.
package subprocess

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/logging"
)

// ChannelName is the type tag used to register this channel.
const ChannelName = "subprocess"

// DefaultTerminateGrace is how long Close waits after SIGTERM before the
// process is force-killed.
const DefaultTerminateGrace = 5 * time.Second

// maxLineSize bounds a single newline-delimited envelope (16 MiB).
const maxLineSize = 16 << 20

// ContainerRuntime is the binary used to launch the container.
var ContainerRuntime = "docker"

// CommandFactory allows overriding process creation for testing.
var CommandFactory = func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

func init() {
	channel.Register(ChannelName, Build)
}

// Build creates a new subprocess channel from config.
func Build(ctx context.Context, cfg channel.Config, logger logging.ServiceLogger) (channel.Channel, error) {
	if cfg.GetImage() == "" {
		return nil, fmt.Errorf("subprocess: image is required")
	}
	return &Channel{
		image:          cfg.GetImage(),
		command:        cfg.GetCommand(),
		env:            cfg.GetEnv(),
		volumes:        cfg.GetVolumes(),
		workdir:        cfg.GetWorkdir(),
		containerName:  cfg.GetContainerName(),
		terminateGrace: DefaultTerminateGrace,
		logger:         logger,
	}, nil
}

// Channel spawns a container and speaks newline-delimited envelopes over its
// standard streams.
type Channel struct {
	channel.Emitter

	image          string
	command        []string
	env            map[string]string
	volumes        []channel.VolumeMount
	workdir        string
	containerName  string
	terminateGrace time.Duration
	logger         logging.ServiceLogger

	mu        sync.Mutex
	writeMu   sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected bool
	closing   bool
	done      chan struct{}
}

// Args assembles the container invocation command line:
// run --rm -i [--name N] [-e K=V]... [-v SRC:DST[:MODE]]... [-w DIR] IMAGE CMD...
// Environment flags are emitted in sorted key order so the command line is
// deterministic.
func (c *Channel) Args() []string {
	args := []string{"run", "--rm", "-i"}
	if c.containerName != "" {
		args = append(args, "--name", c.containerName)
	}

	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+c.env[k])
	}

	for _, v := range c.volumes {
		mount := v.Source + ":" + v.Target
		if v.Mode != "" {
			mount += ":" + v.Mode
		}
		args = append(args, "-v", mount)
	}

	if c.workdir != "" {
		args = append(args, "-w", c.workdir)
	}

	args = append(args, c.image)
	args = append(args, c.command...)
	return args
}

// Connect spawns the container and starts the stdout/stderr readers.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	cmd := CommandFactory(ctx, ContainerRuntime, c.Args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &runtimeerrors.ConnectError{ChannelType: ChannelName, Err: err}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.connected = true
	c.done = make(chan struct{})
	c.MarkConnected()

	c.logger.Info("subprocess channel started", logging.LogFields{
		"image": c.image,
		"pid":   cmd.Process.Pid,
	})

	go c.readMessages(stdout)
	go c.drainStderr(stderr)
	go c.waitExit()

	return nil
}

// Send writes one envelope as a single newline-terminated line to the
// child's stdin.
func (c *Channel) Send(ctx context.Context, msg *envelope.Envelope) error {
	c.mu.Lock()
	connected := c.connected
	stdin := c.stdin
	c.mu.Unlock()

	if !connected {
		return runtimeerrors.ErrNotConnected
	}

	data, err := envelope.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return &runtimeerrors.SendError{ChannelType: ChannelName, Err: err}
	}
	c.MarkSent()
	return nil
}

// IsConnected reports whether the subprocess is running.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Metrics returns the channel counters.
func (c *Channel) Metrics() channel.Metrics {
	return c.Snapshot()
}

// Close terminates the subprocess gracefully: SIGTERM first, then a force
// kill once the grace period elapses. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if !c.connected || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	cmd := c.cmd
	done := c.done
	c.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			c.logger.Debug("subprocess SIGTERM failed", logging.LogFields{"error": err})
		}

		select {
		case <-done:
		case <-time.After(c.terminateGrace):
			c.logger.Info("subprocess did not exit in time, killing", logging.LogFields{
				"image": c.image,
			})
			_ = cmd.Process.Kill()
			<-done
		}
	}
	return nil
}

func (c *Channel) readMessages(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := envelope.Unmarshal(line)
		if err != nil {
			c.logger.Error("subprocess emitted an unparseable line", err, logging.LogFields{
				"line_length": len(line),
			})
			c.EmitError(err)
			continue
		}
		c.EmitMessage(msg)
	}
	if err := scanner.Err(); err != nil {
		c.EmitError(&runtimeerrors.SendError{ChannelType: ChannelName, Err: err})
	}
}

func (c *Channel) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		c.logger.Debug("subprocess stderr", logging.LogFields{"line": scanner.Text()})
	}
}

func (c *Channel) waitExit() {
	err := c.cmd.Wait()

	c.mu.Lock()
	c.connected = false
	closing := c.closing
	close(c.done)
	c.mu.Unlock()

	if err != nil && !closing {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if code := exitErr.ExitCode(); code != 0 {
				c.EmitError(fmt.Errorf("subprocess exited with code %d", code))
			}
		} else {
			c.EmitError(err)
		}
	}
	c.EmitClose()
}
