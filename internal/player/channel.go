/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player owns the external mpv process and its JSON-IPC control
// socket. The process is long-lived: it survives across playlist items so
// nothing flickers between loads, and is relaunched only when it dies or
// its control endpoint disappears.
package player

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	socketWaitTimeout = 3 * time.Second
	socketWaitPoll    = 20 * time.Millisecond
)

// Options configures the player process launch.
type Options struct {
	Binary      string
	Socket      string
	LogFile     string
	YtdlFormat  string
	HWDec       string
	VideoOutput string
	GPUContext  string
	ExtraOpts   []string
}

// Args builds the fixed launch option set.
func (o Options) Args() []string {
	args := []string{
		"--fs",
		"--no-osc",
		"--no-osd-bar",
		"--idle=yes",
		"--volume=100",
		"--volume-max=100",
		fmt.Sprintf("--log-file=%s", o.LogFile),
		fmt.Sprintf("--ytdl-format=%s", o.YtdlFormat),
		fmt.Sprintf("--hwdec=%s", o.HWDec),
		fmt.Sprintf("--input-ipc-server=%s", o.Socket),
	}
	// force-window breaks DRM output, where mpv owns the whole display
	if o.VideoOutput != "drm" {
		args = append(args, "--force-window=yes")
	}
	if o.VideoOutput != "" {
		args = append(args, fmt.Sprintf("--vo=%s", o.VideoOutput))
	}
	if o.GPUContext != "" {
		args = append(args, fmt.Sprintf("--gpu-context=%s", o.GPUContext))
	}
	args = append(args, o.ExtraOpts...)
	return args
}

// Channel is the request/response control link to the player process.
// All operations are mutually exclusive: the socket is a single
// connection-oriented endpoint that does not multiplex.
type Channel struct {
	opts   Options
	logger zerolog.Logger

	reqMu sync.Mutex // one in-flight IPC request

	procMu sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

// NewChannel creates a channel. The process is not started until
// EnsureRunning is called.
func NewChannel(opts Options, logger zerolog.Logger) *Channel {
	return &Channel{
		opts:   opts,
		logger: logger.With().Str("component", "player_channel").Logger(),
	}
}

// Alive reports whether the player process is running.
func (c *Channel) Alive() bool {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	return c.aliveLocked()
}

func (c *Channel) aliveLocked() bool {
	if c.cmd == nil {
		return false
	}
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// EnsureRunning starts the player if needed. Idempotent: a healthy process
// with a reachable socket is left alone. A live process whose control
// endpoint vanished is terminated and relaunched. Blocks until the socket
// accepts connections or the wait budget runs out.
func (c *Channel) EnsureRunning() error {
	c.procMu.Lock()

	if c.aliveLocked() {
		if c.socketReachable() {
			c.procMu.Unlock()
			return nil
		}
		c.logger.Warn().Msg("player alive but control endpoint gone, relaunching")
		_ = c.cmd.Process.Kill()
		<-c.exited
	}
	c.cmd = nil

	// stale socket file from a previous run confuses the readiness wait
	_ = os.Remove(c.opts.Socket)

	cmd := exec.Command(c.opts.Binary, c.opts.Args()...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	c.logger.Info().Str("binary", c.opts.Binary).Str("socket", c.opts.Socket).Msg("starting player process")
	if err := cmd.Start(); err != nil {
		c.procMu.Unlock()
		return channelErr("ensure", "start process", err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	c.cmd = cmd
	c.exited = exited
	c.procMu.Unlock()

	deadline := time.Now().Add(socketWaitTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-exited:
			return channelErr("ensure", "process exited before socket appeared", nil)
		default:
		}
		if c.socketReachable() {
			// the reused process may carry stale settings
			_ = c.SetProperty("volume", 100)
			_ = c.SetProperty("mute", false)
			return nil
		}
		time.Sleep(socketWaitPoll)
	}

	c.logger.Warn().Msg("player started but control socket never appeared")
	return channelErr("ensure", "control socket not ready", nil)
}

func (c *Channel) socketReachable() bool {
	conn, err := net.DialTimeout("unix", c.opts.Socket, ipcDialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// LoadFile replaces the current item. Volume, mute, and pause are forced
// back to sane values first: the process is reused across items and may
// carry whatever the previous item left behind.
func (c *Channel) LoadFile(uri string, startOffset float64) error {
	if err := c.EnsureRunning(); err != nil {
		return err
	}

	_ = c.SetProperty("volume", 100)
	_ = c.SetProperty("mute", false)
	_ = c.SetProperty("pause", false)

	command := []any{"loadfile", uri, "replace"}
	if startOffset > 0 {
		command = append(command, fmt.Sprintf("start=%g", startOffset))
	}
	if _, err := c.request("loadfile", command); err != nil {
		c.logger.Warn().Err(err).Str("uri", uri).Msg("loadfile failed")
		return err
	}
	return nil
}

// GetProperty reads a named player property.
func (c *Channel) GetProperty(name string) (any, error) {
	return c.request("get_property", []any{"get_property", name})
}

// GetPropertyBool reads a boolean property. Missing or non-boolean values
// read as false.
func (c *Channel) GetPropertyBool(name string) (bool, error) {
	data, err := c.GetProperty(name)
	if err != nil {
		return false, err
	}
	b, _ := data.(bool)
	return b, nil
}

// SetProperty writes a named player property.
func (c *Channel) SetProperty(name string, value any) error {
	_, err := c.request("set_property", []any{"set_property", name, value})
	return err
}

// Pause sets the pause state. When the control channel is unreachable the
// process is suspended or resumed directly as a fallback.
func (c *Channel) Pause(paused bool) error {
	if err := c.SetProperty("pause", paused); err == nil {
		return nil
	}

	c.procMu.Lock()
	defer c.procMu.Unlock()
	if !c.aliveLocked() {
		return channelErr("pause", "player not running", nil)
	}
	sig := syscall.SIGCONT
	if paused {
		sig = syscall.SIGSTOP
	}
	if err := c.cmd.Process.Signal(sig); err != nil {
		return channelErr("pause", "signal fallback", err)
	}
	return nil
}

// Stop ends the current item without killing the process; the player goes
// idle and stays ready for the next load.
func (c *Channel) Stop() error {
	_, err := c.request("stop", []any{"stop"})
	return err
}

// Quit shuts the player down. When the control channel is unavailable the
// process is terminated directly.
func (c *Channel) Quit() error {
	if _, err := c.request("quit", []any{"quit"}); err == nil {
		c.procMu.Lock()
		exited := c.exited
		c.procMu.Unlock()
		if exited != nil {
			select {
			case <-exited:
			case <-time.After(3 * time.Second):
			}
		}
		return nil
	}

	c.procMu.Lock()
	defer c.procMu.Unlock()
	if !c.aliveLocked() {
		return nil
	}
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return channelErr("quit", "terminate", err)
	}
	return nil
}
