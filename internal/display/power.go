/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package display drives the attached screen's power state through
// whichever control tool the host actually has.
package display

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes one control command. Extracted so tests can script the
// ladder without the host tools installed.
type Runner interface {
	Run(ctx context.Context, stdin, name string, args ...string) error
}

type execRunner struct {
	timeout time.Duration
}

func (r execRunner) Run(ctx context.Context, stdin, name string, args ...string) error {
	if _, err := exec.LookPath(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	return cmd.Run()
}

// Controller turns the display on and off. It walks a ladder of tools in
// order and stops at the first one that succeeds: tvservice, vcgencmd,
// xset (only under X), then HDMI-CEC. CECOnly skips straight to CEC for
// displays that ignore the Pi-side controls.
type Controller struct {
	runner  Runner
	cecOnly bool
	logger  zerolog.Logger
}

// NewController creates a display controller using the host's tools.
func NewController(cecOnly bool, logger zerolog.Logger) *Controller {
	return &Controller{
		runner:  execRunner{timeout: 10 * time.Second},
		cecOnly: cecOnly,
		logger:  logger.With().Str("component", "display").Logger(),
	}
}

type rung struct {
	label string
	stdin string
	name  string
	args  []string
}

// On powers the display on.
func (c *Controller) On() error {
	return c.walk(c.ladder(true))
}

// Off powers the display off.
func (c *Controller) Off() error {
	return c.walk(c.ladder(false))
}

func (c *Controller) ladder(on bool) []rung {
	var rungs []rung
	if !c.cecOnly {
		if on {
			rungs = append(rungs,
				rung{label: "tvservice", name: "tvservice", args: []string{"-p"}},
				rung{label: "vcgencmd", name: "vcgencmd", args: []string{"display_power", "1"}},
			)
		} else {
			rungs = append(rungs,
				rung{label: "tvservice", name: "tvservice", args: []string{"-o"}},
				rung{label: "vcgencmd", name: "vcgencmd", args: []string{"display_power", "0"}},
			)
		}
		if os.Getenv("DISPLAY") != "" {
			state := "off"
			if on {
				state = "on"
			}
			rungs = append(rungs, rung{label: "xset", name: "xset", args: []string{"dpms", "force", state}})
		}
	}

	cecCmd := "standby 0"
	if on {
		cecCmd = "on 0"
	}
	rungs = append(rungs, rung{label: "cec-client", stdin: cecCmd, name: "cec-client", args: []string{"-s", "-d", "1"}})
	return rungs
}

func (c *Controller) walk(rungs []rung) error {
	ctx := context.Background()
	var lastErr error
	for _, r := range rungs {
		if err := c.runner.Run(ctx, r.stdin, r.name, r.args...); err != nil {
			c.logger.Debug().Err(err).Str("tool", r.label).Msg("display control tool failed")
			lastErr = err
			continue
		}
		c.logger.Info().Str("tool", r.label).Msg("display power command sent")
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no display control tool available")
	}
	return lastErr
}
