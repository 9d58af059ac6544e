/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback plays exactly one item to completion or failure,
// honoring the configured retry budget and the arbiter's stop and pause
// signals.
package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/resolver"
)

// Outcome is the result of one driven item.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeStopped Outcome = "stopped"
	OutcomeError   Outcome = "error"
)

const defaultImageSeconds = 8

// Channel is the subset of the player control link the driver needs.
type Channel interface {
	LoadFile(uri string, startOffset float64) error
	GetPropertyBool(name string) (bool, error)
	Stop() error
}

// Source resolves item sources to playable URIs and drives the remote
// fallback ladder.
type Source interface {
	BuildMediaPath(src string, kind models.ItemKind) string
	CandidateURLs(ctx context.Context, url, formatSpec string) ([]string, error)
	Download(ctx context.Context, url string) (string, error)
}

// Control exposes the signals the driver polls at item-safe points.
type Control interface {
	StopRequested() bool
	Paused() bool
}

// Driver plays one item end to end.
type Driver struct {
	ch     Channel
	src    Source
	ctl    Control
	bus    *events.Bus
	logger zerolog.Logger

	// OnSource, when set, receives the resolved URI before each attempt.
	OnSource func(string)

	pollInterval time.Duration
	endPoll      time.Duration
	retryBackoff time.Duration
}

// NewDriver creates a playback driver.
func NewDriver(ch Channel, src Source, ctl Control, bus *events.Bus, logger zerolog.Logger) *Driver {
	return &Driver{
		ch:           ch,
		src:          src,
		ctl:          ctl,
		bus:          bus,
		logger:       logger.With().Str("component", "playback").Logger(),
		pollInterval: 50 * time.Millisecond,
		endPoll:      200 * time.Millisecond,
		retryBackoff: 500 * time.Millisecond,
	}
}

// Play runs an item through up to retries+1 attempts. Every attempt emits a
// start and an end event; a stop signal short-circuits to OutcomeStopped
// without exhausting the budget.
func (d *Driver) Play(ctx context.Context, item models.PlaybackItem, retries int, showTime bool) Outcome {
	if retries < 0 {
		retries = 0
	}

	uri := d.src.BuildMediaPath(item.Source, item.Kind)
	if d.OnSource != nil {
		d.OnSource(uri)
	}

	for attempt := 0; attempt <= retries; attempt++ {
		if d.stopped(ctx) {
			_ = d.ch.Stop()
			return OutcomeStopped
		}

		d.emit(events.EventPlaybackStart, item, showTime, map[string]any{
			"attempt": attempt + 1,
		})

		var ok, stoppedMid bool
		switch item.Kind {
		case models.KindImage:
			ok, stoppedMid = d.holdImage(ctx, uri, float64(item.Duration))
		case models.KindVideo:
			ok, stoppedMid = d.playVideo(ctx, uri, item.StartOffset)
		case models.KindRemoteVideo:
			ok, stoppedMid = d.playRemote(ctx, item, uri)
		default:
			ok = false
		}

		outcome := OutcomeError
		if stoppedMid {
			outcome = OutcomeStopped
		} else if ok {
			outcome = OutcomeOK
		}
		d.emit(events.EventPlaybackEnd, item, showTime, map[string]any{
			"ok":      ok,
			"outcome": string(outcome),
			"attempt": attempt + 1,
		})

		if stoppedMid {
			return OutcomeStopped
		}
		if ok {
			return OutcomeOK
		}

		if attempt < retries {
			if d.sleepResponsive(ctx, d.retryBackoff) {
				_ = d.ch.Stop()
				return OutcomeStopped
			}
		}
	}

	return OutcomeError
}

// holdImage loads the image and keeps it on screen for the given number of
// seconds. The countdown only runs while not paused; pause freezes the
// remaining time.
func (d *Driver) holdImage(ctx context.Context, uri string, seconds float64) (ok, stopped bool) {
	if err := d.ch.LoadFile(uri, 0); err != nil {
		return false, false
	}

	if seconds <= 0 {
		seconds = defaultImageSeconds
	}

	remaining := seconds
	last := time.Now()
	for remaining > 0 {
		if d.stopped(ctx) {
			_ = d.ch.Stop()
			return false, true
		}

		now := time.Now()
		if !d.ctl.Paused() {
			remaining -= now.Sub(last).Seconds()
		}
		last = now

		time.Sleep(d.pollInterval)
	}

	_ = d.ch.Stop()
	return true, false
}

// playVideo loads the file and blocks until the player reports end of
// stream or goes idle; both count as normal completion.
func (d *Driver) playVideo(ctx context.Context, uri string, startOffset float64) (ok, stopped bool) {
	if err := d.ch.LoadFile(uri, startOffset); err != nil {
		return false, false
	}
	return d.waitUntilEnd(ctx)
}

// playRemote runs the fallback ladder for remote video: direct URL first,
// then resolved stream URLs tier by tier, then a full download replayed as
// a local file.
func (d *Driver) playRemote(ctx context.Context, item models.PlaybackItem, url string) (ok, stopped bool) {
	if err := d.ch.LoadFile(url, item.StartOffset); err == nil {
		return d.waitUntilEnd(ctx)
	}

	d.logger.Warn().Str("url", url).Msg("direct remote load failed, trying resolved stream URLs")
	for _, formatSpec := range resolver.FormatTiers {
		if d.stopped(ctx) {
			return false, true
		}
		urls, err := d.src.CandidateURLs(ctx, url, formatSpec)
		if err != nil {
			continue
		}
		for _, candidate := range urls {
			if d.stopped(ctx) {
				return false, true
			}
			if err := d.ch.LoadFile(candidate, item.StartOffset); err == nil {
				return d.waitUntilEnd(ctx)
			}
		}
	}

	d.logger.Warn().Str("url", url).Msg("stream resolution failed, falling back to full download")
	local, err := d.src.Download(ctx, url)
	if err != nil {
		d.logger.Warn().Err(err).Str("url", url).Msg("download fallback failed")
		return false, false
	}
	return d.playVideo(ctx, local, item.StartOffset)
}

// waitUntilEnd polls until eof-reached or idle-active. Persistent channel
// errors (the player died mid-item) fail the attempt instead of spinning.
func (d *Driver) waitUntilEnd(ctx context.Context) (ok, stopped bool) {
	consecutiveErrs := 0
	for {
		if d.stopped(ctx) {
			_ = d.ch.Stop()
			return false, true
		}

		eof, err := d.ch.GetPropertyBool("eof-reached")
		if err == nil && eof {
			// leave the player idle for the next item
			_ = d.ch.Stop()
			return true, false
		}

		idle, idleErr := d.ch.GetPropertyBool("idle-active")
		if idleErr == nil && idle {
			return true, false
		}

		if err != nil && idleErr != nil {
			consecutiveErrs++
			if consecutiveErrs >= 10 {
				return false, false
			}
		} else {
			consecutiveErrs = 0
		}

		time.Sleep(d.endPoll)
	}
}

// sleepResponsive waits out the duration in poll-sized slices, returning
// true the moment a stop is observed.
func (d *Driver) sleepResponsive(ctx context.Context, total time.Duration) (stopped bool) {
	deadline := time.Now().Add(total)
	for time.Now().Before(deadline) {
		if d.stopped(ctx) {
			return true
		}
		time.Sleep(d.pollInterval)
	}
	return false
}

func (d *Driver) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return d.ctl.StopRequested()
}

func (d *Driver) emit(eventType events.EventType, item models.PlaybackItem, showTime bool, extra map[string]any) {
	payload := events.Payload{
		"event": string(eventType),
		"item":  item,
	}
	if showTime {
		payload["timestamp"] = time.Now().Format("15:04:05")
	}
	for k, v := range extra {
		payload[k] = v
	}
	d.bus.Publish(eventType, payload)
}
