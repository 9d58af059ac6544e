/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/playback"
)

// ItemPlayer plays a single item to completion; the playback driver
// satisfies this.
type ItemPlayer interface {
	Play(ctx context.Context, item models.PlaybackItem, retries int, showTime bool) playback.Outcome
}

// Prefetcher fetches remote items to local files ahead of playback.
type Prefetcher interface {
	Prefetch(ctx context.Context, item *models.PlaybackItem) bool
}

// BootLoader supplies the loop playlist when none is installed in memory.
type BootLoader interface {
	LoadBootPlaylist() (models.Playlist, error)
}

// DisplayPower turns the attached display on and off.
type DisplayPower interface {
	On() error
	Off() error
}

// Engine runs the loop and direct playback goroutines against the arbiter.
type Engine struct {
	arb     *Arbiter
	player  ItemPlayer
	fetch   Prefetcher
	boot    BootLoader
	display DisplayPower
	bus     *events.Bus
	logger  zerolog.Logger

	gapPoll           time.Duration
	windowPoll        time.Duration
	bootRetryDelay    time.Duration
	preemptSettle     time.Duration
	heartbeatInterval time.Duration

	// display power state as last asserted by the loop goroutine
	tvOn    bool
	tvKnown bool
}

// New creates an engine. The display may be nil when no power control is
// available.
func New(arb *Arbiter, player ItemPlayer, fetch Prefetcher, boot BootLoader, display DisplayPower, bus *events.Bus, logger zerolog.Logger) *Engine {
	// every mode change carries a fresh snapshot so observers never wait
	// for the next heartbeat
	arb.SetModeListener(func(Mode) {
		bus.Publish(events.EventStatus, events.Payload{
			"event": "mode",
			"state": arb.Snapshot(),
		})
	})
	return &Engine{
		arb:               arb,
		player:            player,
		fetch:             fetch,
		boot:              boot,
		display:           display,
		bus:               bus,
		logger:            logger.With().Str("component", "engine").Logger(),
		gapPoll:           50 * time.Millisecond,
		windowPoll:        30 * time.Second,
		bootRetryDelay:    2 * time.Second,
		preemptSettle:     300 * time.Millisecond,
		heartbeatInterval: 5 * time.Minute,
	}
}

// Run starts the loop, direct, and heartbeat goroutines and blocks until
// the context ends.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.runLoop(ctx) }()
	go func() { defer wg.Done(); e.runDirect(ctx) }()
	go func() { defer wg.Done(); e.runHeartbeat(ctx) }()
	wg.Wait()
}

// runLoop is the repeating-playlist goroutine. It parks on the run gate,
// picks up the installed (or boot) playlist, and plays cycles until a
// signal interrupts it.
func (e *Engine) runLoop(ctx context.Context) {
	for ctx.Err() == nil {
		if err := e.arb.RunGate().Wait(ctx); err != nil {
			return
		}

		e.arb.ConsumePlaylistChanged()

		pl, ok := e.arb.CurrentPlaylist()
		if !ok {
			loaded, err := e.boot.LoadBootPlaylist()
			if err != nil {
				e.logger.Error().Err(err).Msg("no playable playlist, retrying")
				e.arb.SetLastError(err.Error())
				if sleepCtx(ctx, e.bootRetryDelay) {
					return
				}
				continue
			}
			pl = loaded
			e.arb.InstallPlaylist(pl)
			e.arb.ConsumePlaylistChanged()
		}

		e.playCycle(ctx, pl)
		e.arb.SetMode(ModeIdle)
	}
}

// playCycle plays one pass over the playlist. Shuffle order is drawn fresh
// per cycle. Returns when the cycle completes or a signal (stop, playlist
// change, gate lowered, context) ends it early.
func (e *Engine) playCycle(ctx context.Context, pl models.Playlist) {
	items := append([]models.PlaybackItem(nil), pl.Items...)
	if pl.Shuffle {
		rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	}

	for _, item := range items {
		if e.loopInterrupted(ctx) {
			return
		}

		if pl.ScheduleEnabled {
			if !pl.ScheduleActive(time.Now()) {
				if !e.waitForWindow(ctx, pl) {
					return
				}
			} else {
				e.ensureDisplayOn()
			}
		}

		it := item
		if e.fetch != nil {
			e.fetch.Prefetch(ctx, &it)
		}

		e.arb.SetMode(ModeLoop)
		e.arb.SetCurrent(it)

		outcome := e.player.Play(ctx, it, pl.Retries, pl.ShowTime)
		if outcome == playback.OutcomeStopped {
			return
		}

		if pl.GapSeconds > 0 {
			if e.waitGap(ctx, time.Duration(pl.GapSeconds)*time.Second, func() bool { return e.loopInterrupted(ctx) }) {
				return
			}
		}
	}
}

// runDirect consumes one-shot requests. It preempts the loop, plays the
// request, then either restores the loop or leaves the engine idle.
func (e *Engine) runDirect(ctx context.Context) {
	for {
		var req DirectRequest
		select {
		case <-ctx.Done():
			return
		case req = <-e.arb.directRequests():
		}

		e.logger.Info().Int("items", len(req.Playlist.Items)).Bool("return_to_loop", req.ReturnToLoop).
			Msg("direct playback request")

		// preempt whatever is playing
		e.arb.RequestStop()
		e.arb.RunGate().Clear()
		if sleepCtx(ctx, e.preemptSettle) {
			return
		}
		e.arb.ClearStop()

		for _, item := range req.Playlist.Items {
			if ctx.Err() != nil || e.arb.StopRequested() {
				break
			}

			it := item
			if e.fetch != nil {
				e.fetch.Prefetch(ctx, &it)
			}

			e.arb.SetMode(ModeDirect)
			e.arb.SetCurrent(it)

			outcome := e.player.Play(ctx, it, req.Playlist.Retries, req.Playlist.ShowTime)
			if outcome == playback.OutcomeStopped {
				break
			}

			if req.Playlist.GapSeconds > 0 {
				interrupted := func() bool { return ctx.Err() != nil || e.arb.StopRequested() }
				if e.waitGap(ctx, time.Duration(req.Playlist.GapSeconds)*time.Second, interrupted) {
					break
				}
			}
		}

		if req.ReturnToLoop {
			e.arb.ClearStop()
			e.arb.SetMode(ModeIdle)
			e.arb.RunGate().Set()
		} else {
			e.arb.SetMode(ModeIdle)
		}
	}
}

// runHeartbeat publishes a periodic status event so the broker side can
// tell a quiet client from a dead one.
func (e *Engine) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.bus.Publish(events.EventStatus, events.Payload{
				"event": "heartbeat",
				"state": e.arb.Snapshot(),
			})
		}
	}
}

// waitForWindow powers the display down and parks until the playlist's
// schedule window opens again. Returns false if a signal ended the wait.
func (e *Engine) waitForWindow(ctx context.Context, pl models.Playlist) bool {
	e.logger.Info().Str("start", pl.ScheduleStart).Str("end", pl.ScheduleEnd).
		Msg("outside schedule window, display off")
	e.ensureDisplayOff()
	e.arb.SetMode(ModeIdle)

	for {
		if e.loopInterrupted(ctx) {
			return false
		}
		if pl.ScheduleActive(time.Now()) {
			e.logger.Info().Msg("schedule window open, display on")
			e.ensureDisplayOn()
			return true
		}
		if sleepCtx(ctx, e.windowPoll) {
			return false
		}
	}
}

// ensureDisplayOn asserts display power once per off-to-on transition.
// The first call after boot always asserts, since the panel state is
// unknown until we have set it ourselves.
func (e *Engine) ensureDisplayOn() {
	if e.tvKnown && e.tvOn {
		return
	}
	e.displayOn()
	e.tvOn, e.tvKnown = true, true
}

func (e *Engine) ensureDisplayOff() {
	if e.tvKnown && !e.tvOn {
		return
	}
	e.displayOff()
	e.tvOn, e.tvKnown = false, true
}

// waitGap idles between items. Paused time does not count against the gap.
// Returns true if the interrupt predicate ended the wait early.
func (e *Engine) waitGap(ctx context.Context, gap time.Duration, interrupted func() bool) bool {
	remaining := gap.Seconds()
	last := time.Now()
	for remaining > 0 {
		if interrupted() {
			return true
		}
		now := time.Now()
		if !e.arb.Paused() {
			remaining -= now.Sub(last).Seconds()
		}
		last = now
		time.Sleep(e.gapPoll)
	}
	return false
}

func (e *Engine) loopInterrupted(ctx context.Context) bool {
	return ctx.Err() != nil ||
		e.arb.StopRequested() ||
		e.arb.PlaylistChanged() ||
		!e.arb.RunGate().IsSet()
}

func (e *Engine) displayOn() {
	if e.display == nil {
		return
	}
	if err := e.display.On(); err != nil {
		e.logger.Warn().Err(err).Msg("display power on failed")
	}
	e.bus.Publish(events.EventScheduleTVOn, events.Payload{"event": "tv_on"})
}

func (e *Engine) displayOff() {
	if e.display == nil {
		return
	}
	if err := e.display.Off(); err != nil {
		e.logger.Warn().Err(err).Msg("display power off failed")
	}
	e.bus.Publish(events.EventScheduleTVOff, events.Payload{"event": "tv_off"})
}

// sleepCtx sleeps for d, returning true if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
