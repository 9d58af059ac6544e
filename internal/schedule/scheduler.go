/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule fires scheduled playlist activations at their wall-clock
// start times.
package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Scheduler polls the wall clock and swaps in scheduled playlists. Each
// minute is evaluated at most once, so an activation fires exactly once no
// matter how the poll ticks line up.
type Scheduler struct {
	arb    *engine.Arbiter
	bus    *events.Bus
	logger zerolog.Logger

	tick       time.Duration
	settle     time.Duration
	lastMinute string
}

// New creates a scheduler.
func New(arb *engine.Arbiter, bus *events.Bus, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		arb:    arb,
		bus:    bus,
		logger: logger.With().Str("component", "schedule").Logger(),
		tick:   20 * time.Second,
		settle: 300 * time.Millisecond,
	}
}

// Run blocks until the context ends, checking for due activations on every
// tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkOnce(ctx, time.Now())
		}
	}
}

// checkOnce evaluates one instant. The minute guard makes repeated calls
// within the same wall-clock minute a no-op.
func (s *Scheduler) checkOnce(ctx context.Context, now time.Time) {
	minute := now.Format("15:04")
	if minute == s.lastMinute {
		return
	}
	s.lastMinute = minute

	for _, entry := range s.arb.Scheduled() {
		// compare parsed so unpadded start times like "8:05" still fire
		h, m, err := models.ParseClock(entry.StartTime)
		if err != nil {
			s.logger.Warn().Str("name", entry.Name).Str("start", entry.StartTime).Msg("unparseable start time, entry skipped")
			continue
		}
		if h != now.Hour() || m != now.Minute() {
			continue
		}
		s.activate(ctx, entry)
	}
}

// activate swaps the loop over to the entry's playlist: stop whatever is
// playing, let the player settle, install the playlist, and raise the run
// gate again.
func (s *Scheduler) activate(ctx context.Context, entry models.ScheduledEntry) {
	s.logger.Info().Str("name", entry.Name).Str("start", entry.StartTime).Msg("activating scheduled playlist")

	s.arb.RequestStop()
	s.arb.RunGate().Clear()

	t := time.NewTimer(s.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	s.arb.ClearStop()
	s.arb.InstallPlaylist(entry.Playlist)
	s.arb.SetActivePlaylist(entry.Name)
	s.arb.RunGate().Set()

	s.bus.Publish(events.EventScheduleActivated, events.Payload{
		"event": "playlist_activated",
		"name":  entry.Name,
		"start": entry.StartTime,
	})
}
