/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"time"
)

// ParseClock parses a wall-clock string in HH:MM form.
func ParseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("clock %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock %q: out of range", s)
	}
	return hour, minute, nil
}

// CanonicalClock reparses a wall-clock string into zero-padded HH:MM form,
// so "8:05" and "08:05" compare equal everywhere downstream.
func CanonicalClock(s string) (string, error) {
	h, m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// WithinWindow reports whether now falls inside the daily window delimited
// by the start and end clocks. Both boundaries are inclusive to the minute.
// A window whose end precedes its start wraps past midnight. A missing end
// keeps the window open until midnight; a missing start means always
// active. Unparseable clocks are treated as absent.
func WithinWindow(now time.Time, start, end string) bool {
	startMin, haveStart := clockMinutes(start)
	endMin, haveEnd := clockMinutes(end)
	if !haveStart {
		return true
	}

	nowMin := now.Hour()*60 + now.Minute()
	if !haveEnd {
		return nowMin >= startMin
	}
	if startMin <= endMin {
		return nowMin >= startMin && nowMin <= endMin
	}
	// wraps past midnight
	return nowMin >= startMin || nowMin <= endMin
}

// ScheduleActive reports whether the playlist should be playing at the
// given instant. Playlists without schedule gating are always active.
func (p *Playlist) ScheduleActive(now time.Time) bool {
	if !p.ScheduleEnabled {
		return true
	}
	return WithinWindow(now, p.ScheduleStart, p.ScheduleEnd)
}

func clockMinutes(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	h, m, err := ParseClock(s)
	if err != nil {
		return 0, false
	}
	return h*60 + m, true
}
