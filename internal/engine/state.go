/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Mode is the current playback mode.
type Mode string

const (
	ModeIdle   Mode = "idle"
	ModeLoop   Mode = "loop"
	ModeDirect Mode = "direct"
)

// State is a copy-out snapshot of the arbiter.
type State struct {
	Mode           Mode                 `json:"mode"`
	LoopEnabled    bool                 `json:"loop_enabled"`
	Paused         bool                 `json:"paused"`
	CurrentItem    *models.PlaybackItem `json:"current_item,omitempty"`
	CurrentSource  string               `json:"current_source,omitempty"`
	ActivePlaylist string               `json:"active_playlist,omitempty"`
	BootedAt       time.Time            `json:"booted_at"`
	LastError      string               `json:"last_error,omitempty"`
}

// DirectRequest is a one-shot playlist submitted for immediate playback.
type DirectRequest struct {
	Playlist     models.Playlist
	ReturnToLoop bool
}

// ErrDirectBusy is returned when a direct request cannot be queued because
// one is already pending.
var ErrDirectBusy = errors.New("direct playback request already pending")

// Arbiter owns the mode state and the signals all playback actors share.
type Arbiter struct {
	mu    sync.Mutex
	state State

	playlist     models.Playlist
	havePlaylist bool
	scheduled    map[string]models.ScheduledEntry

	run             *Gate
	stop            *Gate
	playlistChanged Flag
	paused          atomic.Bool

	direct chan DirectRequest

	modeListener func(Mode)
}

// NewArbiter creates an arbiter with the loop gate lowered.
func NewArbiter() *Arbiter {
	return &Arbiter{
		state:     State{Mode: ModeIdle, BootedAt: time.Now()},
		scheduled: make(map[string]models.ScheduledEntry),
		run:       NewGate(false),
		stop:      NewGate(false),
		direct:    make(chan DirectRequest, 1),
	}
}

// Snapshot returns a copy of the current state.
func (a *Arbiter) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	s.LoopEnabled = a.run.IsSet()
	s.Paused = a.paused.Load()
	if a.state.CurrentItem != nil {
		item := *a.state.CurrentItem
		s.CurrentItem = &item
	}
	return s
}

// RunGate is the level signal that enables the repeating loop.
func (a *Arbiter) RunGate() *Gate { return a.run }

// RequestStop latches the stop-current signal. It stays raised until
// ClearStop so an in-flight item and its retry budget both observe it.
func (a *Arbiter) RequestStop() { a.stop.Set() }

// ClearStop lowers the stop latch.
func (a *Arbiter) ClearStop() { a.stop.Clear() }

// StopRequested reports the stop latch. Satisfies the playback driver's
// control interface.
func (a *Arbiter) StopRequested() bool { return a.stop.IsSet() }

// Paused reports the pause flag. Satisfies the playback driver's control
// interface.
func (a *Arbiter) Paused() bool { return a.paused.Load() }

// SetPaused sets the pause flag and returns the new value.
func (a *Arbiter) SetPaused(paused bool) bool {
	a.paused.Store(paused)
	return paused
}

// TogglePause flips the pause flag and returns the new value.
func (a *Arbiter) TogglePause() bool {
	for {
		old := a.paused.Load()
		if a.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// SignalPlaylistChanged marks the loop playlist as replaced; the loop
// restarts its cycle at the next safe point.
func (a *Arbiter) SignalPlaylistChanged() { a.playlistChanged.Set() }

// ConsumePlaylistChanged reads and clears the playlist-changed edge.
func (a *Arbiter) ConsumePlaylistChanged() bool { return a.playlistChanged.Consume() }

// PlaylistChanged reports the edge without clearing it.
func (a *Arbiter) PlaylistChanged() bool { return a.playlistChanged.IsSet() }

// InstallPlaylist replaces the in-memory loop playlist and signals the
// change.
func (a *Arbiter) InstallPlaylist(p models.Playlist) {
	a.mu.Lock()
	a.playlist = p
	a.havePlaylist = true
	a.mu.Unlock()
	a.playlistChanged.Set()
}

// CurrentPlaylist returns the in-memory loop playlist, if one is installed.
func (a *Arbiter) CurrentPlaylist() (models.Playlist, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playlist, a.havePlaylist
}

// SetMode records the playback mode.
func (a *Arbiter) SetMode(m Mode) {
	a.mu.Lock()
	changed := a.state.Mode != m
	a.state.Mode = m
	if m == ModeIdle {
		a.state.CurrentItem = nil
		a.state.CurrentSource = ""
	}
	listener := a.modeListener
	a.mu.Unlock()

	if changed && listener != nil {
		listener(m)
	}
}

// SetModeListener registers a callback invoked, outside the arbiter lock,
// whenever the mode actually changes. Call before the engine starts.
func (a *Arbiter) SetModeListener(fn func(Mode)) {
	a.mu.Lock()
	a.modeListener = fn
	a.mu.Unlock()
}

// SetCurrent records the item about to play.
func (a *Arbiter) SetCurrent(item models.PlaybackItem) {
	a.mu.Lock()
	it := item
	a.state.CurrentItem = &it
	a.mu.Unlock()
}

// SetCurrentSource records the resolved URI handed to the player.
func (a *Arbiter) SetCurrentSource(src string) {
	a.mu.Lock()
	a.state.CurrentSource = src
	a.mu.Unlock()
}

// SetActivePlaylist records the name of the scheduled entry in effect.
func (a *Arbiter) SetActivePlaylist(name string) {
	a.mu.Lock()
	a.state.ActivePlaylist = name
	a.mu.Unlock()
}

// SetLastError records the most recent operational error for status reports.
func (a *Arbiter) SetLastError(msg string) {
	a.mu.Lock()
	a.state.LastError = msg
	a.mu.Unlock()
}

// AddScheduled installs or replaces a named scheduled playlist.
func (a *Arbiter) AddScheduled(entry models.ScheduledEntry) {
	a.mu.Lock()
	a.scheduled[entry.Name] = entry
	a.mu.Unlock()
}

// RemoveScheduled deletes a named scheduled playlist, reporting whether it
// existed.
func (a *Arbiter) RemoveScheduled(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.scheduled[name]; !ok {
		return false
	}
	delete(a.scheduled, name)
	return true
}

// Scheduled returns the scheduled entries sorted by name.
func (a *Arbiter) Scheduled() []models.ScheduledEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ScheduledEntry, 0, len(a.scheduled))
	for _, entry := range a.scheduled {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReplaceScheduled swaps the whole scheduled set, used when restoring from
// the database at boot.
func (a *Arbiter) ReplaceScheduled(entries []models.ScheduledEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scheduled = make(map[string]models.ScheduledEntry, len(entries))
	for _, entry := range entries {
		a.scheduled[entry.Name] = entry
	}
}

// QueueDirect hands a one-shot playlist to the direct runner. The queue
// holds a single request; a second submission while one is pending returns
// ErrDirectBusy rather than silently replacing it.
func (a *Arbiter) QueueDirect(ctx context.Context, req DirectRequest) error {
	select {
	case a.direct <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrDirectBusy
	}
}

func (a *Arbiter) directRequests() <-chan DirectRequest { return a.direct }
