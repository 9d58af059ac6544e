/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package commands parses broker control messages and applies them to the
// playback engine.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Store persists playlists and scheduled entries received over the wire.
// Any write method may be a no-op when persistence is disabled.
type Store interface {
	LoadPlaylistFile(path string) (models.Playlist, error)
	PersistRemotePlaylist(p models.Playlist) error
	SaveScheduled(entry models.ScheduledEntry) error
	DeleteScheduled(name string) error
}

// Pauser pushes the pause state down to the player so a paused video
// actually freezes, not just the countdown.
type Pauser interface {
	Pause(paused bool) error
}

// Handler dispatches control actions against the arbiter.
type Handler struct {
	arb     *engine.Arbiter
	store   Store
	display engine.DisplayPower
	bus     *events.Bus
	logger  zerolog.Logger

	// Player, when set, mirrors pause commands onto the running player.
	Player Pauser

	nextPulse time.Duration
}

// NewHandler creates a command handler. store and display may be nil.
func NewHandler(arb *engine.Arbiter, store Store, display engine.DisplayPower, bus *events.Bus, logger zerolog.Logger) *Handler {
	return &Handler{
		arb:       arb,
		store:     store,
		display:   display,
		bus:       bus,
		logger:    logger.With().Str("component", "commands").Logger(),
		nextPulse: 100 * time.Millisecond,
	}
}

// canonical action names. Incoming actions are folded through actionAliases
// first, so several broker-side vocabularies land on the same behavior.
const (
	actionPause        = "pause"
	actionResume       = "resume"
	actionToggle       = "pause.toggle"
	actionNext         = "next"
	actionStatus       = "status"
	actionLoopStart    = "loop.start"
	actionLoopStop     = "loop.stop"
	actionPlayOnce     = "play.once"
	actionTVPower      = "tv.power"
	actionScheduleSet  = "schedule.set"
	actionScheduleAdd  = "schedule.playlist.add"
	actionScheduleDel  = "schedule.playlist.remove"
	actionScheduleList = "schedule.playlist.list"
)

var actionAliases = map[string]string{
	"pause":       actionPause,
	"play.pause":  actionPause,
	"loop.pause":  actionPause,
	"resume":      actionResume,
	"loop.resume": actionResume,
	"unpause":     actionResume,
	"play":        actionResume,
	"toggle":      actionToggle,
	"playpause":   actionToggle,
	"next":        actionNext,
	"skip":        actionNext,
	"play.next":   actionNext,
	"status":      actionStatus,
	"ping":        actionStatus,

	"loop.start":   actionLoopStart,
	"loop.set":     actionLoopStart,
	"playlist.set": actionLoopStart,
	"play.loop":    actionLoopStart,
	"loop.stop":    actionLoopStop,
	"stop":         actionLoopStop,

	"play.once": actionPlayOnce,
	"direct":    actionPlayOnce,

	"tv.power": actionTVPower,
	"tv":       actionTVPower,

	"schedule.set":             actionScheduleSet,
	"schedule.playlist.add":    actionScheduleAdd,
	"schedule.playlist.remove": actionScheduleDel,
	"schedule.playlist.list":   actionScheduleList,
}

// Handle parses one raw control message and executes it, returning the
// response payload for the status channel. A bare JSON string is coerced
// to {"action": <string>}.
func (h *Handler) Handle(ctx context.Context, data []byte) events.Payload {
	msg, err := decode(data)
	if err != nil {
		return h.fail("", err)
	}

	raw, _ := msg["action"].(string)
	if raw == "" {
		// bare power payloads like {"state":"on"} come from the oldest
		// broker-side publishers
		if _, ok := msg["state"]; ok {
			raw = actionTVPower
		} else if _, ok := msg["power"]; ok {
			raw = actionTVPower
		}
	}
	action, ok := actionAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return h.fail(raw, fmt.Errorf("unknown action %q", raw))
	}

	h.logger.Info().Str("action", action).Msg("control command")

	switch action {
	case actionPause:
		h.setPaused(h.arb.SetPaused(true))
		return h.ok(action, events.Payload{"paused": true})
	case actionResume:
		h.setPaused(h.arb.SetPaused(false))
		return h.ok(action, events.Payload{"paused": false})
	case actionToggle:
		paused := h.arb.TogglePause()
		h.setPaused(paused)
		return h.ok(action, events.Payload{"paused": paused})
	case actionNext:
		h.pulseStop()
		return h.ok(action, nil)
	case actionStatus:
		return h.ok(action, events.Payload{"state": h.arb.Snapshot()})
	case actionLoopStart:
		return h.loopStart(msg)
	case actionLoopStop:
		h.arb.RequestStop()
		h.arb.RunGate().Clear()
		return h.ok(action, nil)
	case actionPlayOnce:
		return h.playOnce(ctx, msg)
	case actionTVPower:
		return h.tvPower(msg)
	case actionScheduleSet:
		return h.scheduleSet(msg)
	case actionScheduleAdd:
		return h.scheduleAdd(msg)
	case actionScheduleDel:
		return h.scheduleRemove(msg)
	case actionScheduleList:
		return h.ok(action, events.Payload{"scheduled": h.arb.Scheduled()})
	}
	return h.fail(action, fmt.Errorf("unhandled action %q", action))
}

func (h *Handler) loopStart(msg map[string]any) events.Payload {
	if raw, ok := msg["playlist"].(map[string]any); ok {
		pl := models.PlaylistFromMap(raw)
		if err := pl.Validate(); err != nil {
			return h.fail(actionLoopStart, err)
		}
		h.arb.InstallPlaylist(*pl)
		if h.store != nil {
			if err := h.store.PersistRemotePlaylist(*pl); err != nil {
				h.logger.Warn().Err(err).Msg("remote playlist not persisted")
			}
		}
	} else if path, ok := msg["playlist_file"].(string); ok && path != "" {
		if h.store == nil {
			return h.fail(actionLoopStart, fmt.Errorf("playlist_file needs a store"))
		}
		pl, err := h.store.LoadPlaylistFile(path)
		if err != nil {
			return h.fail(actionLoopStart, err)
		}
		h.arb.InstallPlaylist(pl)
	}
	h.arb.ClearStop()
	h.arb.RunGate().Set()
	return h.ok(actionLoopStart, nil)
}

func (h *Handler) playOnce(ctx context.Context, msg map[string]any) events.Payload {
	pl, err := directPlaylist(msg)
	if err != nil {
		return h.fail(actionPlayOnce, err)
	}

	returnToLoop, _ := msg["return_to_loop"].(bool)
	req := engine.DirectRequest{Playlist: *pl, ReturnToLoop: returnToLoop}
	if err := h.arb.QueueDirect(ctx, req); err != nil {
		return h.fail(actionPlayOnce, err)
	}
	return h.ok(actionPlayOnce, events.Payload{"queued": len(pl.Items), "return_to_loop": returnToLoop})
}

// directPlaylist builds the one-shot playlist for play.once. Callers send
// either a full "playlist" map or a single "item" with retries and
// show_time alongside it at the top level.
func directPlaylist(msg map[string]any) (*models.Playlist, error) {
	if raw, ok := msg["playlist"].(map[string]any); ok {
		pl := models.PlaylistFromMap(raw)
		if err := pl.Validate(); err != nil {
			return nil, err
		}
		return pl, nil
	}
	if raw, ok := msg["item"].(map[string]any); ok {
		item, err := models.ItemFromMap(raw)
		if err != nil {
			return nil, err
		}
		pl := &models.Playlist{Items: []models.PlaybackItem{*item}}
		if v, ok := msg["retries"]; ok {
			pl.Retries = intArg(v)
		}
		if v, ok := msg["show_time"].(bool); ok {
			pl.ShowTime = v
		}
		if err := pl.Validate(); err != nil {
			return nil, err
		}
		return pl, nil
	}
	return nil, fmt.Errorf("play.once requires a playlist or an item")
}

// intArg folds the number shapes JSON decoding produces.
func intArg(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	}
	return 0
}

func (h *Handler) tvPower(msg map[string]any) events.Payload {
	if h.display == nil {
		return h.fail(actionTVPower, fmt.Errorf("no display control available"))
	}
	on, err := powerState(msg)
	if err != nil {
		return h.fail(actionTVPower, err)
	}
	if on {
		err = h.display.On()
	} else {
		err = h.display.Off()
	}
	if err != nil {
		return h.fail(actionTVPower, err)
	}
	return h.ok(actionTVPower, events.Payload{"on": on})
}

// scheduleSet updates the schedule window on the installed loop playlist.
func (h *Handler) scheduleSet(msg map[string]any) events.Payload {
	pl, ok := h.arb.CurrentPlaylist()
	if !ok {
		return h.fail(actionScheduleSet, fmt.Errorf("no playlist installed"))
	}

	if v, ok := msg["enabled"].(bool); ok {
		pl.ScheduleEnabled = v
	}
	if v, ok := msg["start"].(string); ok {
		if _, _, err := models.ParseClock(v); err != nil {
			return h.fail(actionScheduleSet, err)
		}
		pl.ScheduleStart = v
		pl.ScheduleEnabled = true
	}
	if v, ok := msg["end"].(string); ok {
		if _, _, err := models.ParseClock(v); err != nil {
			return h.fail(actionScheduleSet, err)
		}
		pl.ScheduleEnd = v
	}

	h.arb.InstallPlaylist(pl)
	return h.ok(actionScheduleSet, events.Payload{
		"enabled": pl.ScheduleEnabled,
		"start":   pl.ScheduleStart,
		"end":     pl.ScheduleEnd,
	})
}

func (h *Handler) scheduleAdd(msg map[string]any) events.Payload {
	name, _ := msg["name"].(string)
	if name == "" {
		return h.fail(actionScheduleAdd, fmt.Errorf("schedule entry needs a name"))
	}
	start, _ := msg["start_time"].(string)
	if start == "" {
		start, _ = msg["start"].(string)
	}
	start, err := models.CanonicalClock(start)
	if err != nil {
		return h.fail(actionScheduleAdd, err)
	}
	raw, ok := msg["playlist"].(map[string]any)
	if !ok {
		return h.fail(actionScheduleAdd, fmt.Errorf("schedule entry needs a playlist"))
	}
	pl := models.PlaylistFromMap(raw)
	if err := pl.Validate(); err != nil {
		return h.fail(actionScheduleAdd, err)
	}

	entry := models.ScheduledEntry{Name: name, StartTime: start, Playlist: *pl}
	h.arb.AddScheduled(entry)
	if h.store != nil {
		if err := h.store.SaveScheduled(entry); err != nil {
			h.logger.Warn().Err(err).Str("name", name).Msg("scheduled entry not persisted")
		}
	}
	return h.ok(actionScheduleAdd, events.Payload{"name": name, "start_time": start})
}

func (h *Handler) scheduleRemove(msg map[string]any) events.Payload {
	name, _ := msg["name"].(string)
	if name == "" {
		return h.fail(actionScheduleDel, fmt.Errorf("schedule entry needs a name"))
	}
	if !h.arb.RemoveScheduled(name) {
		return h.fail(actionScheduleDel, fmt.Errorf("no scheduled entry named %q", name))
	}
	if h.store != nil {
		if err := h.store.DeleteScheduled(name); err != nil {
			h.logger.Warn().Err(err).Str("name", name).Msg("scheduled entry not removed from store")
		}
	}
	return h.ok(actionScheduleDel, events.Payload{"name": name})
}

func (h *Handler) setPaused(paused bool) {
	if h.Player == nil {
		return
	}
	if err := h.Player.Pause(paused); err != nil {
		h.logger.Warn().Err(err).Msg("player pause state not applied")
	}
}

// powerState pulls the desired display state out of the message, accepting
// the several shapes broker-side publishers use.
func powerState(msg map[string]any) (bool, error) {
	v, ok := msg["state"]
	if !ok {
		v, ok = msg["power"]
	}
	if !ok {
		v, ok = msg["on"]
	}
	if !ok {
		return false, fmt.Errorf("tv.power requires a state")
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "on", "true", "1", "yes":
			return true, nil
		case "off", "false", "0", "no", "standby":
			return false, nil
		}
		return false, fmt.Errorf("unrecognized power state %q", t)
	}
	return false, fmt.Errorf("unrecognized power state %v", v)
}

// pulseStop raises the stop latch just long enough to end the current item,
// then clears it so the loop resumes.
func (h *Handler) pulseStop() {
	h.arb.RequestStop()
	time.AfterFunc(h.nextPulse, h.arb.ClearStop)
}

func (h *Handler) ok(action string, extra events.Payload) events.Payload {
	p := events.Payload{"ok": true, "action": action}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func (h *Handler) fail(action string, err error) events.Payload {
	h.logger.Warn().Err(err).Str("action", action).Msg("command rejected")
	h.bus.Publish(events.EventError, events.Payload{
		"event":  "error",
		"action": action,
		"error":  err.Error(),
	})
	return events.Payload{"ok": false, "action": action, "error": err.Error()}
}

// decode accepts either a JSON object or a bare JSON string naming the
// action. A plain non-JSON string is also accepted for hand-typed tests.
func decode(data []byte) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty command")
	}

	var msg map[string]any
	if err := json.Unmarshal([]byte(trimmed), &msg); err == nil {
		return msg, nil
	}

	var bare string
	if err := json.Unmarshal([]byte(trimmed), &bare); err == nil {
		return map[string]any{"action": bare}, nil
	}

	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return map[string]any{"action": trimmed}, nil
	}
	return nil, fmt.Errorf("undecodable command payload")
}
