/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package commands

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type memStore struct {
	files     map[string]models.Playlist
	persisted []models.Playlist
	saved     []models.ScheduledEntry
	deleted   []string
}

func (s *memStore) LoadPlaylistFile(path string) (models.Playlist, error) {
	pl, ok := s.files[path]
	if !ok {
		return models.Playlist{}, fmt.Errorf("no playlist file %q", path)
	}
	return pl, nil
}

func (s *memStore) PersistRemotePlaylist(p models.Playlist) error {
	s.persisted = append(s.persisted, p)
	return nil
}

func (s *memStore) SaveScheduled(e models.ScheduledEntry) error {
	s.saved = append(s.saved, e)
	return nil
}

func (s *memStore) DeleteScheduled(name string) error {
	s.deleted = append(s.deleted, name)
	return nil
}

type fakeDisplay struct{ on, off int }

func (d *fakeDisplay) On() error  { d.on++; return nil }
func (d *fakeDisplay) Off() error { d.off++; return nil }

func newTestHandler(arb *engine.Arbiter, store *memStore, display *fakeDisplay) *Handler {
	var st Store
	if store != nil {
		st = store
	}
	var dp engine.DisplayPower
	if display != nil {
		dp = display
	}
	h := NewHandler(arb, st, dp, events.NewBus(), zerolog.Nop())
	h.nextPulse = 5 * time.Millisecond
	return h
}

func handle(t *testing.T, h *Handler, raw string) events.Payload {
	t.Helper()
	return h.Handle(context.Background(), []byte(raw))
}

func TestPauseResumeToggleAliases(t *testing.T) {
	arb := engine.NewArbiter()
	h := newTestHandler(arb, nil, nil)

	if resp := handle(t, h, `{"action":"pause"}`); resp["ok"] != true {
		t.Fatalf("pause rejected: %v", resp)
	}
	if !arb.Paused() {
		t.Fatal("pause did not set the flag")
	}

	if resp := handle(t, h, `"unpause"`); resp["ok"] != true {
		t.Fatalf("bare-string resume rejected: %v", resp)
	}
	if arb.Paused() {
		t.Fatal("resume did not clear the flag")
	}

	if resp := handle(t, h, `{"action":"playpause"}`); resp["paused"] != true {
		t.Fatalf("toggle response: %v", resp)
	}
	if !arb.Paused() {
		t.Fatal("toggle did not flip the flag")
	}
}

func TestUnknownActionRejected(t *testing.T) {
	h := newTestHandler(engine.NewArbiter(), nil, nil)
	resp := handle(t, h, `{"action":"explode"}`)
	if resp["ok"] != false {
		t.Fatalf("unknown action accepted: %v", resp)
	}
	if resp["error"] == "" {
		t.Fatal("rejection carries no error text")
	}
}

func TestLoopStartInstallsAndPersists(t *testing.T) {
	arb := engine.NewArbiter()
	store := &memStore{}
	h := newTestHandler(arb, store, nil)

	resp := handle(t, h, `{
		"action": "playlist.set",
		"playlist": {
			"list": [
				{"type": "image", "source": "a.png", "duration": 5},
				{"type": "youtube", "src": "https://example.com/watch?v=x"}
			],
			"black_between": 2
		}
	}`)
	if resp["ok"] != true {
		t.Fatalf("loop start rejected: %v", resp)
	}

	pl, ok := arb.CurrentPlaylist()
	if !ok {
		t.Fatal("playlist not installed")
	}
	if len(pl.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(pl.Items))
	}
	if pl.Items[1].Kind != models.KindRemoteVideo {
		t.Fatalf("alias kind = %q, want %q", pl.Items[1].Kind, models.KindRemoteVideo)
	}
	if pl.GapSeconds != 2 {
		t.Fatalf("gap = %d, want 2", pl.GapSeconds)
	}
	if !arb.RunGate().IsSet() {
		t.Fatal("run gate not raised")
	}
	if len(store.persisted) != 1 {
		t.Fatalf("persist calls = %d, want 1", len(store.persisted))
	}
}

func TestLoopStopLowersGate(t *testing.T) {
	arb := engine.NewArbiter()
	arb.RunGate().Set()
	h := newTestHandler(arb, nil, nil)

	if resp := handle(t, h, `{"action":"stop"}`); resp["ok"] != true {
		t.Fatalf("stop rejected: %v", resp)
	}
	if arb.RunGate().IsSet() {
		t.Fatal("run gate still raised after stop")
	}
	if !arb.StopRequested() {
		t.Fatal("stop latch not raised")
	}
}

func TestNextPulsesStop(t *testing.T) {
	arb := engine.NewArbiter()
	h := newTestHandler(arb, nil, nil)

	if resp := handle(t, h, `{"action":"skip"}`); resp["ok"] != true {
		t.Fatalf("next rejected: %v", resp)
	}
	if !arb.StopRequested() {
		t.Fatal("next did not raise the stop latch")
	}
	deadline := time.Now().Add(time.Second)
	for arb.StopRequested() {
		if time.Now().After(deadline) {
			t.Fatal("stop latch never cleared after pulse")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPlayOnceQueuesDirect(t *testing.T) {
	arb := engine.NewArbiter()
	h := newTestHandler(arb, nil, nil)

	resp := handle(t, h, `{
		"action": "play.once",
		"return_to_loop": true,
		"playlist": {"items": [{"kind": "video", "src": "v.mp4"}]}
	}`)
	if resp["ok"] != true {
		t.Fatalf("play.once rejected: %v", resp)
	}

	// second submission while the first is still queued
	resp = handle(t, h, `{
		"action": "play.once",
		"playlist": {"items": [{"kind": "video", "src": "w.mp4"}]}
	}`)
	if resp["ok"] != false {
		t.Fatalf("second play.once accepted while busy: %v", resp)
	}
}

func TestPlayOnceRequiresPlaylist(t *testing.T) {
	h := newTestHandler(engine.NewArbiter(), nil, nil)
	if resp := handle(t, h, `{"action":"play.once"}`); resp["ok"] != false {
		t.Fatalf("playlist-less play.once accepted: %v", resp)
	}
}

func TestPlayOnceAcceptsBareItem(t *testing.T) {
	arb := engine.NewArbiter()
	h := newTestHandler(arb, nil, nil)

	resp := handle(t, h, `{
		"action": "play.once",
		"item": {"type": "video", "source": "clip.mp4"},
		"retries": 2,
		"show_time": true
	}`)
	if resp["ok"] != true {
		t.Fatalf("bare-item play.once rejected: %v", resp)
	}
	if resp["queued"] != 1 {
		t.Fatalf("queued = %v, want 1", resp["queued"])
	}
}

func TestDirectPlaylistWrapsItem(t *testing.T) {
	pl, err := directPlaylist(map[string]any{
		"item":      map[string]any{"kind": "image", "src": "a.png", "duration": float64(5)},
		"retries":   float64(3),
		"show_time": true,
	})
	if err != nil {
		t.Fatalf("directPlaylist: %v", err)
	}
	if len(pl.Items) != 1 || pl.Items[0].Source != "a.png" {
		t.Fatalf("wrapped items = %+v", pl.Items)
	}
	if pl.Retries != 3 {
		t.Fatalf("retries = %d, want 3", pl.Retries)
	}
	if !pl.ShowTime {
		t.Fatal("show_time not carried over")
	}
}

func TestLoopStartFromPlaylistFile(t *testing.T) {
	arb := engine.NewArbiter()
	store := &memStore{files: map[string]models.Playlist{
		"evening.yaml": {Items: []models.PlaybackItem{{Kind: models.KindImage, Source: "e.png", Duration: 4}}},
	}}
	h := newTestHandler(arb, store, nil)

	resp := handle(t, h, `{"action": "playlist.set", "playlist_file": "evening.yaml"}`)
	if resp["ok"] != true {
		t.Fatalf("playlist_file loop start rejected: %v", resp)
	}
	pl, ok := arb.CurrentPlaylist()
	if !ok {
		t.Fatal("playlist not installed")
	}
	if len(pl.Items) != 1 || pl.Items[0].Source != "e.png" {
		t.Fatalf("installed items = %+v", pl.Items)
	}

	resp = handle(t, h, `{"action": "playlist.set", "playlist_file": "missing.yaml"}`)
	if resp["ok"] != false {
		t.Fatalf("unreadable playlist_file accepted: %v", resp)
	}
}

func TestTVPowerCoercions(t *testing.T) {
	cases := []struct {
		raw    string
		wantOn bool
	}{
		{`{"action":"tv.power","state":"on"}`, true},
		{`{"action":"tv","power":"off"}`, false},
		{`{"action":"tv.power","state":true}`, true},
		{`{"action":"tv.power","on":1}`, true},
		{`{"action":"tv.power","state":"standby"}`, false},
		{`{"state":"on"}`, true},
		{`{"power":"off"}`, false},
	}
	for _, tc := range cases {
		display := &fakeDisplay{}
		h := newTestHandler(engine.NewArbiter(), nil, display)
		resp := handle(t, h, tc.raw)
		if resp["ok"] != true {
			t.Fatalf("%s rejected: %v", tc.raw, resp)
		}
		if tc.wantOn && display.on != 1 {
			t.Fatalf("%s: on calls = %d", tc.raw, display.on)
		}
		if !tc.wantOn && display.off != 1 {
			t.Fatalf("%s: off calls = %d", tc.raw, display.off)
		}
	}
}

func TestScheduleAddListRemove(t *testing.T) {
	arb := engine.NewArbiter()
	store := &memStore{}
	h := newTestHandler(arb, store, nil)

	resp := handle(t, h, `{
		"action": "schedule.playlist.add",
		"name": "morning",
		"start_time": "08:00",
		"playlist": {"items": [{"kind": "image", "src": "m.png"}]}
	}`)
	if resp["ok"] != true {
		t.Fatalf("add rejected: %v", resp)
	}
	if len(store.saved) != 1 || store.saved[0].Name != "morning" {
		t.Fatalf("store saves = %v", store.saved)
	}

	resp = handle(t, h, `{"action":"schedule.playlist.list"}`)
	entries, ok := resp["scheduled"].([]models.ScheduledEntry)
	if !ok || len(entries) != 1 {
		t.Fatalf("list = %v", resp["scheduled"])
	}

	resp = handle(t, h, `{"action":"schedule.playlist.remove","name":"morning"}`)
	if resp["ok"] != true {
		t.Fatalf("remove rejected: %v", resp)
	}
	if len(arb.Scheduled()) != 0 {
		t.Fatal("entry still present after remove")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "morning" {
		t.Fatalf("store deletes = %v", store.deleted)
	}

	resp = handle(t, h, `{"action":"schedule.playlist.remove","name":"morning"}`)
	if resp["ok"] != false {
		t.Fatal("removing a missing entry succeeded")
	}
}

func TestScheduleAddCanonicalizesStartTime(t *testing.T) {
	arb := engine.NewArbiter()
	h := newTestHandler(arb, nil, nil)

	resp := handle(t, h, `{
		"action": "schedule.playlist.add",
		"name": "early",
		"start_time": "8:05",
		"playlist": {"items": [{"kind": "image", "src": "m.png"}]}
	}`)
	if resp["ok"] != true {
		t.Fatalf("add rejected: %v", resp)
	}
	entries := arb.Scheduled()
	if len(entries) != 1 || entries[0].StartTime != "08:05" {
		t.Fatalf("stored start time = %v, want 08:05", entries)
	}
}

func TestScheduleAddRejectsBadClock(t *testing.T) {
	h := newTestHandler(engine.NewArbiter(), nil, nil)
	resp := handle(t, h, `{
		"action": "schedule.playlist.add",
		"name": "bad",
		"start_time": "25:99",
		"playlist": {"items": [{"kind": "image", "src": "m.png"}]}
	}`)
	if resp["ok"] != false {
		t.Fatalf("bad clock accepted: %v", resp)
	}
}

func TestScheduleSetUpdatesWindow(t *testing.T) {
	arb := engine.NewArbiter()
	arb.InstallPlaylist(models.Playlist{Items: []models.PlaybackItem{{Kind: models.KindImage, Source: "a.png"}}})
	h := newTestHandler(arb, nil, nil)

	resp := handle(t, h, `{"action":"schedule.set","start":"07:30","end":"22:00"}`)
	if resp["ok"] != true {
		t.Fatalf("schedule.set rejected: %v", resp)
	}
	pl, _ := arb.CurrentPlaylist()
	if !pl.ScheduleEnabled || pl.ScheduleStart != "07:30" || pl.ScheduleEnd != "22:00" {
		t.Fatalf("window = enabled=%v %q-%q", pl.ScheduleEnabled, pl.ScheduleStart, pl.ScheduleEnd)
	}
}
