/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

type fakeChannel struct {
	mu       sync.Mutex
	loads    []string
	stops    int
	failLoad func(uri string) bool
	props    map[string]bool
}

func (c *fakeChannel) LoadFile(uri string, startOffset float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads = append(c.loads, uri)
	if c.failLoad != nil && c.failLoad(uri) {
		return &loadError{uri}
	}
	return nil
}

func (c *fakeChannel) GetPropertyBool(name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.props[name], nil
}

func (c *fakeChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeChannel) loadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loads)
}

type loadError struct{ uri string }

func (e *loadError) Error() string { return "load failed: " + e.uri }

type fakeSource struct {
	candidates map[string][]string
	downloaded string
	downloadOK bool
}

func (s *fakeSource) BuildMediaPath(src string, kind models.ItemKind) string { return src }

func (s *fakeSource) CandidateURLs(ctx context.Context, url, formatSpec string) ([]string, error) {
	if urls, ok := s.candidates[formatSpec]; ok {
		return urls, nil
	}
	return nil, &loadError{url}
}

func (s *fakeSource) Download(ctx context.Context, url string) (string, error) {
	if !s.downloadOK {
		return "", &loadError{url}
	}
	return s.downloaded, nil
}

type fakeControl struct {
	stop   atomic.Bool
	paused atomic.Bool
}

func (c *fakeControl) StopRequested() bool { return c.stop.Load() }
func (c *fakeControl) Paused() bool        { return c.paused.Load() }

func newTestDriver(ch Channel, src Source, ctl Control, bus *events.Bus) *Driver {
	d := NewDriver(ch, src, ctl, bus, zerolog.Nop())
	d.pollInterval = time.Millisecond
	d.endPoll = time.Millisecond
	d.retryBackoff = time.Millisecond
	return d
}

func drain(ch events.Subscriber) []events.Payload {
	var out []events.Payload
	for {
		select {
		case p := <-ch:
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestPlayRetriesExhausted(t *testing.T) {
	ch := &fakeChannel{failLoad: func(string) bool { return true }}
	bus := events.NewBus()
	starts := bus.Subscribe(events.EventPlaybackStart)
	ends := bus.Subscribe(events.EventPlaybackEnd)
	d := newTestDriver(ch, &fakeSource{}, &fakeControl{}, bus)

	item := models.PlaybackItem{Kind: models.KindVideo, Source: "/media/video/a.mp4"}
	if got := d.Play(context.Background(), item, 2, false); got != OutcomeError {
		t.Fatalf("outcome = %q, want %q", got, OutcomeError)
	}
	if ch.loadCount() != 3 {
		t.Fatalf("load attempts = %d, want 3", ch.loadCount())
	}
	if n := len(drain(starts)); n != 3 {
		t.Fatalf("start events = %d, want 3", n)
	}
	endEvents := drain(ends)
	if len(endEvents) != 3 {
		t.Fatalf("end events = %d, want 3", len(endEvents))
	}
	for i, p := range endEvents {
		if ok, _ := p["ok"].(bool); ok {
			t.Fatalf("failed attempt reported ok: %v", p)
		}
		if got, _ := p["attempt"].(int); got != i+1 {
			t.Fatalf("end event %d carries attempt %v, want %d", i, p["attempt"], i+1)
		}
	}
}

func TestPlayStopBeforeStart(t *testing.T) {
	ch := &fakeChannel{}
	ctl := &fakeControl{}
	ctl.stop.Store(true)
	bus := events.NewBus()
	starts := bus.Subscribe(events.EventPlaybackStart)
	d := newTestDriver(ch, &fakeSource{}, ctl, bus)

	item := models.PlaybackItem{Kind: models.KindVideo, Source: "a.mp4"}
	if got := d.Play(context.Background(), item, 5, false); got != OutcomeStopped {
		t.Fatalf("outcome = %q, want %q", got, OutcomeStopped)
	}
	if ch.loadCount() != 0 {
		t.Fatalf("load attempts = %d, want 0", ch.loadCount())
	}
	if n := len(drain(starts)); n != 0 {
		t.Fatalf("start events = %d, want 0", n)
	}
}

func TestStopDuringVideo(t *testing.T) {
	ch := &fakeChannel{props: map[string]bool{}}
	ctl := &fakeControl{}
	bus := events.NewBus()
	ends := bus.Subscribe(events.EventPlaybackEnd)
	d := newTestDriver(ch, &fakeSource{}, ctl, bus)

	item := models.PlaybackItem{Kind: models.KindVideo, Source: "a.mp4"}
	done := make(chan Outcome, 1)
	go func() { done <- d.Play(context.Background(), item, 0, false) }()

	time.Sleep(20 * time.Millisecond)
	ctl.stop.Store(true)

	select {
	case got := <-done:
		if got != OutcomeStopped {
			t.Fatalf("outcome = %q, want %q", got, OutcomeStopped)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after stop")
	}

	endEvents := drain(ends)
	if len(endEvents) != 1 {
		t.Fatalf("end events = %d, want 1", len(endEvents))
	}
	if outcome, _ := endEvents[0]["outcome"].(string); outcome != string(OutcomeStopped) {
		t.Fatalf("end outcome = %q, want %q", outcome, OutcomeStopped)
	}
}

func TestVideoCompletesOnEOF(t *testing.T) {
	ch := &fakeChannel{props: map[string]bool{"eof-reached": true}}
	bus := events.NewBus()
	ends := bus.Subscribe(events.EventPlaybackEnd)
	d := newTestDriver(ch, &fakeSource{}, &fakeControl{}, bus)

	item := models.PlaybackItem{Kind: models.KindVideo, Source: "a.mp4"}
	if got := d.Play(context.Background(), item, 0, false); got != OutcomeOK {
		t.Fatalf("outcome = %q, want %q", got, OutcomeOK)
	}
	if ch.stops == 0 {
		t.Fatal("player not stopped after eof")
	}
	endEvents := drain(ends)
	if len(endEvents) != 1 {
		t.Fatalf("end events = %d, want 1", len(endEvents))
	}
	if ok, _ := endEvents[0]["ok"].(bool); !ok {
		t.Fatalf("end event not ok: %v", endEvents[0])
	}
}

func TestHoldImagePauseFreezesCountdown(t *testing.T) {
	ch := &fakeChannel{}
	ctl := &fakeControl{}
	ctl.paused.Store(true)
	d := newTestDriver(ch, &fakeSource{}, ctl, events.NewBus())
	d.pollInterval = 5 * time.Millisecond

	go func() {
		time.Sleep(100 * time.Millisecond)
		ctl.paused.Store(false)
	}()

	started := time.Now()
	ok, stopped := d.holdImage(context.Background(), "/media/image/a.png", 0.15)
	elapsed := time.Since(started)

	if !ok || stopped {
		t.Fatalf("holdImage = (%v, %v), want (true, false)", ok, stopped)
	}
	// 100ms frozen plus the 150ms countdown
	if elapsed < 200*time.Millisecond {
		t.Fatalf("countdown ran while paused: elapsed %v", elapsed)
	}
}

func TestRemoteLadderFallsBackToDownload(t *testing.T) {
	ch := &fakeChannel{
		// every remote URL fails to load, the downloaded file plays
		failLoad: func(uri string) bool { return strings.Contains(uri, "://") },
		props:    map[string]bool{"idle-active": true},
	}
	src := &fakeSource{
		candidates: map[string][]string{}, // no tier resolves
		downloadOK: true,
		downloaded: "/var/cache/signage/abc.mp4",
	}
	d := newTestDriver(ch, src, &fakeControl{}, events.NewBus())

	item := models.PlaybackItem{Kind: models.KindRemoteVideo, Source: "https://example.com/watch?v=abc"}
	if got := d.Play(context.Background(), item, 0, false); got != OutcomeOK {
		t.Fatalf("outcome = %q, want %q", got, OutcomeOK)
	}

	ch.mu.Lock()
	last := ch.loads[len(ch.loads)-1]
	ch.mu.Unlock()
	if last != "/var/cache/signage/abc.mp4" {
		t.Fatalf("last load = %q, want downloaded file", last)
	}
}

func TestRemoteLadderUsesResolvedURL(t *testing.T) {
	ch := &fakeChannel{
		failLoad: func(uri string) bool { return strings.HasPrefix(uri, "https://example.com/") },
		props:    map[string]bool{"idle-active": true},
	}
	src := &fakeSource{
		candidates: map[string][]string{
			"best": {"https://cdn.example.net/stream.m3u8"},
		},
	}
	d := newTestDriver(ch, src, &fakeControl{}, events.NewBus())

	item := models.PlaybackItem{Kind: models.KindRemoteVideo, Source: "https://example.com/watch?v=abc"}
	if got := d.Play(context.Background(), item, 0, false); got != OutcomeOK {
		t.Fatalf("outcome = %q, want %q", got, OutcomeOK)
	}
}
