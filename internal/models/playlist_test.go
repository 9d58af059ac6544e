package models

import (
	"reflect"
	"testing"
)

func TestNormalizePlaylistRewritesAliases(t *testing.T) {
	data := map[string]any{
		"list": []any{
			map[string]any{"type": "image", "src": "a.png", "duration": float64(5)},
			map[string]any{"kind": "youtube", "src": "https://youtu.be/abc"},
			"not-a-map",
		},
		"black_between": float64(3),
	}

	out := NormalizePlaylist(data)

	if _, ok := out["list"]; ok {
		t.Error("alias key 'list' should be removed")
	}
	items, ok := out["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("items = %#v, want 2 normalized entries", out["items"])
	}
	first := items[0].(map[string]any)
	if first["kind"] != "image" {
		t.Errorf("item kind = %v, want image", first["kind"])
	}
	if _, ok := first["type"]; ok {
		t.Error("alias key 'type' should be removed")
	}
	second := items[1].(map[string]any)
	if second["kind"] != "remote-video" {
		t.Errorf("legacy kind youtube not rewritten: %v", second["kind"])
	}
	if out["gap_seconds"] != float64(3) {
		t.Errorf("gap_seconds = %v, want 3", out["gap_seconds"])
	}
	if out["retries"] != 0 {
		t.Errorf("retries default = %v, want 0", out["retries"])
	}
}

func TestNormalizePlaylistIsIdempotent(t *testing.T) {
	build := func() map[string]any {
		return map[string]any{
			"list": []any{
				map[string]any{"type": "video", "src": "v.mp4", "start_at": float64(12)},
				map[string]any{"kind": "youtube", "src": "https://example.com/w"},
			},
			"black_between": float64(2),
			"shuffle":       true,
		}
	}

	once := NormalizePlaylist(build())
	twice := NormalizePlaylist(NormalizePlaylist(build()))

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("normalize not idempotent:\nonce:  %#v\ntwice: %#v", once, twice)
	}
}

func TestPlaylistFromMapDropsBrokenItems(t *testing.T) {
	pl := PlaylistFromMap(map[string]any{
		"items": []any{
			map[string]any{"kind": "image", "src": "a.png", "duration": float64(8)},
			map[string]any{"kind": "hologram", "src": "x"},
			map[string]any{"kind": "video"},
		},
		"retries": float64(2),
	})

	if len(pl.Items) != 1 {
		t.Fatalf("items = %d, want 1 (broken items dropped)", len(pl.Items))
	}
	if pl.Items[0].Duration != 8 {
		t.Errorf("duration = %d, want 8", pl.Items[0].Duration)
	}
	if pl.Retries != 2 {
		t.Errorf("retries = %d, want 2", pl.Retries)
	}
}

func TestItemFromMapRejectsUnknownKind(t *testing.T) {
	if _, err := ItemFromMap(map[string]any{"kind": "audio", "src": "a.mp3"}); err == nil {
		t.Fatal("expected unknown kind error")
	}
	if _, err := ItemFromMap(map[string]any{"kind": "image"}); err == nil {
		t.Fatal("expected missing source error")
	}
}

func TestValidateRejectsEmptyPlaylist(t *testing.T) {
	pl := PlaylistFromMap(map[string]any{})
	if err := pl.Validate(); err == nil {
		t.Fatal("expected validation error for empty playlist")
	}
}

func TestScheduledEntryRoundTrip(t *testing.T) {
	entry := ScheduledEntry{
		Name:      "morning",
		StartTime: "08:30",
		Playlist: Playlist{
			Items:   []PlaybackItem{{Kind: KindImage, Source: "hello.png", Duration: 10}},
			Retries: 1,
		},
	}

	row, err := RowFromEntry(entry)
	if err != nil {
		t.Fatalf("row from entry: %v", err)
	}
	back, err := EntryFromRow(*row)
	if err != nil {
		t.Fatalf("entry from row: %v", err)
	}
	if !reflect.DeepEqual(entry, *back) {
		t.Errorf("round trip mismatch: %#v != %#v", entry, *back)
	}
}

func TestEntryFromRowCanonicalizesStartTime(t *testing.T) {
	row := ScheduledPlaylistRow{Name: "early", StartTime: "8:05", PlaylistJSON: "{}"}
	entry, err := EntryFromRow(row)
	if err != nil {
		t.Fatalf("entry from row: %v", err)
	}
	if entry.StartTime != "08:05" {
		t.Fatalf("start time = %q, want 08:05", entry.StartTime)
	}
}

func TestCanonicalClock(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "8:05", want: "08:05"},
		{in: "08:05", want: "08:05"},
		{in: "23:59", want: "23:59"},
		{in: "24:00", wantErr: true},
		{in: "nope", wantErr: true},
	}
	for _, tc := range cases {
		got, err := CanonicalClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("CanonicalClock(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("CanonicalClock(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("CanonicalClock(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
