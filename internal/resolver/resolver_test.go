package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

type fakeFetch struct {
	urls        map[string][]string
	downloadTo  string
	downloadErr error
}

func (f *fakeFetch) CandidateURLs(_ context.Context, url, formatSpec string) ([]string, error) {
	urls, ok := f.urls[formatSpec]
	if !ok {
		return nil, fmt.Errorf("no urls for %s", formatSpec)
	}
	return urls, nil
}

func (f *fakeFetch) Download(_ context.Context, url, destDir string) (string, error) {
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	return filepath.Join(destDir, f.downloadTo), nil
}

func newTestResolver(fetch FetchTool) *Resolver {
	return New("/media/images", "/media/videos", "/cache", fetch, zerolog.Nop())
}

func TestBuildMediaPath(t *testing.T) {
	r := newTestResolver(nil)

	tests := []struct {
		src  string
		kind models.ItemKind
		want string
	}{
		{"clip.mp4", models.KindVideo, "/media/videos/clip.mp4"},
		{"logo.png", models.KindImage, "/media/images/logo.png"},
		{"/opt/media/x.mp4", models.KindVideo, "/opt/media/x.mp4"},
		{"https://example.com/v.mp4", models.KindRemoteVideo, "https://example.com/v.mp4"},
		{"sub/dir/clip.mp4", models.KindVideo, "sub/dir/clip.mp4"},
		{"", models.KindImage, ""},
	}

	for _, tt := range tests {
		if got := r.BuildMediaPath(tt.src, tt.kind); got != tt.want {
			t.Errorf("BuildMediaPath(%q, %s) = %q, want %q", tt.src, tt.kind, got, tt.want)
		}
	}
}

func TestPrefetchRewritesItem(t *testing.T) {
	r := newTestResolver(&fakeFetch{downloadTo: "abc.mp4"})

	item := models.PlaybackItem{
		Kind:     models.KindRemoteVideo,
		Source:   "https://example.com/watch?v=abc",
		Prefetch: true,
	}

	if !r.Prefetch(context.Background(), &item) {
		t.Fatal("expected prefetch to succeed")
	}
	if item.Kind != models.KindVideo {
		t.Errorf("kind = %s, want video", item.Kind)
	}
	if item.Source != "/cache/abc.mp4" {
		t.Errorf("source = %q, want cached path", item.Source)
	}
	if item.Prefetch {
		t.Error("prefetch flag should be cleared")
	}
}

func TestPrefetchFailureLeavesItemUntouched(t *testing.T) {
	r := newTestResolver(&fakeFetch{downloadErr: fmt.Errorf("network down")})

	item := models.PlaybackItem{
		Kind:     models.KindRemoteVideo,
		Source:   "https://example.com/watch?v=abc",
		Prefetch: true,
	}
	before := item

	if r.Prefetch(context.Background(), &item) {
		t.Fatal("expected prefetch to fail")
	}
	if item != before {
		t.Errorf("item mutated on failed prefetch: %#v", item)
	}
}

func TestPrefetchSkipsNonRemoteItems(t *testing.T) {
	r := newTestResolver(&fakeFetch{downloadTo: "x.mp4"})

	item := models.PlaybackItem{Kind: models.KindVideo, Source: "v.mp4", Prefetch: true}
	if r.Prefetch(context.Background(), &item) {
		t.Error("local video must not be prefetched")
	}

	item = models.PlaybackItem{Kind: models.KindRemoteVideo, Source: "https://x"}
	if r.Prefetch(context.Background(), &item) {
		t.Error("remote item without prefetch flag must not be prefetched")
	}
}

func TestFormatTiersDescend(t *testing.T) {
	if len(FormatTiers) != 4 {
		t.Fatalf("format tiers = %d, want 4", len(FormatTiers))
	}
	if FormatTiers[len(FormatTiers)-1] != "best" {
		t.Errorf("last tier = %q, want best", FormatTiers[len(FormatTiers)-1])
	}
}
