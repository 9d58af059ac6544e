/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"strconv"
)

// ItemKind identifies how a playback item is driven.
type ItemKind string

const (
	KindImage       ItemKind = "image"
	KindVideo       ItemKind = "video"
	KindRemoteVideo ItemKind = "remote-video"
)

// PlaybackItem is one playable unit. Immutable once handed to the playback
// driver; the resolver may rewrite a copy during prefetch, never the
// dispatched value.
type PlaybackItem struct {
	Kind        ItemKind `json:"kind"`
	Source      string   `json:"src"`
	Duration    int      `json:"duration,omitempty"`
	StartOffset float64  `json:"start_at,omitempty"`
	Prefetch    bool     `json:"prefetch,omitempty"`
}

// Playlist is an ordered sequence of playback items plus loop behavior.
type Playlist struct {
	Items           []PlaybackItem `json:"items"`
	Shuffle         bool           `json:"shuffle"`
	GapSeconds      int            `json:"gap_seconds"`
	Retries         int            `json:"retries"`
	ShowTime        bool           `json:"show_time"`
	ScheduleEnabled bool           `json:"schedule_enabled"`
	ScheduleStart   string         `json:"schedule_start,omitempty"`
	ScheduleEnd     string         `json:"schedule_end,omitempty"`
}

// ScheduledEntry is a named playlist armed to activate at a time of day.
type ScheduledEntry struct {
	Name      string   `json:"name"`
	StartTime string   `json:"start_time"` // "HH:MM"
	Playlist  Playlist `json:"playlist"`
}

// keyAliases is the rewrite table applied to raw playlist maps. Keys on the
// left are accepted from older producers and rewritten to the canonical key
// on the right. Applied once at ingestion; downstream code only ever sees
// canonical keys.
var keyAliases = map[string]string{
	"list":          "items",
	"black_between": "gap_seconds",
}

var itemKeyAliases = map[string]string{
	"type":   "kind",
	"source": "src",
}

// kindAliases maps legacy kind values to canonical ones.
var kindAliases = map[string]string{
	"youtube": string(KindRemoteVideo),
}

// NormalizePlaylist rewrites a raw playlist map into the canonical schema:
// alias keys renamed, non-map items dropped, defaults filled in.
// Normalizing an already-normalized map is a no-op.
func NormalizePlaylist(data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}

	for alias, canonical := range keyAliases {
		if _, ok := data[canonical]; !ok {
			if v, ok := data[alias]; ok {
				data[canonical] = v
			}
		}
		delete(data, alias)
	}

	rawItems, _ := data["items"].([]any)
	items := make([]any, 0, len(rawItems))
	for _, raw := range rawItems {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, NormalizeItem(item))
	}
	data["items"] = items

	setDefault(data, "shuffle", false)
	setDefault(data, "gap_seconds", 0)
	setDefault(data, "retries", 0)
	setDefault(data, "show_time", false)
	setDefault(data, "schedule_enabled", false)

	return data
}

// NormalizeItem applies the item-level rewrite table to a single raw item.
func NormalizeItem(item map[string]any) map[string]any {
	for alias, canonical := range itemKeyAliases {
		if _, ok := item[canonical]; !ok {
			if v, ok := item[alias]; ok {
				item[canonical] = v
			}
		}
		delete(item, alias)
	}
	if kind, ok := item["kind"].(string); ok {
		if canonical, ok := kindAliases[kind]; ok {
			item["kind"] = canonical
		}
	}
	return item
}

// PlaylistFromMap normalizes raw structured data and decodes it into a
// Playlist. Items with an unknown kind or an empty source are dropped.
// An empty item list is not an error here; command ingestion validates
// separately via Validate.
func PlaylistFromMap(data map[string]any) *Playlist {
	data = NormalizePlaylist(data)

	pl := &Playlist{
		Shuffle:         asBool(data["shuffle"]),
		GapSeconds:      asInt(data["gap_seconds"]),
		Retries:         asInt(data["retries"]),
		ShowTime:        asBool(data["show_time"]),
		ScheduleEnabled: asBool(data["schedule_enabled"]),
		ScheduleStart:   asString(data["schedule_start"]),
		ScheduleEnd:     asString(data["schedule_end"]),
	}

	rawItems, _ := data["items"].([]any)
	for _, raw := range rawItems {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item, err := ItemFromMap(m)
		if err != nil {
			continue
		}
		pl.Items = append(pl.Items, *item)
	}

	return pl
}

// ItemFromMap decodes a normalized raw item into a PlaybackItem.
func ItemFromMap(data map[string]any) (*PlaybackItem, error) {
	data = NormalizeItem(data)

	kind := ItemKind(asString(data["kind"]))
	switch kind {
	case KindImage, KindVideo, KindRemoteVideo:
	default:
		return nil, fmt.Errorf("unknown item kind %q", kind)
	}

	src := asString(data["src"])
	if src == "" {
		return nil, fmt.Errorf("item of kind %q has no source", kind)
	}

	return &PlaybackItem{
		Kind:        kind,
		Source:      src,
		Duration:    asInt(data["duration"]),
		StartOffset: asFloat(data["start_at"]),
		Prefetch:    asBool(data["prefetch"]),
	}, nil
}

// Validate checks a playlist for command ingestion. Malformed playlists are
// rejected whole; nothing is partially applied.
func (p *Playlist) Validate() error {
	if len(p.Items) == 0 {
		return fmt.Errorf("playlist has no playable items")
	}
	if p.GapSeconds < 0 {
		return fmt.Errorf("gap_seconds must be >= 0")
	}
	if p.Retries < 0 {
		return fmt.Errorf("retries must be >= 0")
	}
	return nil
}

func setDefault(data map[string]any, key string, value any) {
	if _, ok := data[key]; !ok {
		data[key] = value
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "1" || t == "true" || t == "yes"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return 0
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return 0
}
