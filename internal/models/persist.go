/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledPlaylistRow persists a scheduled playlist entry across restarts.
type ScheduledPlaylistRow struct {
	Name         string `gorm:"primaryKey"`
	StartTime    string // "HH:MM"
	PlaylistJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName overrides the gorm default.
func (ScheduledPlaylistRow) TableName() string { return "scheduled_playlists" }

// PlaybackLogRow records one finished playback attempt sequence.
type PlaybackLogRow struct {
	ID        string `gorm:"primaryKey"`
	Kind      string
	Source    string
	Outcome   string
	Attempts  int
	StartedAt time.Time
	EndedAt   time.Time
}

// TableName overrides the gorm default.
func (PlaybackLogRow) TableName() string { return "playback_log" }

// RowFromEntry serializes a scheduled entry for storage.
func RowFromEntry(entry ScheduledEntry) (*ScheduledPlaylistRow, error) {
	payload, err := json.Marshal(entry.Playlist)
	if err != nil {
		return nil, fmt.Errorf("marshal playlist for %q: %w", entry.Name, err)
	}
	return &ScheduledPlaylistRow{
		Name:         entry.Name,
		StartTime:    entry.StartTime,
		PlaylistJSON: string(payload),
	}, nil
}

// EntryFromRow deserializes a stored scheduled entry. Start times written
// by older builds are re-canonicalized on the way in.
func EntryFromRow(row ScheduledPlaylistRow) (*ScheduledEntry, error) {
	var pl Playlist
	if err := json.Unmarshal([]byte(row.PlaylistJSON), &pl); err != nil {
		return nil, fmt.Errorf("unmarshal playlist for %q: %w", row.Name, err)
	}
	start := row.StartTime
	if canonical, err := CanonicalClock(start); err == nil {
		start = canonical
	}
	return &ScheduledEntry{Name: row.Name, StartTime: start, Playlist: pl}, nil
}
