/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/heimdall_signage/internal/config"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Store ties the playlist files and the state database together.
type Store struct {
	cfg    *config.Config
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a store. db may be nil when the database is unavailable; the
// file-backed operations keep working and the database ones become no-ops.
func New(cfg *config.Config, db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{cfg: cfg, db: db, logger: logger.With().Str("component", "store").Logger()}
}

// LoadBootPlaylist picks the playlist to play at startup: the persisted
// remote playlist wins if present, otherwise the local playlist file.
func (s *Store) LoadBootPlaylist() (models.Playlist, error) {
	if s.cfg.PersistRemotePlaylist {
		if _, err := os.Stat(s.cfg.RemotePlaylistFile); err == nil {
			pl, err := ReadPlaylistFile(s.cfg.RemotePlaylistFile)
			if err == nil {
				s.logger.Info().Str("file", s.cfg.RemotePlaylistFile).Msg("boot playlist from persisted remote")
				return pl, nil
			}
			s.logger.Warn().Err(err).Msg("persisted remote playlist unreadable, falling back to local")
		}
	}

	pl, err := ReadPlaylistFile(s.cfg.PlaylistFile)
	if err != nil {
		return models.Playlist{}, err
	}
	s.logger.Info().Str("file", s.cfg.PlaylistFile).Msg("boot playlist from local file")
	return pl, nil
}

// LoadPlaylistFile reads a named playlist file for a remote selector.
func (s *Store) LoadPlaylistFile(path string) (models.Playlist, error) {
	return ReadPlaylistFile(path)
}

// PersistRemotePlaylist saves a playlist received over the wire so it
// survives a restart. Optionally it also replaces the local playlist file.
func (s *Store) PersistRemotePlaylist(pl models.Playlist) error {
	if !s.cfg.PersistRemotePlaylist {
		return nil
	}
	if err := WritePlaylistFile(s.cfg.RemotePlaylistFile, pl); err != nil {
		return err
	}
	if s.cfg.OverwriteLocalPlaylist {
		if err := WritePlaylistFile(s.cfg.PlaylistFile, pl); err != nil {
			return err
		}
	}
	return nil
}

// SaveScheduled upserts a scheduled entry.
func (s *Store) SaveScheduled(entry models.ScheduledEntry) error {
	if s.db == nil {
		return nil
	}
	row, err := models.RowFromEntry(entry)
	if err != nil {
		return err
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return fmt.Errorf("save scheduled %q: %w", entry.Name, err)
	}
	return nil
}

// DeleteScheduled removes a scheduled entry by name.
func (s *Store) DeleteScheduled(name string) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Delete(&models.ScheduledPlaylistRow{}, "name = ?", name).Error; err != nil {
		return fmt.Errorf("delete scheduled %q: %w", name, err)
	}
	return nil
}

// LoadScheduled returns all persisted scheduled entries. Rows that no
// longer deserialize are skipped, not fatal.
func (s *Store) LoadScheduled() ([]models.ScheduledEntry, error) {
	if s.db == nil {
		return nil, nil
	}
	var rows []models.ScheduledPlaylistRow
	if err := s.db.Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load scheduled entries: %w", err)
	}
	entries := make([]models.ScheduledEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := models.EntryFromRow(row)
		if err != nil {
			s.logger.Warn().Err(err).Str("name", row.Name).Msg("dropping unreadable scheduled entry")
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// RunPlaybackLog consumes playback events and writes one log row per
// finished attempt. Blocks until the context ends.
func (s *Store) RunPlaybackLog(ctx context.Context, bus *events.Bus) {
	starts := bus.Subscribe(events.EventPlaybackStart)
	ends := bus.Subscribe(events.EventPlaybackEnd)
	defer bus.Unsubscribe(events.EventPlaybackStart, starts)
	defer bus.Unsubscribe(events.EventPlaybackEnd, ends)

	var mu sync.Mutex
	startedAt := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-starts:
			if item, ok := p["item"].(models.PlaybackItem); ok {
				mu.Lock()
				startedAt[item.Source] = time.Now()
				mu.Unlock()
			}
		case p := <-ends:
			item, ok := p["item"].(models.PlaybackItem)
			if !ok {
				continue
			}
			outcome, _ := p["outcome"].(string)
			attempt, _ := p["attempt"].(int)
			if attempt < 1 {
				attempt = 1
			}

			mu.Lock()
			began := startedAt[item.Source]
			delete(startedAt, item.Source)
			mu.Unlock()
			if began.IsZero() {
				began = time.Now()
			}

			s.recordPlayback(item, outcome, attempt, began)
		}
	}
}

func (s *Store) recordPlayback(item models.PlaybackItem, outcome string, attempt int, began time.Time) {
	if s.db == nil {
		return
	}
	row := models.PlaybackLogRow{
		ID:        uuid.NewString(),
		Kind:      string(item.Kind),
		Source:    item.Source,
		Outcome:   outcome,
		Attempts:  attempt,
		StartedAt: began,
		EndedAt:   time.Now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		s.logger.Warn().Err(err).Msg("playback log write failed")
	}
}
