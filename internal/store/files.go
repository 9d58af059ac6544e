/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists playlists, scheduled entries, and the playback
// log.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// ReadPlaylistFile loads and normalizes a playlist file. The format is
// chosen by extension: .yaml/.yml parse as YAML, everything else as JSON.
func ReadPlaylistFile(path string) (models.Playlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Playlist{}, fmt.Errorf("read playlist %s: %w", path, err)
	}

	var raw map[string]any
	if isYAMLPath(path) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return models.Playlist{}, fmt.Errorf("parse playlist %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return models.Playlist{}, fmt.Errorf("parse playlist %s: %w", path, err)
		}
	}

	pl := models.PlaylistFromMap(raw)
	if err := pl.Validate(); err != nil {
		return models.Playlist{}, fmt.Errorf("playlist %s: %w", path, err)
	}
	return *pl, nil
}

// WritePlaylistFile writes the playlist atomically: a temp file in the same
// directory followed by a rename, so readers never see a half-written
// playlist.
func WritePlaylistFile(path string, pl models.Playlist) error {
	var data []byte
	var err error
	if isYAMLPath(path) {
		// go through the JSON representation so the YAML keys match the
		// documented playlist schema
		var raw map[string]any
		if data, err = json.Marshal(pl); err == nil {
			if err = json.Unmarshal(data, &raw); err == nil {
				data, err = yaml.Marshal(raw)
			}
		}
	} else {
		data, err = json.MarshalIndent(pl, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode playlist %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create playlist dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".playlist-*")
	if err != nil {
		return fmt.Errorf("temp playlist file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write playlist %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close playlist temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace playlist %s: %w", path, err)
	}
	return nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
