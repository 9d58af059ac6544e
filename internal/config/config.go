/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabaseSQLite   DatabaseBackend = "sqlite"
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
)

// Config covers process level configuration read from environment variables.
// Legacy PABS_* keys from the previous client generation are accepted as
// aliases for every HEIMDALL_* key that had one.
type Config struct {
	Environment string
	ClientID    string

	// Command transport
	NATSURL     string
	SubjectBase string

	// Filesystem layout
	ProjectDir         string
	MediaDir           string
	PlaylistFile       string
	RemotePlaylistFile string
	CacheDir           string

	PersistRemotePlaylist  bool
	OverwriteLocalPlaylist bool

	// Persistence
	DBBackend DatabaseBackend
	DBDSN     string

	// Local HTTP surface
	HTTPBind string
	HTTPPort int

	// Player process
	PlayerBin     string
	PlayerLogFile string
	PlayerSocket  string
	YtdlFormat    string
	HWDec         string
	VideoOutput   string
	GPUContext    string
	ExtraOpts     []string
	FetchToolBin  string

	// Display power
	CECOnly bool

	LegacyEnvWarnings []string
}

// LoadDotenv loads a .env file from dir when present. Missing files are fine.
func LoadDotenv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	projectDir := getEnvAny([]string{"HEIMDALL_PROJECT_DIR", "PABS_PROJECT_DIR"}, ".")
	if abs, err := filepath.Abs(projectDir); err == nil {
		projectDir = abs
	}

	mediaDir := getEnvAny([]string{"HEIMDALL_MEDIA_DIR", "PABS_MEDIA_DIR", "MEDIA_DIR"}, filepath.Join(projectDir, "media"))

	cfg := &Config{
		Environment: getEnvAny([]string{"HEIMDALL_ENV"}, "development"),
		ClientID:    getEnvAny([]string{"HEIMDALL_CLIENT_ID", "PABS_CLIENT_ID", "CLIENT_ID"}, fmt.Sprintf("sala-01-%s-%d", hostname, os.Getpid())),

		NATSURL:     getEnvAny([]string{"HEIMDALL_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		SubjectBase: strings.Trim(getEnvAny([]string{"HEIMDALL_SUBJECT_BASE", "PABS_TOPIC_BASE"}, "heimdall"), "."),

		ProjectDir:         projectDir,
		MediaDir:           mediaDir,
		PlaylistFile:       getEnvAny([]string{"HEIMDALL_PLAYLIST_FILE", "PABS_PLAYLIST_FILE"}, filepath.Join(projectDir, "playlist.json")),
		RemotePlaylistFile: getEnvAny([]string{"HEIMDALL_REMOTE_PLAYLIST_FILE", "PABS_REMOTE_PLAYLIST_FILE"}, filepath.Join(projectDir, "playlist.remote.json")),
		CacheDir:           getEnvAny([]string{"HEIMDALL_CACHE_DIR", "PABS_CACHE_DIR"}, filepath.Join(projectDir, "cache")),

		PersistRemotePlaylist:  getEnvBoolAny([]string{"HEIMDALL_PERSIST_REMOTE_PLAYLIST", "PABS_PERSIST_REMOTE_PLAYLIST"}, true),
		OverwriteLocalPlaylist: getEnvBoolAny([]string{"HEIMDALL_OVERWRITE_LOCAL_PLAYLIST", "PABS_OVERWRITE_LOCAL_PLAYLIST"}, false),

		DBBackend: DatabaseBackend(getEnvAny([]string{"HEIMDALL_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"HEIMDALL_DB_DSN"}, filepath.Join(projectDir, "heimdall.db")),

		HTTPBind: getEnvAny([]string{"HEIMDALL_HTTP_BIND"}, "127.0.0.1"),
		HTTPPort: getEnvIntAny([]string{"HEIMDALL_HTTP_PORT"}, 8844),

		PlayerBin:     getEnvAny([]string{"HEIMDALL_PLAYER_BIN"}, "mpv"),
		PlayerLogFile: getEnvAny([]string{"HEIMDALL_PLAYER_LOGFILE", "PABS_MPV_LOGFILE"}, filepath.Join(os.TempDir(), "heimdall-mpv.log")),
		YtdlFormat:    getEnvAny([]string{"HEIMDALL_YTDL_FORMAT", "PABS_MPV_YTDL_FORMAT"}, "bestvideo[height<=720]+bestaudio/best/best"),
		HWDec:         getEnvAny([]string{"HEIMDALL_HWDEC", "PABS_MPV_HWDEC"}, "no"),
		VideoOutput:   getEnvAny([]string{"HEIMDALL_VO", "PABS_MPV_VO"}, ""),
		GPUContext:    getEnvAny([]string{"HEIMDALL_GPU_CONTEXT", "PABS_MPV_GPU_CONTEXT"}, ""),
		FetchToolBin:  getEnvAny([]string{"HEIMDALL_FETCH_TOOL"}, "yt-dlp"),

		CECOnly: getEnvBoolAny([]string{"HEIMDALL_TV_CEC_ONLY", "PABS_TV_CEC_ONLY"}, false),
	}

	if raw := getEnvAny([]string{"HEIMDALL_PLAYER_EXTRA_OPTS", "PABS_MPV_EXTRA_OPTS"}, ""); raw != "" {
		cfg.ExtraOpts = strings.Fields(raw)
	}

	cfg.PlayerSocket = getEnvAny(
		[]string{"HEIMDALL_PLAYER_SOCKET", "PABS_MPV_IPC_SOCKET"},
		filepath.Join(os.TempDir(), fmt.Sprintf("heimdall-mpv-%s.sock", safeName(cfg.ClientID))),
	)

	if cfg.DBBackend != DatabaseSQLite && cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// SubjectCmd returns the command subject for this client.
func (c *Config) SubjectCmd() string {
	return fmt.Sprintf("%s.%s.cmd", c.SubjectBase, c.ClientID)
}

// SubjectStatus returns the status subject for this client.
func (c *Config) SubjectStatus() string {
	return fmt.Sprintf("%s.%s.status", c.SubjectBase, c.ClientID)
}

// SubjectNowPlaying returns the now-playing subject for this client.
func (c *Config) SubjectNowPlaying() string {
	return fmt.Sprintf("%s.%s.now_playing", c.SubjectBase, c.ClientID)
}

// MediaVideoDir returns the root for bare video filenames.
func (c *Config) MediaVideoDir() string { return filepath.Join(c.MediaDir, "videos") }

// MediaImageDir returns the root for bare image filenames.
func (c *Config) MediaImageDir() string { return filepath.Join(c.MediaDir, "images") }

// EnsureDirs creates the media and cache directories if missing.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.MediaVideoDir(), c.MediaImageDir(), c.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"PABS_CLIENT_ID":      "use HEIMDALL_CLIENT_ID",
		"PABS_TOPIC_BASE":     "use HEIMDALL_SUBJECT_BASE",
		"PABS_PLAYLIST_FILE":  "use HEIMDALL_PLAYLIST_FILE",
		"PABS_MPV_IPC_SOCKET": "use HEIMDALL_PLAYER_SOCKET",
		"PABS_MPV_EXTRA_OPTS": "use HEIMDALL_PLAYER_EXTRA_OPTS",
		"PABS_TV_CEC_ONLY":    "use HEIMDALL_TV_CEC_ONLY",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// safeName reduces an identifier to characters safe for filesystem use.
func safeName(s string) string {
	var b strings.Builder
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == '-' || ch == '_' || ch == '.' || ch == '@':
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" || v == "y" {
				return true
			}
			if v == "false" || v == "0" || v == "no" || v == "n" {
				return false
			}
		}
	}
	return def
}
