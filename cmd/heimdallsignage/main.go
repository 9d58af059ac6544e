/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/heimdall_signage/internal/commands"
	"github.com/friendsincode/heimdall_signage/internal/config"
	"github.com/friendsincode/heimdall_signage/internal/db"
	"github.com/friendsincode/heimdall_signage/internal/display"
	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/lockfile"
	"github.com/friendsincode/heimdall_signage/internal/logging"
	"github.com/friendsincode/heimdall_signage/internal/playback"
	"github.com/friendsincode/heimdall_signage/internal/player"
	"github.com/friendsincode/heimdall_signage/internal/resolver"
	"github.com/friendsincode/heimdall_signage/internal/schedule"
	"github.com/friendsincode/heimdall_signage/internal/server"
	"github.com/friendsincode/heimdall_signage/internal/store"
	"github.com/friendsincode/heimdall_signage/internal/telemetry"
	"github.com/friendsincode/heimdall_signage/internal/transport"
	"github.com/friendsincode/heimdall_signage/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "heimdallsignage",
	Short:   "Heimdall Signage - broker-driven display playback client",
	Long:    "Heimdall Signage plays scheduled and broker-controlled media loops on an attached display.",
	Version: version.Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playback client",
	Long:  "Connect to the control broker and start the playback loop on the attached display.",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check [playlist-file]",
	Short: "Validate a playlist file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	config.LoadDotenv(".")

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	for _, warning := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warning)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("client_id", cfg.ClientID).Msg("Heimdall Signage starting")

	if _, err := exec.LookPath(cfg.PlayerBin); err != nil {
		return fmt.Errorf("player binary %q not found: %w", cfg.PlayerBin, err)
	}

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	lock, err := lockfile.Acquire(filepath.Join(os.TempDir(), "heimdall-signage.pid"))
	if err != nil {
		return err
	}
	defer lock.Release()

	gdb, err := db.Connect(cfg, logger)
	if err != nil {
		// keep playing without persistence
		logger.Error().Err(err).Msg("database unavailable, running without persistence")
		gdb = nil
	}

	bus := events.NewBus()
	arb := engine.NewArbiter()
	st := store.New(cfg, gdb, logger)

	if entries, err := st.LoadScheduled(); err != nil {
		logger.Warn().Err(err).Msg("scheduled playlists not restored")
	} else if len(entries) > 0 {
		arb.ReplaceScheduled(entries)
		logger.Info().Int("count", len(entries)).Msg("scheduled playlists restored")
	}

	channel := player.NewChannel(player.Options{
		Binary:      cfg.PlayerBin,
		Socket:      cfg.PlayerSocket,
		LogFile:     cfg.PlayerLogFile,
		YtdlFormat:  cfg.YtdlFormat,
		HWDec:       cfg.HWDec,
		VideoOutput: cfg.VideoOutput,
		GPUContext:  cfg.GPUContext,
		ExtraOpts:   cfg.ExtraOpts,
	}, logger)

	res := resolver.New(cfg.MediaImageDir(), cfg.MediaVideoDir(), cfg.CacheDir,
		resolver.NewYTDLP(cfg.FetchToolBin), logger)

	driver := playback.NewDriver(channel, res, arb, bus, logger)
	driver.OnSource = arb.SetCurrentSource

	disp := display.NewController(cfg.CECOnly, logger)
	eng := engine.New(arb, driver, res, st, disp, bus, logger)
	sched := schedule.New(arb, bus, logger)
	handler := commands.NewHandler(arb, st, disp, bus, logger)
	handler.Player = channel

	tr, err := transport.Connect(cfg, handler, bus, logger)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	srv := server.New(cfg, arb, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	run(eng.Run)
	run(sched.Run)
	run(func(ctx context.Context) { st.RunPlaybackLog(ctx, bus) })
	run(func(ctx context.Context) { telemetry.RunCollector(ctx, bus) })
	run(func(ctx context.Context) {
		if err := tr.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("broker transport failed")
		}
	})
	run(func(ctx context.Context) {
		if err := srv.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	})

	// start looping right away; the boot playlist is picked up by the loop
	arb.RunGate().Set()

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully...")

	arb.RequestStop()
	wg.Wait()
	if err := channel.Quit(); err != nil {
		logger.Warn().Err(err).Msg("player did not exit cleanly")
	}

	logger.Info().Msg("Heimdall Signage stopped")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	path := cfg.PlaylistFile
	if len(args) == 1 {
		path = args[0]
	}

	pl, err := store.ReadPlaylistFile(path)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d item(s)", path, len(pl.Items))
	if pl.Shuffle {
		fmt.Print(", shuffled")
	}
	if pl.ScheduleEnabled {
		fmt.Printf(", window %s-%s", pl.ScheduleStart, pl.ScheduleEnd)
	}
	fmt.Println()
	return nil
}
