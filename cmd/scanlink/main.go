// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/scanlink/internal/capture"
	"github.com/ManuGH/scanlink/internal/config"
	"github.com/ManuGH/scanlink/internal/decoder"
	"github.com/ManuGH/scanlink/internal/framesource"
	"github.com/ManuGH/scanlink/internal/hints"
	"github.com/ManuGH/scanlink/internal/history"
	xglog "github.com/ManuGH/scanlink/internal/log"
	"github.com/ManuGH/scanlink/internal/telemetry"
	"github.com/ManuGH/scanlink/internal/ui"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownGrace = 5 * time.Second

func main() {
	// Safe defaults until config is loaded
	xglog.Configure(logConfig())

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "gen":
			os.Exit(runGen(os.Args[2:], os.Stdout, os.Stderr))
		case "decode":
			os.Exit(runDecode(os.Args[2:], os.Stdout, os.Stderr))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := xglog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	cfg, err := config.NewLoader(path, version).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{Level: cfg.Log.Level})
	if path != "" {
		logger.Info().Str(xglog.FieldEvent, "config.loaded").Str("source", "file").Str(xglog.FieldPath, path).Msg("loaded configuration from file")
	} else {
		logger.Info().Str(xglog.FieldEvent, "config.loaded").Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}

	payload, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("scanlink exited with error")
		os.Exit(1)
	}
	if err := writePayload(os.Stdout, payload); err != nil {
		logger.Error().Err(err).Msg("failed to write payload")
		os.Exit(1)
	}
}

// logConfig keeps logs on stderr so stdout carries only command output.
func logConfig() xglog.Config {
	return xglog.Config{
		Level:   "info",
		Output:  os.Stderr,
		Service: "scanlink",
		Version: version,
	}
}

// writePayload prints the payload a session returned with as indented JSON.
// A nil payload writes nothing.
func writePayload(w io.Writer, payload any) error {
	if payload == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// run wires one capture session and blocks until the session ends or ctx is
// cancelled. It returns the payload the session ended with, if any.
func run(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (any, error) {
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	mode, err := hints.ParseMode(cfg.Capture.Mode)
	if err != nil {
		return nil, err
	}

	src := framesource.New(
		framesource.WithMaxFPS(cfg.Source.MaxFPS),
		framesource.WithLogger(xglog.WithComponent("framesource")),
	)

	var (
		store    *history.Store
		recorder ui.Recorder
	)
	if cfg.UI.HistoryPath != "" {
		store, err = history.NewStore(cfg.UI.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		defer func() { _ = store.Close() }()
		recorder = store
	}

	sink := ui.New(ui.Options{
		ResultFile:      cfg.UI.ResultFile,
		History:         recorder,
		ReturnOnSuccess: cfg.UI.ReturnOnSuccess,
		RestartDelay:    cfg.UI.RestartDelay,
	})

	readyCtx, cancel := context.WithTimeout(ctx, cfg.Capture.ReadyTimeout)
	ctrl, err := capture.Start(readyCtx, capture.Options{
		Mode: mode,
		HintOptions: []hints.Option{
			hints.WithTryHarder(cfg.Capture.TryHarder),
			hints.WithCharacterSet(cfg.Capture.CharacterSet),
		},
		Source:      src,
		Decoder:     decoder.New(),
		UI:          sink,
		JoinTimeout: cfg.Capture.JoinTimeout,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("start capture session: %w", err)
	}
	sink.Bind(ctrl)

	defer func() {
		quitCtx, cancel := context.WithTimeout(context.Background(), cfg.Capture.JoinTimeout+shutdownGrace)
		defer cancel()
		if err := ctrl.QuitSynchronously(quitCtx); err != nil {
			logger.Warn().Err(err).Msg("capture session did not stop in time")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Source.Dir != "" {
		g.Go(func() error {
			return src.WatchDir(gctx, cfg.Source.Dir, cfg.Source.Pattern)
		})
	}

	if cfg.Server.ListenAddr != "" {
		var hist historyReader
		if store != nil {
			hist = store
		}
		handler := newRouter(routerConfig{
			Session:     ctrl,
			Frames:      src,
			Scans:       sink,
			History:     hist,
			RateLimit:   cfg.Server.RateLimit,
			ServiceName: cfg.Telemetry.ServiceName,
		})
		srv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-ctrl.Done():
			return errSessionEnded
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errSessionEnded) {
		return nil, err
	}

	select {
	case p := <-sink.Returned():
		return p, nil
	default:
		return nil, nil
	}
}

var errSessionEnded = errors.New("capture session ended")
