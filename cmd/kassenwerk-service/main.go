// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/kassenwerk/kassenwerk/lib/clock"
	"github.com/kassenwerk/kassenwerk/lib/config"
	"github.com/kassenwerk/kassenwerk/lib/kvstore"
	"github.com/kassenwerk/kassenwerk/lib/socket"
	"github.com/kassenwerk/kassenwerk/messaging"
	"github.com/kassenwerk/kassenwerk/notify"
	"github.com/kassenwerk/kassenwerk/sqlitestore"
	"github.com/kassenwerk/kassenwerk/syncer"
	"github.com/kassenwerk/kassenwerk/workorder"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		cycles      int
		pauseMS     int
		socketPath  string
		showVersion bool
	)

	pflag.StringVar(&configPath, "config", "", "config file path (or set "+config.EnvVar+")")
	pflag.IntVar(&cycles, "cycles", -1, "override listener.cycles (0 = daemon mode)")
	pflag.IntVar(&pauseMS, "pause", -1, "override listener.pause_ms (bounded-mode inter-cycle pause)")
	pflag.StringVar(&socketPath, "socket", "", "override socket.path")
	pflag.BoolVar(&showVersion, "version", false, "print version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("kassenwerk-service %s\n", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cycles >= 0 {
		cfg.Listener.Cycles = cycles
	}
	if pauseMS >= 0 {
		cfg.Listener.PauseMS = pauseMS
	}
	if socketPath != "" {
		cfg.Socket.Path = socketPath
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	store, err := sqlitestore.Open(sqlitestore.Config{
		Path:   cfg.Database.Path,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	// The chat mirror is optional. Without it, orders are tracked
	// locally and the observer is a no-op.
	var observer workorder.Observer
	var session *messaging.Session
	var roomID messaging.RoomID
	if cfg.Matrix.Enabled() {
		token, err := cfg.Matrix.Token()
		if err != nil {
			return err
		}
		client, err := messaging.NewClient(messaging.ClientConfig{
			HomeserverURL: cfg.Matrix.HomeserverURL,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		session = client.Session(token)
		roomID = messaging.RoomID(cfg.Matrix.RoomID)
		observer = notify.New(session, roomID, store, logger)

		// A dead token should surface at startup, not on the first
		// order. A transient network failure is only a warning; the
		// sync loop retries anyway.
		if userID, err := session.WhoAmI(ctx); err != nil {
			logger.Warn("matrix session validation failed", "error", err)
		} else {
			logger.Info("matrix session valid", "user_id", userID)
		}
	} else {
		logger.Info("matrix mirror disabled, running standalone")
	}

	tracker := workorder.NewTracker(store, observer, logger)

	server := socket.NewServer(cfg.Socket.Path, logger)
	registerActions(server, tracker, newServiceStatus(clk, version, cfg.Matrix.Enabled(), store.KV()))

	if session != nil {
		listener, err := syncer.NewListener(syncer.Config{
			Gateway:     session,
			Tracker:     tracker,
			Room:        roomID,
			Cursor:      store.KV(),
			Cache:       kvstore.NewMemory(clk),
			Clock:       clk,
			Logger:      logger,
			Pause:       time.Duration(cfg.Listener.PauseMS) * time.Millisecond,
			PollTimeout: time.Duration(cfg.Listener.PollTimeoutMS) * time.Millisecond,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := listener.Run(ctx, cfg.Listener.Cycles); err != nil && ctx.Err() == nil {
				logger.Error("listener stopped", "error", err)
			}
			if cfg.Listener.Cycles > 0 {
				// A bounded run ends the process once its cycles are
				// spent; the socket server follows via the context.
				logger.Info("listener finished", "cycles", cfg.Listener.Cycles)
				stop()
			}
		}()
	}

	logger.Info("kassenwerk-service started",
		"version", version,
		"database", cfg.Database.Path,
		"socket", cfg.Socket.Path,
		"mirror", cfg.Matrix.Enabled(),
	)

	return server.Serve(ctx)
}
