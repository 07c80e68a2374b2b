// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

// Package main is the entry point for the Ventrelay server.
//
// Ventrelay relays environmental telemetry from a ventilation controller
// to authenticated browser viewers and routes their control commands
// back. The server initializes components in the following order:
//
//  1. Configuration: layered defaults, config file and environment (Koanf v2)
//  2. Storage: PostgreSQL or SQLite with per-table schema migrations
//  3. Sequence tracker: restores the (epoch, nr) position from storage
//  4. WebSocket hub and request dispatcher
//  5. Broker bridge: single ordered MQTT subscription on the status topic
//  6. HTTP server: login, logout, /ws, /healthz and /metrics
//
// Shutdown on SIGINT or SIGTERM stops the HTTP listener, disconnects the
// broker and closes all viewer connections.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ventrelay/ventrelay/internal/api"
	"github.com/ventrelay/ventrelay/internal/auth"
	"github.com/ventrelay/ventrelay/internal/broker"
	"github.com/ventrelay/ventrelay/internal/config"
	"github.com/ventrelay/ventrelay/internal/hub"
	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/storage"
)

const (
	shutdownTimeout = 10 * time.Second
	sessionSweep    = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("could not load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.Info().Str("addr", cfg.Server.Addr()).Msg("starting ventrelay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("could not open storage")
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		logging.Fatal().Err(err).Msg("schema migration failed")
	}

	users := storage.NewCapabilityStore(store)
	events := storage.NewEventLog(store)
	measurements := storage.NewMeasurementStore(store)

	tracker, err := storage.NewSequenceTracker(ctx, measurements)
	if err != nil {
		logging.Fatal().Err(err).Msg("could not restore sequence position")
	}
	logging.Info().Int64("epoch", tracker.Epoch()).Msg("sequence position restored")

	sessions := auth.NewSessionStore(cfg.Session.TTL)
	sessions.StartCleanup(ctx, sessionSweep)

	viewers := hub.NewHub()
	bridge := broker.NewBridge(cfg.Broker, tracker, users, events, viewers)
	defer bridge.Close()

	if err := bridge.Configure(cfg.Broker.URL); err != nil {
		// The broker may come up later; admins can also repoint it over
		// the wire with MQTT_BROKER.
		logging.Error().Err(err).Str("url", cfg.Broker.URL).Msg("initial broker connection failed")
	}

	handlers := auth.NewHandlers(users, events, sessions, cfg.Session)
	gate := auth.NewGate(sessions, cfg.Session.CookieName)
	dispatcher := hub.NewDispatcher(measurements, users, events, bridge)
	router := api.NewRouter(handlers, gate, viewers, dispatcher)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("http server listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("http shutdown did not complete cleanly")
	}
	viewers.CloseAll()
	logging.Info().Msg("ventrelay stopped")
}
