// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

// Package api assembles the HTTP surface: login and logout, the gated
// WebSocket endpoint, health and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ventrelay/ventrelay/internal/auth"
	"github.com/ventrelay/ventrelay/internal/hub"
	"github.com/ventrelay/ventrelay/internal/logging"
)

// loginRateLimit bounds credential guessing per client IP.
const (
	loginRateLimit  = 5
	loginRateWindow = time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The session gate runs before the upgrade handshake.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router builds the HTTP handler tree.
type Router struct {
	handlers   *auth.Handlers
	gate       *auth.Gate
	hub        *hub.Hub
	dispatcher *hub.Dispatcher
}

// NewRouter wires the HTTP surface.
func NewRouter(handlers *auth.Handlers, gate *auth.Gate, h *hub.Hub, dispatcher *hub.Dispatcher) *Router {
	return &Router{
		handlers:   handlers,
		gate:       gate,
		hub:        h,
		dispatcher: dispatcher,
	}
}

// Handler returns the assembled chi router.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(loginRateLimit, loginRateWindow))
		r.Post("/auth/login", rt.handlers.Login)
	})
	r.Get("/auth/logout", rt.handlers.Logout)

	r.Get("/ws", rt.serveWS)
	r.Get("/healthz", rt.healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// serveWS upgrades an authenticated viewer to a WebSocket connection.
// Unauthenticated requests are refused before the upgrade handshake.
func (rt *Router) serveWS(w http.ResponseWriter, r *http.Request) {
	username, err := rt.gate.Resolve(r)
	if err != nil {
		logging.Debug().Err(err).Msg("refused websocket upgrade")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("user", username).Msg("websocket upgrade failed")
		return
	}
	rt.hub.ServeConn(conn, username, rt.dispatcher)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
