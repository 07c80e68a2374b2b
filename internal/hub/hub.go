// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

// Package hub fans broker updates out to authenticated WebSocket viewers
// and dispatches their requests. Each viewer holds at most one
// connection; a reconnect displaces the previous one.
package hub

import (
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/metrics"
)

// Hub tracks the set of connected viewers and broadcasts to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// register adds a client, displacing any existing connection for the same
// username. The displaced connection is closed; its pumps unwind on their
// own.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	prior := h.clients[c.username]
	h.clients[c.username] = c
	total := len(h.clients)
	h.mu.Unlock()

	if prior != nil {
		prior.shutdown()
		logging.Info().Str("user", c.username).Msg("viewer reconnected, displacing previous connection")
	} else {
		logging.Info().Str("user", c.username).Int("viewers", total).Msg("viewer connected")
	}
	metrics.ViewersConnected.Set(float64(total))
}

// unregister removes a client if it is still the current connection for
// its username. A displaced connection unregistering must not evict its
// replacement.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	current := h.clients[c.username] == c
	if current {
		delete(h.clients, c.username)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if current {
		logging.Info().Str("user", c.username).Int("viewers", total).Msg("viewer disconnected")
	}
	metrics.ViewersConnected.Set(float64(total))
}

// Broadcast marshals v once and sends it to every connected viewer. A
// viewer whose send queue is full is dropped; the failure never affects
// delivery to the others.
func (h *Hub) Broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("could not marshal broadcast payload")
		return
	}

	h.mu.Lock()
	// Usernames are sorted so delivery order is stable across runs.
	names := make([]string, 0, len(h.clients))
	for name := range h.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	var dropped []*Client
	for _, name := range names {
		client := h.clients[name]
		if !client.enqueue(payload) {
			dropped = append(dropped, client)
			delete(h.clients, name)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	for _, client := range dropped {
		client.shutdown()
		metrics.BroadcastFailures.Inc()
		logging.Warn().Str("user", client.username).Msg("dropped unresponsive viewer during broadcast")
	}
	if len(dropped) > 0 {
		metrics.ViewersConnected.Set(float64(total))
	}
	metrics.Broadcasts.Inc()
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Connected reports whether a username currently holds a connection.
func (h *Hub) Connected(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[username]
	return ok
}

// CloseAll disconnects every viewer. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
	metrics.ViewersConnected.Set(0)
	if len(clients) > 0 {
		logging.Info().Int("viewers", len(clients)).Msg("closed all viewer connections")
	}
}
