// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package auth

import (
	"fmt"
	"net/http"

	"github.com/ventrelay/ventrelay/internal/models"
)

// Gate resolves an HTTP request to an authenticated username. The
// WebSocket endpoint consults it before the upgrade handshake so that
// unauthenticated viewers are refused with a plain HTTP status instead
// of a half-open socket.
type Gate struct {
	sessions   *SessionStore
	cookieName string
}

// NewGate builds a gate over the session store.
func NewGate(sessions *SessionStore, cookieName string) *Gate {
	return &Gate{sessions: sessions, cookieName: cookieName}
}

// Resolve returns the username the request's session cookie belongs to.
// Missing, unknown and expired sessions all come back as
// models.ErrAuthorization.
func (g *Gate) Resolve(r *http.Request) (string, error) {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil {
		return "", fmt.Errorf("%w: no session cookie", models.ErrAuthorization)
	}
	session, err := g.sessions.Get(cookie.Value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrAuthorization, err)
	}
	return session.Username, nil
}
