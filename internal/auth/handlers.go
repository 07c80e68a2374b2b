// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package auth

import (
	"net/http"

	"github.com/ventrelay/ventrelay/internal/config"
	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/storage"
)

// Handlers serves the login and logout endpoints.
type Handlers struct {
	users    *storage.CapabilityStore
	events   *storage.EventLog
	sessions *SessionStore
	cookie   config.SessionConfig
}

// NewHandlers wires the auth endpoints.
func NewHandlers(users *storage.CapabilityStore, events *storage.EventLog, sessions *SessionStore, cookie config.SessionConfig) *Handlers {
	return &Handlers{
		users:    users,
		events:   events,
		sessions: sessions,
		cookie:   cookie,
	}
}

// Login authenticates form credentials. On success the session is
// regenerated (fixation guard), a "Logged in" audit event is appended and
// the viewer is redirected home. A failed login leaves no trace in the
// audit log.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if !h.users.Authenticate(r.Context(), username, password) {
		logging.Warn().Str("user", username).Msg("rejected login")
		http.Redirect(w, r, "/login?error=true", http.StatusSeeOther)
		return
	}

	// Drop any session the browser already holds before issuing a new
	// identity.
	if cookie, err := r.Cookie(h.cookie.CookieName); err == nil {
		h.sessions.Delete(cookie.Value)
	}
	session := h.sessions.Create(username)

	if err := h.events.LogEvent(r.Context(), username, "Logged in"); err != nil {
		logging.Error().Err(err).Str("user", username).Msg("could not record login event")
	}
	logging.Info().Str("user", username).Msg("user logged in")

	http.SetCookie(w, h.sessionCookie(session.ID, int(h.cookie.TTL.Seconds())))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout clears the viewer's session and cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookie.CookieName); err == nil {
		h.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, h.sessionCookie("", -1))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// sessionCookie builds the session cookie. maxAge -1 clears it.
func (h *Handlers) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookie.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   h.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
