// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

// Package auth provides viewer sessions, the login and logout endpoints,
// and the gate that authorizes the WebSocket upgrade handshake.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ventrelay/ventrelay/internal/logging"
)

// Session-related errors.
var (
	// ErrSessionNotFound is returned when a session is not in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has passed its TTL.
	ErrSessionExpired = errors.New("session expired")
)

// Session is one authenticated viewer session. The hub and the admin
// command paths read Username only.
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore is an in-process session store with sliding expiry.
// Session IDs are opaque random tokens carried in a cookie.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewSessionStore creates a session store with the given TTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Create issues a new session for a username.
func (s *SessionStore) Create(username string) *Session {
	now := time.Now()
	session := &Session{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

// Get returns the session for an ID, extending its expiry. Expired
// sessions are removed and reported as ErrSessionExpired.
func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if time.Now().After(session.ExpiresAt) {
		delete(s.sessions, id)
		return nil, ErrSessionExpired
	}
	session.ExpiresAt = time.Now().Add(s.ttl)
	return session, nil
}

// Delete removes a session. Deleting an unknown ID is a no-op.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Count returns the number of live sessions (expired ones included until
// swept).
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartCleanup sweeps expired sessions every interval until ctx is done.
func (s *SessionStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep removes every expired session.
func (s *SessionStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logging.Debug().Int("removed", removed).Msg("swept expired sessions")
	}
}
