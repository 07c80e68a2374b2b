// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/models"
)

// bcryptCost balances hashing strength against login latency.
const bcryptCost = 12

// CapabilityStore is the durable mapping from users to granted
// capabilities, and the authority for password verification.
type CapabilityStore struct {
	store *Store
}

// NewCapabilityStore returns a capability store over s.
func NewCapabilityStore(s *Store) *CapabilityStore {
	return &CapabilityStore{store: s}
}

// Create adds a user with a bcrypt-hashed password. Creating a user that
// already exists surfaces the uniqueness violation to the caller.
func (c *CapabilityStore) Create(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("%w: hashing password: %v", models.ErrValidation, err)
	}
	return c.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, password) VALUES ($1, $2)`,
			username, string(hash))
		if err != nil {
			return fmt.Errorf("%w: create user %s: %w", models.ErrDatabase, username, err)
		}
		return nil
	})
}

// Exists reports whether a user row exists.
func (c *CapabilityStore) Exists(ctx context.Context, username string) (bool, error) {
	var found bool
	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		var name string
		row := tx.QueryRowContext(ctx, `SELECT username FROM users WHERE username = $1`, username)
		if err := row.Scan(&name); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("%w: lookup user %s: %w", models.ErrDatabase, username, err)
		}
		found = true
		return nil
	})
	return found, err
}

// Authenticate verifies a password against the stored hash. It returns
// false for unknown users, wrong passwords, and internal errors alike;
// internal errors are logged, never propagated to the login path.
func (c *CapabilityStore) Authenticate(ctx context.Context, username, password string) bool {
	var hash string
	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT password FROM users WHERE username = $1`, username)
		return row.Scan(&hash)
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logging.Error().Err(err).Str("user", username).Msg("could not authenticate user")
		}
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Grant records a capability for a user. Granting a pair that already
// exists surfaces the uniqueness violation to the admin caller.
func (c *CapabilityStore) Grant(ctx context.Context, username, capability string) error {
	return c.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO capabilities (username, capability) VALUES ($1, $2)`,
			username, capability)
		if err != nil {
			return fmt.Errorf("%w: grant %s to %s: %w", models.ErrDatabase, capability, username, err)
		}
		return nil
	})
}

// Capabilities returns the capabilities granted to a user.
func (c *CapabilityStore) Capabilities(ctx context.Context, username string) ([]string, error) {
	var caps []string
	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT capability FROM capabilities WHERE username = $1`, username)
		if err != nil {
			return fmt.Errorf("%w: list capabilities of %s: %w", models.ErrDatabase, username, err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("%w: scan capability: %w", models.ErrDatabase, err)
			}
			caps = append(caps, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return caps, nil
}

// HasCapability reports whether the user holds the capability. Internal
// failures are logged and reported as false so authorization checks never
// fail open.
func (c *CapabilityStore) HasCapability(ctx context.Context, username, capability string) bool {
	caps, err := c.Capabilities(ctx, username)
	if err != nil {
		logging.Error().Err(err).Str("user", username).Msg("could not list capabilities")
		return false
	}
	for _, name := range caps {
		if name == capability {
			return true
		}
	}
	return false
}
