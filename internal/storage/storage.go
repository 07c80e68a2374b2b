// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

// Package storage implements the relational store behind Ventrelay: the
// schema migrator, the measurement store with its sequence tracker, the
// capability store, and the append-only event log.
//
// Two dialects are supported through database/sql: Postgres (pgx) for
// production and SQLite (modernc, pure Go) for standalone deployments and
// tests. Every operation runs inside an explicit transaction that is
// committed on success and rolled back on any failure; the underlying
// connection is always returned to the pool.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ventrelay/ventrelay/internal/config"
	"github.com/ventrelay/ventrelay/internal/models"
)

// Store wraps the pooled database handle and the active dialect.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	var driverName string
	switch cfg.Driver {
	case "postgres":
		driverName = "pgx"
	case "sqlite":
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", models.ErrConfiguration, cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", models.ErrDatabase, cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// A single connection keeps an in-memory database coherent and
		// serializes writes, which SQLite requires anyway.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", models.ErrDatabase, cfg.Driver, err)
	}

	return &Store{db: db, driver: cfg.Driver}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction. The transaction is committed if fn
// returns nil and rolled back otherwise; the connection goes back to the
// pool on every exit path.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", models.ErrDatabase, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", models.ErrDatabase, err)
	}
	return nil
}

// isUniqueViolation reports whether err (possibly wrapped) is a primary
// key or unique constraint violation in either dialect. The sequence
// tracker depends on this to detect device counter resets.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// IsUniqueViolation is the exported form of isUniqueViolation, used by
// handlers to translate duplicate-create errors into viewer messages.
func IsUniqueViolation(err error) bool {
	return isUniqueViolation(err)
}
