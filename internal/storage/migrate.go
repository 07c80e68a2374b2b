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

	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/models"
)

// Table describes one managed table and its ordered migration history.
// Each step is a list of statements executed in a single transaction,
// together with the version row update.
type Table struct {
	Name  string
	Steps [][]string
}

const createVersionsTable = `
	CREATE TABLE IF NOT EXISTS versions (
		name VARCHAR(20) NOT NULL PRIMARY KEY,
		version SMALLINT NOT NULL
	)`

const upsertVersion = `
	INSERT INTO versions (name, version) VALUES ($1, $2)
	ON CONFLICT (name) DO UPDATE SET version = excluded.version`

// Migrate brings every managed table to the version expected by this
// build. Idempotent and resumable: tables already at the newest version
// are untouched, and a failed step leaves all prior steps committed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createVersionsTable); err != nil {
		return fmt.Errorf("%w: create versions table: %w", models.ErrDatabase, err)
	}
	for _, table := range s.tables() {
		if err := s.Ensure(ctx, table.Name, table.Steps); err != nil {
			return err
		}
	}
	return nil
}

// Ensure applies the unapplied migration steps for one table, in order,
// each in its own transaction that also records the new version number.
//
// A recorded version higher than the number of known steps means the
// running code is older than the data; that is a configuration error and
// the caller must abort startup.
func (s *Store) Ensure(ctx context.Context, table string, steps [][]string) error {
	current, err := s.tableVersion(ctx, table)
	if err != nil {
		return err
	}

	if current > len(steps) {
		return fmt.Errorf("%w: table %s is at schema version %d but only %d steps are known; update to the latest release",
			models.ErrConfiguration, table, current, len(steps))
	}
	if current == len(steps) {
		logging.Debug().Str("table", table).Int("version", current).Msg("table is up to date")
		return nil
	}

	for i := current; i < len(steps); i++ {
		logging.Info().
			Str("table", table).
			Int("from", i).
			Int("to", i+1).
			Msg("applying schema migration")

		step := steps[i]
		version := i + 1
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range step {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("%w: migrating %s to version %d: %w",
						models.ErrDatabase, table, version, err)
				}
			}
			if _, err := tx.ExecContext(ctx, upsertVersion, table, version); err != nil {
				return fmt.Errorf("%w: recording version %d for %s: %w",
					models.ErrDatabase, version, table, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// tableVersion reads the recorded schema version for a table, 0 if the
// table has never been migrated.
func (s *Store) tableVersion(ctx context.Context, table string) (int, error) {
	var version int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT version FROM versions WHERE name = $1`, table)
		if err := row.Scan(&version); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				version = 0
				return nil
			}
			return fmt.Errorf("%w: reading version of %s: %w", models.ErrDatabase, table, err)
		}
		return nil
	})
	return version, err
}
