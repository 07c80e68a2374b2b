// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ventrelay/ventrelay/internal/models"
)

// EventLog is the append-only audit log of authentication and control
// events. Rows are never mutated.
type EventLog struct {
	store *Store
}

// NewEventLog returns an event log over s.
func NewEventLog(s *Store) *EventLog {
	return &EventLog{store: s}
}

// LogEvent appends one audit row. An empty username records a system
// event (stored as NULL).
func (e *EventLog) LogEvent(ctx context.Context, username, message string) error {
	var user sql.NullString
	if username != "" {
		user = sql.NullString{String: username, Valid: true}
	}
	return e.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO authentication_log (datetime, username, message)
			VALUES ($1, $2, $3)`,
			time.Now().UTC(), user, message)
		if err != nil {
			return fmt.Errorf("%w: append audit event: %w", models.ErrDatabase, err)
		}
		return nil
	})
}

// AllEvents returns every audit row in storage order.
func (e *EventLog) AllEvents(ctx context.Context) ([]models.EventLogEntry, error) {
	return e.query(ctx, `
		SELECT event_id, datetime, username, message FROM authentication_log`)
}

// EventsByUser returns the audit rows recorded for one user, in storage
// order.
func (e *EventLog) EventsByUser(ctx context.Context, username string) ([]models.EventLogEntry, error) {
	return e.query(ctx, `
		SELECT event_id, datetime, username, message FROM authentication_log
		WHERE username = $1`, username)
}

func (e *EventLog) query(ctx context.Context, q string, args ...any) ([]models.EventLogEntry, error) {
	var events []models.EventLogEntry
	err := e.store.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("%w: query audit events: %w", models.ErrDatabase, err)
		}
		defer rows.Close()

		for rows.Next() {
			var entry models.EventLogEntry
			var user sql.NullString
			if err := rows.Scan(&entry.ID, &entry.Datetime, &user, &entry.Message); err != nil {
				return fmt.Errorf("%w: scan audit event: %w", models.ErrDatabase, err)
			}
			if user.Valid {
				entry.Username = &user.String
			}
			events = append(events, entry)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("%w: iterate audit events: %w", models.ErrDatabase, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
