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

	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/metrics"
	"github.com/ventrelay/ventrelay/internal/models"
)

// MeasurementStore persists sensor readings. Readings are created
// exclusively through the SequenceTracker and are never updated or
// deleted.
type MeasurementStore struct {
	store *Store
}

// NewMeasurementStore returns a measurement store over s.
func NewMeasurementStore(s *Store) *MeasurementStore {
	return &MeasurementStore{store: s}
}

// insert writes one reading at its assigned (epoch, nr) identity. A
// primary key collision surfaces so the sequence tracker can advance the
// epoch.
func (m *MeasurementStore) insert(ctx context.Context, meas *models.Measurement) error {
	return m.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO measurements (epoch, nr, datetime, pressure, co2, temp, rh, speed, auto)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			meas.Epoch, meas.Nr, meas.Datetime, meas.Pressure, meas.CO2,
			meas.Temp, meas.RH, meas.Speed, meas.Auto)
		if err != nil {
			return fmt.Errorf("%w: insert measurement (%d, %d): %w",
				models.ErrDatabase, meas.Epoch, meas.Nr, err)
		}
		return nil
	})
}

// SamplesByTime returns the readings recorded in [start, end], in storage
// order. Callers needing chronological order sort the result.
func (m *MeasurementStore) SamplesByTime(ctx context.Context, start, end time.Time) ([]models.Measurement, error) {
	return m.query(ctx, `
		SELECT epoch, nr, datetime, pressure, co2, temp, rh, speed, auto
		FROM measurements
		WHERE datetime >= $1 AND datetime <= $2`, start, end)
}

// SamplesByNr returns the readings of one epoch with low <= nr <= high,
// in storage order.
func (m *MeasurementStore) SamplesByNr(ctx context.Context, epoch, low, high int64) ([]models.Measurement, error) {
	return m.query(ctx, `
		SELECT epoch, nr, datetime, pressure, co2, temp, rh, speed, auto
		FROM measurements
		WHERE epoch = $1 AND nr >= $2 AND nr <= $3`, epoch, low, high)
}

func (m *MeasurementStore) query(ctx context.Context, q string, args ...any) ([]models.Measurement, error) {
	var samples []models.Measurement
	err := m.store.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("%w: query measurements: %w", models.ErrDatabase, err)
		}
		defer rows.Close()

		for rows.Next() {
			var s models.Measurement
			if err := rows.Scan(&s.Epoch, &s.Nr, &s.Datetime, &s.Pressure, &s.CO2,
				&s.Temp, &s.RH, &s.Speed, &s.Auto); err != nil {
				return fmt.Errorf("%w: scan measurement: %w", models.ErrDatabase, err)
			}
			samples = append(samples, s)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("%w: iterate measurements: %w", models.ErrDatabase, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// maxEpoch returns the highest epoch present in storage, 0 when empty.
func (m *MeasurementStore) maxEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	err := m.store.withTx(ctx, func(tx *sql.Tx) error {
		var max sql.NullInt64
		row := tx.QueryRowContext(ctx, `SELECT MAX(epoch) FROM measurements`)
		if err := row.Scan(&max); err != nil {
			return fmt.Errorf("%w: reading max epoch: %w", models.ErrDatabase, err)
		}
		if max.Valid {
			epoch = max.Int64
		}
		return nil
	})
	return epoch, err
}

// maxNr returns the highest nr recorded for an epoch. The second result
// is false when the epoch holds no readings.
func (m *MeasurementStore) maxNr(ctx context.Context, epoch int64) (int64, bool, error) {
	var nr sql.NullInt64
	err := m.store.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT MAX(nr) FROM measurements WHERE epoch = $1`, epoch)
		if err := row.Scan(&nr); err != nil {
			return fmt.Errorf("%w: reading max nr of epoch %d: %w", models.ErrDatabase, epoch, err)
		}
		return nil
	})
	return nr.Int64, nr.Valid, err
}

// maxEpochAdvance bounds the collision retry loop of a single save. A
// healthy device can force at most one advance per reading; hitting the
// bound means the data underneath is pathological.
const maxEpochAdvance = 16

// SequenceTracker assigns each incoming reading a collision-free
// (epoch, nr) identity. The current epoch lives in memory, initialized
// from storage at startup, and advances whenever the device's own counter
// is observed to go non-monotonic (a reboot) or an insert collides with a
// recorded identity.
//
// Single-writer: the broker ingest goroutine is the only caller of Save,
// so the epoch and high-water mark need no locking.
type SequenceTracker struct {
	measurements *MeasurementStore
	epoch        int64
	maxNr        int64
	seen         bool
}

// NewSequenceTracker restores the tracker position from storage: the
// highest recorded epoch and that epoch's highest nr.
func NewSequenceTracker(ctx context.Context, measurements *MeasurementStore) (*SequenceTracker, error) {
	epoch, err := measurements.maxEpoch(ctx)
	if err != nil {
		return nil, err
	}
	nr, seen, err := measurements.maxNr(ctx, epoch)
	if err != nil {
		return nil, err
	}
	return &SequenceTracker{
		measurements: measurements,
		epoch:        epoch,
		maxNr:        nr,
		seen:         seen,
	}, nil
}

// Epoch returns the current in-memory epoch.
func (t *SequenceTracker) Epoch() int64 {
	return t.epoch
}

// Save stamps m with the current epoch and persists it. A device counter
// at or below the epoch's high-water mark signals a reboot and advances
// the epoch exactly once; a forward skip does not. Primary key collisions
// (possible after a restart of this process) also advance the epoch and
// retry, bounded by maxEpochAdvance.
func (t *SequenceTracker) Save(ctx context.Context, m *models.Measurement) error {
	if t.seen && m.Nr <= t.maxNr {
		t.advance()
	}

	for advances := 0; ; advances++ {
		m.Epoch = t.epoch
		err := t.measurements.insert(ctx, m)
		if err == nil {
			t.maxNr = m.Nr
			t.seen = true
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}
		if advances >= maxEpochAdvance {
			return fmt.Errorf("%w: nr %d still collides after %d epoch advances",
				models.ErrDatabase, m.Nr, advances)
		}
		t.advance()
	}
}

// advance moves to the next epoch and resets the high-water mark.
func (t *SequenceTracker) advance() {
	t.epoch++
	t.seen = false
	metrics.EpochAdvances.Inc()
	logging.Info().Int64("epoch", t.epoch).Msg("sequence epoch advanced")
}
