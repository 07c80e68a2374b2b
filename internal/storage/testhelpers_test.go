// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ventrelay/ventrelay/internal/config"
	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/models"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// openTestStore opens a fresh in-memory sqlite store with the full schema.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    ":memory:",
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

// testReading builds a measurement with the given device counter value.
func testReading(nr int64, at time.Time) *models.Measurement {
	return &models.Measurement{
		Nr:       nr,
		Datetime: at,
		Pressure: 4.5,
		CO2:      600,
		Temp:     21.5,
		RH:       40,
		Speed:    25,
		Auto:     true,
	}
}
