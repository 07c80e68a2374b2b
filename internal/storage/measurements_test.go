// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package storage

import (
	"context"
	"testing"
	"time"
)

func TestSequenceTrackerMonotonicRun(t *testing.T) {
	store := openTestStore(t)
	ms := NewMeasurementStore(store)
	ctx := context.Background()

	tracker, err := NewSequenceTracker(ctx, ms)
	if err != nil {
		t.Fatalf("NewSequenceTracker: %v", err)
	}
	if tracker.Epoch() != 0 {
		t.Fatalf("fresh tracker epoch = %d, want 0", tracker.Epoch())
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, nr := range []int64{1, 2, 3, 7} {
		m := testReading(nr, base.Add(time.Duration(i)*time.Minute))
		if err := tracker.Save(ctx, m); err != nil {
			t.Fatalf("Save nr=%d: %v", nr, err)
		}
		if m.Epoch != 0 {
			t.Errorf("nr=%d assigned epoch %d, want 0 (forward skip is not a reboot)", nr, m.Epoch)
		}
	}
}

func TestSequenceTrackerRebootAdvancesOnce(t *testing.T) {
	store := openTestStore(t)
	ms := NewMeasurementStore(store)
	ctx := context.Background()

	tracker, err := NewSequenceTracker(ctx, ms)
	if err != nil {
		t.Fatalf("NewSequenceTracker: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nrs := []int64{1, 2, 3, 1, 2}
	wantEpochs := []int64{0, 0, 0, 1, 1}

	seen := make(map[[2]int64]bool)
	for i, nr := range nrs {
		m := testReading(nr, base.Add(time.Duration(i)*time.Minute))
		if err := tracker.Save(ctx, m); err != nil {
			t.Fatalf("Save nr=%d: %v", nr, err)
		}
		if m.Epoch != wantEpochs[i] {
			t.Errorf("reading %d (nr=%d): epoch %d, want %d", i, nr, m.Epoch, wantEpochs[i])
		}
		key := [2]int64{m.Epoch, m.Nr}
		if seen[key] {
			t.Errorf("identity (%d, %d) assigned twice", m.Epoch, m.Nr)
		}
		seen[key] = true
	}

	samples, err := ms.SamplesByTime(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("SamplesByTime: %v", err)
	}
	if len(samples) != len(nrs) {
		t.Errorf("stored %d readings, want %d", len(samples), len(nrs))
	}
}

func TestSequenceTrackerEqualNrIsReboot(t *testing.T) {
	store := openTestStore(t)
	ms := NewMeasurementStore(store)
	ctx := context.Background()

	tracker, _ := NewSequenceTracker(ctx, ms)
	base := time.Now().UTC()

	first := testReading(5, base)
	if err := tracker.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// A repeated counter value is read as a reboot signal, not a
	// re-delivery.
	second := testReading(5, base.Add(time.Minute))
	if err := tracker.Save(ctx, second); err != nil {
		t.Fatalf("Save duplicate nr: %v", err)
	}
	if second.Epoch != first.Epoch+1 {
		t.Errorf("duplicate nr got epoch %d, want %d", second.Epoch, first.Epoch+1)
	}
}

func TestSequenceTrackerRestartRecoversPosition(t *testing.T) {
	store := openTestStore(t)
	ms := NewMeasurementStore(store)
	ctx := context.Background()

	tracker, _ := NewSequenceTracker(ctx, ms)
	base := time.Now().UTC()
	for i, nr := range []int64{1, 2, 3} {
		if err := tracker.Save(ctx, testReading(nr, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	// A process restart rebuilds the tracker from storage.
	restarted, err := NewSequenceTracker(ctx, ms)
	if err != nil {
		t.Fatalf("NewSequenceTracker after restart: %v", err)
	}
	if restarted.Epoch() != 0 {
		t.Fatalf("restarted epoch = %d, want 0", restarted.Epoch())
	}

	m := testReading(1, base.Add(time.Hour))
	if err := restarted.Save(ctx, m); err != nil {
		t.Fatalf("Save after restart: %v", err)
	}
	if m.Epoch != 1 {
		t.Errorf("post-restart reboot reading got epoch %d, want 1", m.Epoch)
	}
}

func TestSequenceTrackerCollisionFallback(t *testing.T) {
	store := openTestStore(t)
	ms := NewMeasurementStore(store)
	ctx := context.Background()

	// Seed a recorded identity the tracker does not know about.
	seeded := testReading(9, time.Now().UTC())
	seeded.Epoch = 0
	if err := ms.insert(ctx, seeded); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	// A tracker with no high-water mark must detect the collision on
	// insert and advance.
	blind := &SequenceTracker{measurements: ms, epoch: 0}
	m := testReading(9, time.Now().UTC().Add(time.Minute))
	if err := blind.Save(ctx, m); err != nil {
		t.Fatalf("Save with collision: %v", err)
	}
	if m.Epoch != 1 {
		t.Errorf("collision reading got epoch %d, want 1", m.Epoch)
	}
}

func TestSamplesByNr(t *testing.T) {
	store := openTestStore(t)
	ms := NewMeasurementStore(store)
	ctx := context.Background()

	tracker, _ := NewSequenceTracker(ctx, ms)
	base := time.Now().UTC()
	for i, nr := range []int64{1, 2, 3, 4, 5} {
		if err := tracker.Save(ctx, testReading(nr, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	samples, err := ms.SamplesByNr(ctx, 0, 2, 4)
	if err != nil {
		t.Fatalf("SamplesByNr: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	for _, s := range samples {
		if s.Nr < 2 || s.Nr > 4 {
			t.Errorf("sample nr %d outside requested range", s.Nr)
		}
	}
}

func TestMeasurementRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ms := NewMeasurementStore(store)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := testReading(1, at)
	tracker, _ := NewSequenceTracker(ctx, ms)
	if err := tracker.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := ms.SamplesByTime(ctx, at.Add(-time.Minute), at.Add(time.Minute))
	if err != nil {
		t.Fatalf("SamplesByTime: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d samples, want 1", len(out))
	}

	got := out[0]
	if got.Nr != in.Nr || got.Epoch != in.Epoch {
		t.Errorf("identity (%d, %d), want (%d, %d)", got.Epoch, got.Nr, in.Epoch, in.Nr)
	}
	if got.Pressure != in.Pressure || got.CO2 != in.CO2 || got.Temp != in.Temp ||
		got.RH != in.RH || got.Speed != in.Speed || got.Auto != in.Auto {
		t.Errorf("sensor values mutated in storage: got %+v, want %+v", got, in)
	}
	if !got.Datetime.Equal(at) {
		t.Errorf("datetime %v, want %v", got.Datetime, at)
	}
}
