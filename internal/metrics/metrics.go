// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesIngested counts status frames accepted from the broker.
	FramesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventrelay_frames_ingested_total",
		Help: "Status frames parsed and persisted from the broker.",
	})

	// FrameParseFailures counts malformed status frames.
	FrameParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventrelay_frame_parse_failures_total",
		Help: "Status frames dropped because they could not be parsed.",
	})

	// EpochAdvances counts sequence epoch increments (device reboots or
	// counter wraps observed by the sequence tracker).
	EpochAdvances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventrelay_epoch_advances_total",
		Help: "Sequence epoch increments caused by non-monotonic device counters.",
	})

	// Broadcasts counts events fanned out to viewers.
	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventrelay_broadcasts_total",
		Help: "Events broadcast to connected viewers.",
	})

	// BroadcastFailures counts per-connection send failures during
	// broadcast. A failure affects only the one connection.
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventrelay_broadcast_failures_total",
		Help: "Individual viewer send failures during broadcast.",
	})

	// ViewersConnected tracks the current number of registered viewers.
	ViewersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ventrelay_viewers_connected",
		Help: "Currently connected authenticated viewers.",
	})

	// CommandsPublished counts control commands pushed to the device.
	CommandsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventrelay_commands_published_total",
		Help: "Control commands published to the device settings topic.",
	})
)
