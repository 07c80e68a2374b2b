// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

// Package models defines the core data types shared across Ventrelay:
// measurements, audit log entries, the viewer wire protocol, and the
// error taxonomy.
package models

import "time"

// Capability names grantable to users. Checked on every privileged
// operation via the capability store.
const (
	// CapabilityAdmin allows user creation, broker reconfiguration and
	// audit log queries.
	CapabilityAdmin = "admin"

	// CapabilitySettings allows pushing control commands to the device.
	CapabilitySettings = "settings"
)

// Measurement is one sensor reading reported by the controller.
//
// The composite identity (Epoch, Nr) is unique across the lifetime of the
// installation: Nr is the device's own monotonically increasing counter,
// which resets on reboot, and Epoch is a logical generation counter
// advanced by the sequence tracker each time Nr is observed to go
// non-monotonic.
type Measurement struct {
	Epoch    int64     `json:"epoch"`
	Nr       int64     `json:"nr"`
	Datetime time.Time `json:"datetime"`
	Pressure float64   `json:"pressure"`
	CO2      float64   `json:"co2"`
	Temp     float64   `json:"temp"`
	RH       float64   `json:"rh"`
	Speed    float64   `json:"speed"`
	Auto     bool      `json:"auto"`
}

// EventLogEntry is one immutable row of the authentication and control
// audit log. Username is nil for system events.
type EventLogEntry struct {
	ID       int64     `json:"event_id"`
	Datetime time.Time `json:"datetime"`
	Username *string   `json:"username"`
	Message  string    `json:"message"`
}

// Command is the payload published to the controller's settings topic.
//
// Auto is carried as the string "true" or "false", matching what the
// controller firmware parses. Exactly one of Pressure (auto mode target)
// or Speed (manual fan speed) is set.
type Command struct {
	Auto     string   `json:"auto"`
	Pressure *float64 `json:"pressure,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
}
