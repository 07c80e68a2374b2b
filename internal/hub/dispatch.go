// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package hub

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/models"
	"github.com/ventrelay/ventrelay/internal/storage"
)

// Bridge is the broker surface the dispatcher drives. The broker package
// provides the implementation.
type Bridge interface {
	Configure(url string) error
	PublishCommand(ctx context.Context, username string, cmd models.Command) error
}

// Dispatcher routes viewer requests to storage and the broker bridge.
// Every request yields exactly one reply.
type Dispatcher struct {
	measurements *storage.MeasurementStore
	users        *storage.CapabilityStore
	events       *storage.EventLog
	bridge       Bridge
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(measurements *storage.MeasurementStore, users *storage.CapabilityStore, events *storage.EventLog, bridge Bridge) *Dispatcher {
	return &Dispatcher{
		measurements: measurements,
		users:        users,
		events:       events,
		bridge:       bridge,
	}
}

// Dispatch handles one raw viewer message on behalf of username and
// returns the single reply.
func (d *Dispatcher) Dispatch(ctx context.Context, username string, raw []byte) models.Response {
	var req models.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		logging.Warn().Err(err).Str("user", username).Msg("unparseable viewer request")
		return models.ClientError("Could not parse request")
	}

	switch req.Code {
	case models.CodeDBRequest:
		return d.samples(ctx, username, req)
	case models.CodeEventLog:
		return d.eventLog(ctx, username, req)
	case models.CodeCreateUser:
		return d.createUser(ctx, username, req)
	case models.CodeMQTTBroker:
		return d.configureBroker(ctx, username, req)
	case models.CodeMQTTSend:
		return d.sendCommand(ctx, username, req)
	default:
		logging.Warn().Str("user", username).Str("code", req.Code).Msg("unknown request code")
		return models.ClientError("Unknown request code")
	}
}

// samples serves DB_REQUEST: readings within [start, end], newest first.
func (d *Dispatcher) samples(ctx context.Context, username string, req models.Request) models.Response {
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return models.ClientError("Invalid start timestamp")
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return models.ClientError("Invalid end timestamp")
	}
	if end.Before(start) {
		return models.ClientError("End precedes start")
	}

	data, err := d.measurements.SamplesByTime(ctx, start, end)
	if err != nil {
		logging.Error().Err(err).Str("user", username).Msg("sample query failed")
		return models.ClientError("Could not query samples")
	}
	sort.Slice(data, func(i, j int) bool {
		return data[i].Datetime.After(data[j].Datetime)
	})

	return models.Response{
		Code:      models.CodeDBResponse,
		Selection: req.Selection,
		Data:      data,
	}
}

// eventLog serves EVENT_LOG for admins. A nil username in the request
// returns the full audit log.
func (d *Dispatcher) eventLog(ctx context.Context, username string, req models.Request) models.Response {
	if !d.users.HasCapability(ctx, username, models.CapabilityAdmin) {
		return models.ClientError("Not authorized")
	}

	var (
		events []models.EventLogEntry
		err    error
	)
	if req.Username == nil || *req.Username == "" {
		events, err = d.events.AllEvents(ctx)
	} else {
		events, err = d.events.EventsByUser(ctx, *req.Username)
	}
	if err != nil {
		logging.Error().Err(err).Str("user", username).Msg("event log query failed")
		return models.ClientError("Could not query event log")
	}

	return models.Response{Code: models.CodeDBResponse, Events: events}
}

// createUser serves CREATE_USER for admins. A rejected request leaves no
// user row behind.
func (d *Dispatcher) createUser(ctx context.Context, username string, req models.Request) models.Response {
	if !d.users.HasCapability(ctx, username, models.CapabilityAdmin) {
		return models.ClientError("Not authorized")
	}
	if req.Username == nil || *req.Username == "" || req.Password == "" {
		return models.ClientError("Username and password are required")
	}

	if err := d.users.Create(ctx, *req.Username, req.Password); err != nil {
		if storage.IsUniqueViolation(err) {
			return models.ClientError("User already exists")
		}
		logging.Error().Err(err).Str("user", username).Msg("user creation failed")
		return models.ClientError("Could not create user")
	}

	if err := d.events.LogEvent(ctx, username, "Created user "+*req.Username); err != nil {
		logging.Error().Err(err).Msg("could not record user creation event")
	}
	logging.Info().Str("admin", username).Str("created", *req.Username).Msg("user created")
	return models.Ack()
}

// configureBroker serves MQTT_BROKER for admins: point the bridge at a
// new broker URL.
func (d *Dispatcher) configureBroker(ctx context.Context, username string, req models.Request) models.Response {
	if !d.users.HasCapability(ctx, username, models.CapabilityAdmin) {
		return models.ClientError("Not authorized")
	}
	if req.URL == "" {
		return models.ClientError("Broker URL is required")
	}

	if err := d.bridge.Configure(req.URL); err != nil {
		logging.Error().Err(err).Str("user", username).Str("url", req.URL).Msg("broker reconfiguration failed")
		return models.ClientError("Could not connect to broker")
	}

	if err := d.events.LogEvent(ctx, username, "Changed MQTT broker"); err != nil {
		logging.Error().Err(err).Msg("could not record broker change event")
	}
	return models.Ack()
}

// sendCommand serves MQTT_SEND: translate the request into a controller
// command and hand it to the bridge, which enforces the settings
// capability and records the audit event.
func (d *Dispatcher) sendCommand(ctx context.Context, username string, req models.Request) models.Response {
	cmd, err := commandFromRequest(req)
	if err != nil {
		return models.ClientError(err.Error())
	}

	if err := d.bridge.PublishCommand(ctx, username, cmd); err != nil {
		if errors.Is(err, models.ErrAuthorization) {
			return models.ClientError("Not authorized")
		}
		logging.Error().Err(err).Str("user", username).Msg("command publish failed")
		return models.ClientError("Could not publish command")
	}
	return models.Ack()
}

// commandFromRequest validates an MQTT_SEND request. Auto mode carries a
// pressure target, manual mode a fan speed; exactly one of them.
func commandFromRequest(req models.Request) (models.Command, error) {
	switch req.Auto {
	case "true":
		if req.Pressure == "" {
			return models.Command{}, errors.New("Auto mode requires a pressure target")
		}
		pressure, err := strconv.ParseFloat(req.Pressure, 64)
		if err != nil {
			return models.Command{}, errors.New("Invalid pressure value")
		}
		return models.Command{Auto: "true", Pressure: &pressure}, nil

	case "false":
		if req.Speed == "" {
			return models.Command{}, errors.New("Manual mode requires a fan speed")
		}
		speed, err := strconv.ParseFloat(req.Speed, 64)
		if err != nil {
			return models.Command{}, errors.New("Invalid speed value")
		}
		return models.Command{Auto: "false", Speed: &speed}, nil

	default:
		return models.Command{}, errors.New("Auto must be \"true\" or \"false\"")
	}
}
