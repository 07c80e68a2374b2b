// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

// Package broker connects Ventrelay to the controller's MQTT broker. It
// owns the single ordered subscription on the status topic, pushes each
// accepted reading through the sequence tracker into storage, fans the
// result out to viewers, and publishes control commands on the settings
// topic.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ventrelay/ventrelay/internal/config"
	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/metrics"
	"github.com/ventrelay/ventrelay/internal/models"
	"github.com/ventrelay/ventrelay/internal/storage"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds paho waits for in-flight work
	subscribeQoS      = 1
)

// Broadcaster receives broker-originated payloads for fanout to viewers.
// The hub implements it.
type Broadcaster interface {
	Broadcast(v any)
}

// Bridge is the MQTT side of the relay. All status frames flow through
// handleFrame on paho's single ordered delivery goroutine, which is what
// lets the sequence tracker run without its own locking.
type Bridge struct {
	cfg         config.BrokerConfig
	tracker     *storage.SequenceTracker
	users       *storage.CapabilityStore
	events      *storage.EventLog
	broadcaster Broadcaster

	mu     sync.Mutex
	client mqtt.Client

	// newClient is swapped out by tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewBridge wires the bridge. Call Configure to connect.
func NewBridge(cfg config.BrokerConfig, tracker *storage.SequenceTracker, users *storage.CapabilityStore, events *storage.EventLog, broadcaster Broadcaster) *Bridge {
	return &Bridge{
		cfg:         cfg,
		tracker:     tracker,
		users:       users,
		events:      events,
		broadcaster: broadcaster,
		newClient:   mqtt.NewClient,
	}
}

// Configure connects to the broker at url, dropping any existing
// connection first. The status subscription is re-established inside the
// connect handler so it survives automatic reconnects.
func (b *Bridge) Configure(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		b.client.Disconnect(disconnectQuiesce)
		b.client = nil
	}

	// A fresh client-ID suffix per connection keeps a repointed broker
	// from seeing two sessions with the same identity.
	clientID := b.cfg.ClientID + "-" + uuid.NewString()[:8]

	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logging.Warn().Err(err).Msg("broker connection lost")
		})

	client := b.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(disconnectQuiesce)
		return fmt.Errorf("%w: connect to %s timed out", models.ErrBroker, url)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: connect to %s: %w", models.ErrBroker, url, err)
	}

	b.client = client
	logging.Info().Str("url", url).Msg("connected to broker")
	return nil
}

// onConnect subscribes to the status topic. Runs on every (re)connect.
func (b *Bridge) onConnect(client mqtt.Client) {
	token := client.Subscribe(b.cfg.StatusTopic, subscribeQoS, b.handleFrame)
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		logging.Error().Err(token.Error()).Str("topic", b.cfg.StatusTopic).Msg("status subscription failed")
		return
	}
	logging.Info().Str("topic", b.cfg.StatusTopic).Msg("subscribed to status topic")
}

// handleFrame processes one status frame. It runs on paho's ordered
// delivery goroutine; nothing else writes to the tracker.
func (b *Bridge) handleFrame(_ mqtt.Client, msg mqtt.Message) {
	if msg.Topic() != b.cfg.StatusTopic {
		logging.Warn().Str("topic", msg.Topic()).Msg("discarding frame from unexpected topic")
		return
	}

	var m models.Measurement
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		metrics.FrameParseFailures.Inc()
		logging.Warn().Err(err).Msg("unparseable status frame")
		b.broadcaster.Broadcast(models.ClientError("Could not parse status message"))
		return
	}
	m.Datetime = time.Now().UTC()

	if err := b.tracker.Save(context.Background(), &m); err != nil {
		logging.Error().Err(err).Int64("nr", m.Nr).Msg("could not persist reading")
		return
	}

	b.broadcaster.Broadcast(models.Update{Code: models.CodeMQTTUpdate, Measurement: m})
	metrics.FramesIngested.Inc()
}

// PublishCommand pushes a control command to the settings topic on behalf
// of username. The settings capability is checked here so no caller can
// skip it, and every accepted command is audited.
func (b *Bridge) PublishCommand(ctx context.Context, username string, cmd models.Command) error {
	if !b.users.HasCapability(ctx, username, models.CapabilitySettings) {
		return fmt.Errorf("%w: settings capability required", models.ErrAuthorization)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("%w: marshal command: %w", models.ErrBroker, err)
	}

	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("%w: not connected", models.ErrBroker)
	}

	token := client.Publish(b.cfg.CommandTopic, subscribeQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish timed out", models.ErrBroker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: publish: %w", models.ErrBroker, err)
	}

	if err := b.events.LogEvent(ctx, username, "Changed controller settings"); err != nil {
		logging.Error().Err(err).Str("user", username).Msg("could not record settings event")
	}
	metrics.CommandsPublished.Inc()
	logging.Info().Str("user", username).Str("auto", cmd.Auto).Msg("published controller command")
	return nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.Disconnect(disconnectQuiesce)
		b.client = nil
	}
}
