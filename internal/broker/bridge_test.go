// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package broker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/ventrelay/ventrelay/internal/config"
	"github.com/ventrelay/ventrelay/internal/logging"
	"github.com/ventrelay/ventrelay/internal/models"
	"github.com/ventrelay/ventrelay/internal/storage"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "error",
		Format: "console",
		Output: io.Discard,
	})
}

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishedMessage struct {
	topic   string
	payload []byte
}

// fakeClient satisfies mqtt.Client without a broker.
type fakeClient struct {
	opts          *mqtt.ClientOptions
	connected     bool
	disconnected  bool
	connectErr    error
	published     []publishedMessage
	subscriptions map[string]mqtt.MessageHandler
}

func (c *fakeClient) IsConnected() bool      { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.connected }

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectErr != nil {
		return &fakeToken{err: c.connectErr}
	}
	c.connected = true
	if c.opts != nil && c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, publishedMessage{topic: topic, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]mqtt.MessageHandler)
	}
	c.subscriptions[topic] = callback
	return &fakeToken{}
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(...string) mqtt.Token       { return &fakeToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)   {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeBroadcaster struct {
	payloads []any
}

func (b *fakeBroadcaster) Broadcast(v any) {
	b.payloads = append(b.payloads, v)
}

type bridgeFixture struct {
	bridge       *Bridge
	client       *fakeClient
	broadcaster  *fakeBroadcaster
	users        *storage.CapabilityStore
	events       *storage.EventLog
	measurements *storage.MeasurementStore
}

func testBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		URL:          "tcp://localhost:1883",
		StatusTopic:  "controller/status",
		CommandTopic: "controller/settings",
		ClientID:     "ventrelay-test",
	}
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	users := storage.NewCapabilityStore(store)
	events := storage.NewEventLog(store)
	measurements := storage.NewMeasurementStore(store)
	tracker, err := storage.NewSequenceTracker(ctx, measurements)
	if err != nil {
		t.Fatalf("NewSequenceTracker: %v", err)
	}

	broadcaster := &fakeBroadcaster{}
	bridge := NewBridge(testBrokerConfig(), tracker, users, events, broadcaster)

	client := &fakeClient{}
	bridge.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		client.opts = opts
		return client
	}

	return &bridgeFixture{
		bridge:       bridge,
		client:       client,
		broadcaster:  broadcaster,
		users:        users,
		events:       events,
		measurements: measurements,
	}
}

func (f *bridgeFixture) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	handler, ok := f.client.subscriptions[f.bridge.cfg.StatusTopic]
	if !ok {
		t.Fatal("no status subscription registered")
	}
	handler(f.client, &fakeMessage{topic: topic, payload: payload})
}

func statusFrame(t *testing.T, nr int64) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"nr": nr, "pressure": 5.2, "co2": 412.0, "temp": 21.5, "rh": 40.0, "speed": 30.0, "auto": true,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return payload
}

func TestConfigureSubscribesToStatusTopic(t *testing.T) {
	f := newBridgeFixture(t)

	if err := f.bridge.Configure("tcp://localhost:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if !f.client.connected {
		t.Error("client not connected")
	}
	if _, ok := f.client.subscriptions["controller/status"]; !ok {
		t.Error("status topic not subscribed")
	}
}

func TestConfigureClientIDUniquePerConnection(t *testing.T) {
	f := newBridgeFixture(t)

	if err := f.bridge.Configure("tcp://first:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	firstID := f.client.opts.ClientID

	second := &fakeClient{}
	f.bridge.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		second.opts = opts
		return second
	}
	if err := f.bridge.Configure("tcp://second:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	secondID := second.opts.ClientID

	prefix := testBrokerConfig().ClientID + "-"
	for _, id := range []string{firstID, secondID} {
		if !strings.HasPrefix(id, prefix) {
			t.Errorf("client id %q lacks prefix %q", id, prefix)
		}
		if len(id) == len(prefix) {
			t.Errorf("client id %q has no suffix", id)
		}
	}
	if firstID == secondID {
		t.Errorf("both connections used client id %q", firstID)
	}
}

func TestConfigureConnectFailure(t *testing.T) {
	f := newBridgeFixture(t)
	f.client.connectErr = errors.New("connection refused")

	err := f.bridge.Configure("tcp://nowhere:1883")
	if !errors.Is(err, models.ErrBroker) {
		t.Errorf("got %v, want ErrBroker", err)
	}
}

func TestConfigureReplacesConnection(t *testing.T) {
	f := newBridgeFixture(t)

	if err := f.bridge.Configure("tcp://first:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	first := f.client

	second := &fakeClient{}
	f.bridge.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		second.opts = opts
		return second
	}
	if err := f.bridge.Configure("tcp://second:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if !first.disconnected {
		t.Error("previous connection not dropped")
	}
	if !second.connected {
		t.Error("replacement connection not established")
	}
}

func TestHandleFrameIngestAndBroadcast(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	if err := f.bridge.Configure("tcp://localhost:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	f.deliver(t, "controller/status", statusFrame(t, 1))
	f.deliver(t, "controller/status", statusFrame(t, 2))

	samples, err := f.measurements.SamplesByTime(ctx, time.Now().UTC().Add(-time.Minute), time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("SamplesByTime: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("stored %d readings, want 2", len(samples))
	}

	if len(f.broadcaster.payloads) != 2 {
		t.Fatalf("broadcast %d payloads, want 2", len(f.broadcaster.payloads))
	}
	update, ok := f.broadcaster.payloads[0].(models.Update)
	if !ok {
		t.Fatalf("broadcast payload is %T, want models.Update", f.broadcaster.payloads[0])
	}
	if update.Code != models.CodeMQTTUpdate {
		t.Errorf("update code %q, want MQTT_UPDATE", update.Code)
	}
	if update.Nr != 1 || update.Epoch != 0 {
		t.Errorf("update identity (%d, %d), want (0, 1)", update.Epoch, update.Nr)
	}
	if update.Datetime.IsZero() {
		t.Error("update not stamped with ingest time")
	}
}

func TestHandleFrameRebootBroadcastsNewEpoch(t *testing.T) {
	f := newBridgeFixture(t)

	if err := f.bridge.Configure("tcp://localhost:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	f.deliver(t, "controller/status", statusFrame(t, 1))
	f.deliver(t, "controller/status", statusFrame(t, 2))
	f.deliver(t, "controller/status", statusFrame(t, 1))

	last, ok := f.broadcaster.payloads[2].(models.Update)
	if !ok {
		t.Fatalf("broadcast payload is %T, want models.Update", f.broadcaster.payloads[2])
	}
	if last.Epoch != 1 {
		t.Errorf("reboot reading broadcast with epoch %d, want 1", last.Epoch)
	}
}

func TestHandleFrameParseFailure(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	if err := f.bridge.Configure("tcp://localhost:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	f.deliver(t, "controller/status", []byte("not json at all"))

	if len(f.broadcaster.payloads) != 1 {
		t.Fatalf("broadcast %d payloads, want 1", len(f.broadcaster.payloads))
	}
	reply, ok := f.broadcaster.payloads[0].(models.Response)
	if !ok || reply.Code != models.CodeClientError {
		t.Errorf("parse failure broadcast %+v, want CLIENT_ERROR", f.broadcaster.payloads[0])
	}

	samples, err := f.measurements.SamplesByTime(ctx, time.Now().UTC().Add(-time.Minute), time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("SamplesByTime: %v", err)
	}
	if len(samples) != 0 {
		t.Error("malformed frame was persisted")
	}
}

func TestHandleFrameWrongTopicDiscarded(t *testing.T) {
	f := newBridgeFixture(t)

	if err := f.bridge.Configure("tcp://localhost:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	f.deliver(t, "controller/other", statusFrame(t, 1))

	if len(f.broadcaster.payloads) != 0 {
		t.Error("frame from unexpected topic was broadcast")
	}
}

func TestPublishCommand(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	if err := f.users.Create(ctx, "operator", "pw"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.users.Grant(ctx, "operator", models.CapabilitySettings); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := f.bridge.Configure("tcp://localhost:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	pressure := 5.5
	cmd := models.Command{Auto: "true", Pressure: &pressure}
	if err := f.bridge.PublishCommand(ctx, "operator", cmd); err != nil {
		t.Fatalf("PublishCommand: %v", err)
	}

	if len(f.client.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(f.client.published))
	}
	if f.client.published[0].topic != "controller/settings" {
		t.Errorf("published to %q, want controller/settings", f.client.published[0].topic)
	}
	var sent models.Command
	if err := json.Unmarshal(f.client.published[0].payload, &sent); err != nil {
		t.Fatalf("published payload unparseable: %v", err)
	}
	if sent.Auto != "true" || sent.Pressure == nil || *sent.Pressure != 5.5 || sent.Speed != nil {
		t.Errorf("published command %+v", sent)
	}

	all, err := f.events.AllEvents(ctx)
	if err != nil {
		t.Fatalf("AllEvents: %v", err)
	}
	found := false
	for _, e := range all {
		if e.Message == "Changed controller settings" && e.Username != nil && *e.Username == "operator" {
			found = true
		}
	}
	if !found {
		t.Error("accepted command not audited")
	}
}

func TestPublishCommandUnauthorized(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	if err := f.users.Create(ctx, "viewer", "pw"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.bridge.Configure("tcp://localhost:1883"); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	speed := 40.0
	err := f.bridge.PublishCommand(ctx, "viewer", models.Command{Auto: "false", Speed: &speed})
	if !errors.Is(err, models.ErrAuthorization) {
		t.Fatalf("got %v, want ErrAuthorization", err)
	}
	if len(f.client.published) != 0 {
		t.Error("unauthorized command was published")
	}

	all, err := f.events.AllEvents(ctx)
	if err != nil {
		t.Fatalf("AllEvents: %v", err)
	}
	if len(all) != 0 {
		t.Error("rejected command left an audit entry")
	}
}

func TestPublishCommandNotConnected(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	if err := f.users.Create(ctx, "operator", "pw"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.users.Grant(ctx, "operator", models.CapabilitySettings); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	speed := 40.0
	err := f.bridge.PublishCommand(ctx, "operator", models.Command{Auto: "false", Speed: &speed})
	if !errors.Is(err, models.ErrBroker) {
		t.Errorf("got %v, want ErrBroker", err)
	}
}
