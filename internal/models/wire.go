// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package models

// Wire message codes exchanged between viewers and the hub. Every inbound
// request is answered with exactly one tagged reply; MQTT_UPDATE and
// CLIENT_ERROR may additionally be broadcast to all viewers from the
// broker ingest path.
const (
	CodeDBRequest   = "DB_REQUEST"
	CodeDBResponse  = "DB_RESPONSE"
	CodeEventLog    = "EVENT_LOG"
	CodeCreateUser  = "CREATE_USER"
	CodeMQTTBroker  = "MQTT_BROKER"
	CodeMQTTSend    = "MQTT_SEND"
	CodeMQTTUpdate  = "MQTT_UPDATE"
	CodeClientAck   = "CLIENT_ACK"
	CodeClientError = "CLIENT_ERROR"
)

// Request is the envelope for all inbound viewer messages. Code selects
// the handler; the remaining fields are populated per code:
//
//	DB_REQUEST   selection, start, end (RFC 3339 timestamps)
//	EVENT_LOG    username (nil means all users)
//	CREATE_USER  username, password
//	MQTT_BROKER  url
//	MQTT_SEND    auto ("true"/"false"), pressure or speed (decimal strings)
type Request struct {
	Code      string  `json:"code"`
	Selection string  `json:"selection,omitempty"`
	Start     string  `json:"start,omitempty"`
	End       string  `json:"end,omitempty"`
	Username  *string `json:"username,omitempty"`
	Password  string  `json:"password,omitempty"`
	URL       string  `json:"url,omitempty"`
	Auto      string  `json:"auto,omitempty"`
	Pressure  string  `json:"pressure,omitempty"`
	Speed     string  `json:"speed,omitempty"`
}

// Response is the envelope for replies to the originating viewer.
type Response struct {
	Code      string          `json:"code"`
	Selection string          `json:"selection,omitempty"`
	Data      []Measurement   `json:"data,omitempty"`
	Events    []EventLogEntry `json:"events,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Update is a broker-originated reading broadcast to all viewers.
type Update struct {
	Code string `json:"code"`
	Measurement
}

// Ack returns a CLIENT_ACK reply.
func Ack() Response {
	return Response{Code: CodeClientAck}
}

// ClientError returns a CLIENT_ERROR reply with the given message.
func ClientError(message string) Response {
	return Response{Code: CodeClientError, Message: message}
}
