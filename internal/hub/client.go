// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package hub

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/ventrelay/ventrelay/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB, requests are small
	sendQueueSize  = 256
)

// Client is one viewer connection. It pumps broadcast payloads out and
// dispatches inbound requests, replying on the same connection.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	username   string
	dispatcher *Dispatcher

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// ServeConn registers an upgraded connection for username and runs its
// read and write pumps until the connection drops.
func (h *Hub) ServeConn(conn *websocket.Conn, username string, d *Dispatcher) {
	client := &Client{
		hub:        h,
		conn:       conn,
		username:   username,
		dispatcher: d,
		send:       make(chan []byte, sendQueueSize),
	}
	h.register(client)
	go client.writePump()
	client.readPump()
}

// enqueue queues a payload for delivery. It reports false when the client
// is closed or its queue is full.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// shutdown closes the send queue and the connection. Safe to call more
// than once.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// readPump reads viewer requests until the connection drops. Every
// request produces exactly one reply, queued back to this client only.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.shutdown()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("could not set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("user", c.username).Msg("unexpected viewer close")
			}
			return
		}

		reply := c.dispatcher.Dispatch(context.Background(), c.username, raw)
		payload, err := json.Marshal(reply)
		if err != nil {
			logging.Error().Err(err).Msg("could not marshal reply")
			continue
		}
		if !c.enqueue(payload) {
			return
		}
	}
}

// writePump drains the send queue to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
