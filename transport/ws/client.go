// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/didcomm-mediator/atm/internal/logger"
)

const (
	defaultDialTimeout        = 10 * time.Second
	defaultReconnectBaseDelay = 250 * time.Millisecond
	defaultReconnectMaxDelay  = 10 * time.Second // spec.md §4.9: backoff capped at ten seconds
)

// ErrClosed is returned by Send once Close has been called.
var ErrClosed = errors.New("ws: client closed")

// Client is the client SDK's side of a pickup connection: dial, keep a
// single socket open with return_route=all semantics, hand every inbound
// frame to OnEnvelope, and reconnect with capped exponential backoff when
// the socket drops (notably on access-token expiry, per spec.md §4.9).
// Grounded on the deleted pkg/agent/transport/websocket.WSTransport, minus
// its per-message pending-response correlation: DIDComm envelopes carry
// their own thread id, so correlating a reply to a request is the caller's
// concern once it has unpacked the envelope, not the transport's.
type Client struct {
	URL    string
	Dialer *websocket.Dialer

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxReconnectBackoff caps the exponential backoff between dial
	// attempts. Zero uses the spec's ten-second cap.
	MaxReconnectBackoff time.Duration

	// OnEnvelope is invoked on the read goroutine, in arrival order, for
	// every inbound frame.
	OnEnvelope func(raw []byte)
	// Authenticate runs after each successful dial (initial connect and
	// every reconnect) before the connection is considered ready, e.g. to
	// re-run the SessionAuth handshake. Optional.
	Authenticate func(ctx context.Context, conn *Conn) error
	Logger       logger.Logger

	mu     sync.Mutex
	conn   *Conn
	raw    *websocket.Conn
	closed bool
}

func (c *Client) log() logger.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.GetDefaultLogger()
}

func (c *Client) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return defaultDialTimeout
}

func (c *Client) writeTimeout() time.Duration {
	if c.WriteTimeout > 0 {
		return c.WriteTimeout
	}
	return defaultWriteTimeout
}

func (c *Client) maxBackoff() time.Duration {
	if c.MaxReconnectBackoff > 0 {
		return c.MaxReconnectBackoff
	}
	return defaultReconnectMaxDelay
}

func (c *Client) dialer() *websocket.Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return &websocket.Dialer{HandshakeTimeout: c.dialTimeout()}
}

// dial opens one socket and, if Authenticate is set, runs it before
// returning. The caller is responsible for starting the read loop.
func (c *Client) dial(ctx context.Context) (*Conn, *websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout())
	defer cancel()

	raw, _, err := c.dialer().DialContext(dialCtx, c.URL, nil)
	if err != nil {
		return nil, nil, err
	}
	conn := &Conn{ws: raw, writeTimeout: c.writeTimeout()}
	if c.Authenticate != nil {
		if err := c.Authenticate(ctx, conn); err != nil {
			_ = raw.Close()
			return nil, nil, err
		}
	}
	return conn, raw, nil
}

// Connect dials once and starts the background read loop. Use Run instead
// to keep reconnecting for the lifetime of ctx.
func (c *Client) Connect(ctx context.Context) error {
	conn, raw, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn, c.raw = conn, raw
	c.mu.Unlock()

	go c.readLoop(raw)
	return nil
}

// Run keeps a connection open until ctx is cancelled, reconnecting with
// exponential backoff (capped at ten seconds) whenever the socket drops.
func (c *Client) Run(ctx context.Context) error {
	delay := defaultReconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.Connect(ctx); err != nil {
			c.log().Warn("ws client: dial failed, backing off", logger.Error(err), logger.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxBackoff() {
				delay = c.maxBackoff()
			}
			continue
		}

		delay = defaultReconnectBaseDelay
		c.waitUntilDisconnected(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) waitUntilDisconnected(ctx context.Context) {
	for {
		c.mu.Lock()
		raw := c.raw
		c.mu.Unlock()
		if raw == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (c *Client) readLoop(raw *websocket.Conn) {
	for {
		msgType, data, err := raw.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.raw == raw {
				c.conn, c.raw = nil, nil
			}
			c.mu.Unlock()
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if c.OnEnvelope != nil {
			c.OnEnvelope(data)
		}
	}
}

// Send writes one envelope frame over the current connection.
func (c *Client) Send(ctx context.Context, envelopeBytes []byte) error {
	c.mu.Lock()
	closed, conn := c.closed, c.conn
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return errors.New("ws client: not connected")
	}
	return conn.Push(ctx, envelopeBytes)
}

// Close shuts down the current connection and marks the client closed;
// Run's reconnect loop observes ctx cancellation and exits on its own.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn, c.raw = nil, nil
		return err
	}
	return nil
}
