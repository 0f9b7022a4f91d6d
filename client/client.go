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

package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/internal/logger"
	"github.com/didcomm-mediator/atm/transport/ws"
)

const defaultWait = 10 * time.Second

// Client is one Profile's live connection to its mediator: an HTTP base
// URL for the REST-only operations (authentication challenge/response,
// refresh, one-shot inbound send) and a transport/ws.Client for the
// persistent return_route=all channel pickup and live delivery run over.
// Grounded on affinidi-messaging-sdk's ATM/SharedState split, collapsed
// into one type since this SDK has no multi-profile registry to manage.
type Client struct {
	Profile    Profile
	Engine     *envelope.Engine
	BaseURL    string // e.g. https://mediator.example/atm/v1
	WSURL      string // e.g. wss://mediator.example/atm/v1/ws
	HTTPClient *http.Client
	Logger     logger.Logger

	ws *ws.Client

	mu      sync.Mutex
	tokens  TokenPair
	pending map[string]chan *envelope.Message
}

// NewClient wires a Client for profile against a mediator reachable at
// baseURL (REST) and wsURL (websocket pickup channel).
func NewClient(profile Profile, baseURL, wsURL string) *Client {
	return &Client{
		Profile: profile,
		Engine:  profile.engine(),
		BaseURL: baseURL,
		WSURL:   wsURL,
		pending: make(map[string]chan *envelope.Message),
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) log() logger.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.GetDefaultLogger()
}

// Connect runs the authentication handshake and opens the persistent
// pickup channel, starting the background reconnect loop (spec.md §4.9's
// capped exponential backoff) for the lifetime of ctx.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Authenticate(ctx); err != nil {
		return err
	}

	c.ws = &ws.Client{
		URL:        c.WSURL,
		OnEnvelope: c.onEnvelope,
	}
	if err := c.ws.Connect(ctx); err != nil {
		return err
	}
	go c.ws.Run(ctx)
	return nil
}

// Close shuts down the pickup channel.
func (c *Client) Close() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// onEnvelope unpacks an inbound frame and routes it to whichever
// SendAndWait call is waiting on its thread id; an envelope nobody is
// waiting on (an unsolicited push delivery) is logged and dropped, since
// live-delivered message handling is the caller's to layer on via its own
// OnMessage-style hook, not this package's concern.
func (c *Client) onEnvelope(raw []byte) {
	msg, _, err := c.Engine.Unpack(context.Background(), raw, envelope.UnpackOptions{})
	if err != nil {
		c.log().Warn("client: failed to unpack inbound frame", logger.Error(err))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.ThreadID()]
	if ok {
		delete(c.pending, msg.ThreadID())
	}
	c.mu.Unlock()

	if !ok {
		c.log().Debug("client: unsolicited inbound message", logger.String("type", msg.Type))
		return
	}
	ch <- msg
}

// SendAndWait packs msg (authcrypt to the mediator), sends it over the
// pickup channel, and blocks for a reply sharing msg's thread id until wait
// elapses or ctx is cancelled.
func (c *Client) SendAndWait(ctx context.Context, msg *envelope.Message, wait time.Duration) (*envelope.Message, error) {
	if wait <= 0 {
		wait = defaultWait
	}
	thid := msg.ThreadID()

	ch := make(chan *envelope.Message, 1)
	c.mu.Lock()
	c.pending[thid] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, thid)
		c.mu.Unlock()
	}()

	sealed, err := c.Engine.Pack(ctx, msg, c.Profile.MediatorDID, c.Profile.DID, envelope.PackOptions{})
	if err != nil {
		return nil, err
	}
	if err := c.ws.Send(ctx, sealed); err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case reply := <-ch:
		return reply, nil
	}
}
