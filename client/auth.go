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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/internal/logger"
	"github.com/didcomm-mediator/atm/merrors"
)

// messageTypeAuthenticate mirrors auth.MessageTypeAuthenticate. Kept as its
// own constant rather than importing the mediator's auth package: a client
// SDK talks to a mediator only over HTTP/WS wire shapes, never its Go
// types, the same separation affinidi-messaging-sdk keeps from
// affinidi-messaging-mediator.
const messageTypeAuthenticate = "https://affinidi.com/atm/1.0/authenticate"

const refreshSkew = 10 * time.Second

// ChallengeResponse mirrors auth.ChallengeResponse's wire shape.
type ChallengeResponse struct {
	SessionID string `json:"session_id"`
	Challenge string `json:"challenge"`
	ExpiresAt int64  `json:"expires_at"`
}

// TokenPair mirrors auth.TokenPair's wire shape.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

// Authenticate runs the two-step handshake, retrying with linear backoff
// from one second up to a ten-second cap, per original_source's
// authentication/mod.rs `authenticate()` ("Will loop until successful
// authentication... backoff on retries to a max of 10 seconds").
func (c *Client) Authenticate(ctx context.Context) error {
	delay := time.Second
	for attempt := 1; ; attempt++ {
		err := c.authenticateOnce(ctx)
		if err == nil {
			return nil
		}
		c.log().Warn("client: authentication attempt failed, backing off",
			logger.Int("attempt", attempt), logger.Duration("delay", delay), logger.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 10*time.Second {
			delay += time.Second
		}
	}
}

func (c *Client) authenticateOnce(ctx context.Context) error {
	reqBody, err := json.Marshal(struct {
		DID string `json:"did"`
	}{DID: c.Profile.DID})
	if err != nil {
		return merrors.Wrap(merrors.Malformed, err, "client: marshal challenge request")
	}

	var challenge ChallengeResponse
	if err := c.httpPostJSON(ctx, c.BaseURL+"/authenticate/challenge", reqBody, &challenge); err != nil {
		return err
	}

	now := time.Now()
	msg := &envelope.Message{
		ID:          fmt.Sprintf("auth-%d", now.UnixNano()),
		Type:        messageTypeAuthenticate,
		Body:        marshalChallenge(challenge.Challenge),
		From:        c.Profile.DID,
		To:          []string{c.Profile.MediatorDID},
		CreatedTime: now.Unix(),
		ExpiresTime: now.Add(60 * time.Second).Unix(),
	}
	sealed, err := c.Engine.Pack(ctx, msg, c.Profile.MediatorDID, c.Profile.DID, envelope.PackOptions{})
	if err != nil {
		return merrors.Wrap(merrors.Malformed, err, "client: pack authenticate message")
	}

	var tokens TokenPair
	if err := c.httpPostJSON(ctx, c.BaseURL+"/authenticate/"+challenge.SessionID, sealed, &tokens); err != nil {
		return err
	}

	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
	return nil
}

func marshalChallenge(challenge string) json.RawMessage {
	b, _ := json.Marshal(challenge)
	return b
}

// refreshIfNeeded rotates the access token when it is within refreshSkew of
// expiring, mirroring authentication/mod.rs's `_refresh_authentication`.
func (c *Client) refreshIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	tokens := c.tokens
	c.mu.Unlock()

	now := time.Now()
	if tokens.AccessExpiresAt-int64(refreshSkew.Seconds()) > now.Unix() {
		return nil
	}
	if tokens.RefreshExpiresAt <= now.Unix() {
		return merrors.New(merrors.SessionError, "client: refresh token has expired")
	}

	reqBody, err := json.Marshal(struct {
		RefreshToken string `json:"refresh_token"`
	}{RefreshToken: tokens.RefreshToken})
	if err != nil {
		return merrors.Wrap(merrors.Malformed, err, "client: marshal refresh request")
	}

	var refreshed TokenPair
	if err := c.httpPostJSON(ctx, c.BaseURL+"/authenticate/refresh", reqBody, &refreshed); err != nil {
		return err
	}

	c.mu.Lock()
	c.tokens.AccessToken = refreshed.AccessToken
	c.tokens.AccessExpiresAt = refreshed.AccessExpiresAt
	c.mu.Unlock()
	return nil
}

func (c *Client) httpPostJSON(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return merrors.Wrap(merrors.IOError, err, "client: build request to %s", url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return merrors.Wrap(merrors.IOError, err, "client: POST %s", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return merrors.Wrap(merrors.IOError, err, "client: read response body from %s", url)
	}
	if resp.StatusCode >= 300 {
		return merrors.New(merrors.Unauthorized, "client: %s returned %d: %s", url, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return merrors.Wrap(merrors.Malformed, err, "client: decode response from %s", url)
	}
	return nil
}
