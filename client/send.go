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
	"encoding/json"
	"fmt"
	"time"

	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/didcomm-mediator/atm/router"
)

// Send packs a plaintext message addressed to a third-party DID (which may
// be mediated by a different mediator entirely) and POSTs it once to the
// mediator's inbound REST endpoint for store-and-forward handling, mirroring
// affinidi-messaging-sdk's examples/send_message.rs one-shot send (pack,
// then a single inbound POST — no response is waited for beyond the POST's
// own HTTP status).
func (c *Client) Send(ctx context.Context, to, msgType string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return merrors.Wrap(merrors.Malformed, err, "client: marshal message body")
	}
	now := time.Now()
	msg := &envelope.Message{
		ID:          fmt.Sprintf("send-%d", now.UnixNano()),
		Type:        msgType,
		Body:        b,
		From:        c.Profile.DID,
		To:          []string{to},
		CreatedTime: now.Unix(),
		ExpiresTime: now.Add(5 * time.Minute).Unix(),
	}

	sealed, err := c.Engine.Pack(ctx, msg, to, c.Profile.DID, envelope.PackOptions{})
	if err != nil {
		return err
	}

	r := &router.Router{Engine: c.Engine, LocalDID: c.Profile.DID}
	onion, err := r.BuildOnion(ctx, sealed, to)
	if err != nil {
		return err
	}

	return c.httpPostJSON(ctx, c.BaseURL+"/inbound", onion, nil)
}
