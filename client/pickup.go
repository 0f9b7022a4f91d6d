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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/didcomm-mediator/atm/pickup"
)

// StatusReply mirrors the statusBody wire shape pickup.Handler replies
// with, grounded on original_source's MessagePickupStatusReply.
type StatusReply struct {
	RecipientDID         string `json:"recipient_did,omitempty"`
	MessageCount         int    `json:"message_count"`
	LongestWaitedSeconds int64  `json:"longest_waited_seconds"`
	TotalBytes           int64  `json:"total_bytes"`
	LiveDelivery         bool   `json:"live_delivery"`
}

func (c *Client) newPickupMessage(msgType string, body any) (*envelope.Message, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "client: marshal %s body", msgType)
	}
	now := time.Now()
	return &envelope.Message{
		ID:          fmt.Sprintf("%s-%d", msgType, now.UnixNano()),
		Type:        msgType,
		Body:        b,
		From:        c.Profile.DID,
		To:          []string{c.Profile.MediatorDID},
		ReturnRoute: "all",
		CreatedTime: now.Unix(),
		ExpiresTime: now.Add(5 * time.Minute).Unix(),
	}, nil
}

// StatusRequest asks the mediator for this DID's queue status.
func (c *Client) StatusRequest(ctx context.Context, wait time.Duration) (StatusReply, error) {
	msg, err := c.newPickupMessage(pickup.TypeStatusRequest, struct {
		RecipientDID string `json:"recipient_did,omitempty"`
	}{RecipientDID: c.Profile.DID})
	if err != nil {
		return StatusReply{}, err
	}
	reply, err := c.SendAndWait(ctx, msg, wait)
	if err != nil {
		return StatusReply{}, err
	}
	return decodeStatus(reply)
}

// DeliveryRequest asks the mediator to drain up to limit queued messages,
// returning their unpacked plaintext.
func (c *Client) DeliveryRequest(ctx context.Context, limit int, wait time.Duration) ([]*envelope.Message, error) {
	msg, err := c.newPickupMessage(pickup.TypeDeliveryRequest, struct {
		RecipientDID string `json:"recipient_did,omitempty"`
		Limit        int    `json:"limit"`
	}{RecipientDID: c.Profile.DID, Limit: limit})
	if err != nil {
		return nil, err
	}
	reply, err := c.SendAndWait(ctx, msg, wait)
	if err != nil {
		return nil, err
	}
	if reply.Type != pickup.TypeDelivery {
		return nil, nil // a status reply means the queue was empty
	}

	out := make([]*envelope.Message, 0, len(reply.Attachments))
	for _, att := range reply.Attachments {
		raw, err := base64.StdEncoding.DecodeString(att.Data.Base64)
		if err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "client: decode delivery attachment")
		}
		inner, _, err := c.Engine.Unpack(ctx, raw, envelope.UnpackOptions{})
		if err != nil {
			return nil, err
		}
		out = append(out, inner)
	}
	return out, nil
}

// MessagesReceived acknowledges delivered messages by their entry ids so
// the mediator can delete them, returning the resulting status.
func (c *Client) MessagesReceived(ctx context.Context, messageIDs []string, wait time.Duration) (StatusReply, error) {
	msg, err := c.newPickupMessage(pickup.TypeMessagesReceived, struct {
		MessageIDList []string `json:"message_id_list"`
	}{MessageIDList: messageIDs})
	if err != nil {
		return StatusReply{}, err
	}
	reply, err := c.SendAndWait(ctx, msg, wait)
	if err != nil {
		return StatusReply{}, err
	}
	return decodeStatus(reply)
}

// SetLiveDelivery toggles push delivery for this connection.
func (c *Client) SetLiveDelivery(ctx context.Context, enable bool, wait time.Duration) (bool, error) {
	msg, err := c.newPickupMessage(pickup.TypeLiveDeliveryChange, struct {
		LiveDelivery bool `json:"live_delivery"`
	}{LiveDelivery: enable})
	if err != nil {
		return false, err
	}
	reply, err := c.SendAndWait(ctx, msg, wait)
	if err != nil {
		return false, err
	}
	if reply.Type == pickup.TypeProblemReport {
		return false, merrors.New(merrors.Unsupported, "client: mediator reported live delivery is unsupported on this connection")
	}
	status, err := decodeStatus(reply)
	if err != nil {
		return false, err
	}
	return status.LiveDelivery, nil
}

func decodeStatus(msg *envelope.Message) (StatusReply, error) {
	var st StatusReply
	if err := json.Unmarshal(msg.Body, &st); err != nil {
		return StatusReply{}, merrors.Wrap(merrors.Malformed, err, "client: decode status reply")
	}
	return st, nil
}
