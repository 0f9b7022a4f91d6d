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

// Package router implements DIDComm v2 routing/2.0 forward messages: peeling
// a forward layer addressed to this mediator during unpack, and building the
// onion of forward layers a pack call wraps around an envelope addressed to
// a recipient behind one or more mediators.
package router

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/merrors"
)

// ForwardType is the routing/2.0/forward message type.
const ForwardType = "https://didcomm.org/routing/2.0/forward"

// ParsedForward is a routing/2.0/forward message, decoded from its body and
// its single attachment.
type ParsedForward struct {
	Msg          *envelope.Message
	Next         string
	ForwardedMsg []byte
}

type forwardBody struct {
	Next string `json:"next"`
}

// ParseForward decodes msg as a routing/2.0/forward message. It is called by
// the mediator's dispatch loop once Unpack has returned a plaintext message
// whose type is ForwardType — that happens whenever the forward's next hop
// is not a kid this mediator holds, so Unpack stopped peeling and handed the
// forward message back whole.
func ParseForward(msg *envelope.Message) (*ParsedForward, error) {
	if msg.Type != ForwardType {
		return nil, merrors.New(merrors.IllegalArgument, "router: message type %s is not %s", msg.Type, ForwardType)
	}
	var body forwardBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "router: invalid forward body")
	}
	if body.Next == "" {
		return nil, merrors.New(merrors.Malformed, "router: forward message missing body.next")
	}
	inner, err := extractAttachment(msg.Attachments)
	if err != nil {
		return nil, err
	}
	return &ParsedForward{Msg: msg, Next: body.Next, ForwardedMsg: inner}, nil
}

// extractAttachment pulls the forwarded envelope bytes out of a forward
// message's single attachment. Only base64 and inline json data are
// supported wire shapes; an attachment carrying data.jws is rejected.
func extractAttachment(attachments []envelope.Attachment) ([]byte, error) {
	if len(attachments) == 0 {
		return nil, merrors.New(merrors.Malformed, "router: forward message has no attachments")
	}
	att := attachments[0]
	switch {
	case len(att.Data.JWS) > 0:
		return nil, merrors.New(merrors.Unsupported, "router: forward attachment carries an unsupported jws data shape")
	case att.Data.Base64 != "":
		inner, err := base64.StdEncoding.DecodeString(att.Data.Base64)
		if err != nil {
			if alt, altErr := base64.RawURLEncoding.DecodeString(att.Data.Base64); altErr == nil {
				return alt, nil
			}
			return nil, merrors.Wrap(merrors.Malformed, err, "router: forward attachment base64 is invalid")
		}
		return inner, nil
	case len(att.Data.JSON) > 0:
		return []byte(att.Data.JSON), nil
	default:
		return nil, merrors.New(merrors.Unsupported, "router: forward attachment data shape is unsupported (jws attachments are not accepted)")
	}
}

// Router implements envelope.ForwardUnwrapper and envelope.ForwardBuilder.
// It holds a reference to the same Engine it is wired into so BuildOnion can
// reuse the engine's anoncrypt sealing primitives for each onion layer,
// rather than duplicating crypto logic.
type Router struct {
	Engine   *envelope.Engine
	LocalDID string
}

// UnwrapForward implements envelope.ForwardUnwrapper. It peels a forward
// layer only when body.next names a kid this mediator holds a secret for —
// meaning the layer was addressed back to this same process, as happens
// when an onion routes through one mediator more than once. Any other
// forward (the common case: next names someone else entirely) is left
// alone; UnwrapForward returns isForward=false so Unpack finishes unmarshal
// and hands the whole forward message back to the caller for routing.
func (r *Router) UnwrapForward(ctx context.Context, plaintext []byte, secrets envelope.SecretStore) ([]byte, bool, error) {
	var probe struct {
		Type        string                `json:"type"`
		Body        forwardBody           `json:"body"`
		Attachments []envelope.Attachment `json:"attachments"`
	}
	if err := json.Unmarshal(plaintext, &probe); err != nil || probe.Type != ForwardType {
		return nil, false, nil
	}
	if _, _, held := secrets.Get(probe.Body.Next); !held {
		return nil, false, nil
	}
	inner, err := extractAttachment(probe.Attachments)
	if err != nil {
		return nil, false, err
	}
	return inner, true, nil
}
