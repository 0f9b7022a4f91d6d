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

package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/merrors"
)

// didCommMessagingServiceType is the DID document service type routing
// chains are published under.
const didCommMessagingServiceType = "DIDCommMessaging"

// BuildOnion implements envelope.ForwardBuilder. innerEnvelope is already
// sealed for to by the engine's own Pack call; BuildOnion resolves to's
// DIDCommMessaging service entry and, if it names routing keys, wraps
// innerEnvelope in one routing/2.0/forward layer per routing key, each
// anoncrypted to that key, per the wire-routing algorithm:
//
//	zip(reverse(routing_keys), reverse(routing_keys[1:] + [to]))
//
// pairing each routing key with the identifier that becomes that layer's
// body.next, working from the layer closest to the recipient (wrapping
// innerEnvelope itself) outward to the layer the sender's own transport
// hands to the first hop.
func (r *Router) BuildOnion(ctx context.Context, innerEnvelope []byte, to string) ([]byte, error) {
	routingKeys, err := r.resolveRoutingKeys(ctx, to)
	if err != nil {
		return nil, err
	}
	if len(routingKeys) == 0 {
		return innerEnvelope, nil
	}
	for _, key := range routingKeys {
		if r.LocalDID != "" && sameDID(key, r.LocalDID) {
			return nil, merrors.New(merrors.ForwardMessageError, "router: forward chain for %s loops back through this mediator's own DID", to)
		}
	}

	nexts := append(append([]string{}, routingKeys[1:]...), to)
	current := innerEnvelope
	for i := len(routingKeys) - 1; i >= 0; i-- {
		layer := &envelope.Message{
			ID:          uuid.NewString(),
			Type:        ForwardType,
			CreatedTime: time.Now().Unix(),
			Body:        mustMarshalBody(forwardBody{Next: nexts[i]}),
			Attachments: []envelope.Attachment{
				{Data: envelope.AttachmentData{Base64: base64.StdEncoding.EncodeToString(current)}},
			},
		}
		raw, err := json.Marshal(layer)
		if err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "router: marshal forward layer")
		}
		sealed, err := r.Engine.SealAnoncryptToKid(ctx, raw, routingKeys[i], "")
		if err != nil {
			return nil, err
		}
		current = sealed
	}
	return current, nil
}

// resolveRoutingKeys resolves to's DID document and returns the routing keys
// published on its DIDCommMessaging service entry, in the order the document
// lists them (closest-to-sender first). An absent service or an entry with
// no routing keys means to is reachable directly; resolveRoutingKeys returns
// an empty slice, not an error.
func (r *Router) resolveRoutingKeys(ctx context.Context, to string) ([]string, error) {
	doc, err := r.Engine.Registry.ResolveDocument(ctx, to)
	if err != nil {
		return nil, err
	}
	for _, svc := range doc.Service {
		if svc.Type == didCommMessagingServiceType {
			return svc.RoutingKeys, nil
		}
	}
	return nil, nil
}

func sameDID(kidOrDID, did string) bool {
	bare, _, _ := strings.Cut(kidOrDID, "#")
	return bare == did
}

func mustMarshalBody(body forwardBody) json.RawMessage {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err) // forwardBody is a fixed string field; marshal cannot fail
	}
	return raw
}
