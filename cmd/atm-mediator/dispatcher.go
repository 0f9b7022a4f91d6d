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

package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/didcomm-mediator/atm/acl"
	"github.com/didcomm-mediator/atm/admin"
	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/internal/logger"
	"github.com/didcomm-mediator/atm/live"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/didcomm-mediator/atm/pickup"
	"github.com/didcomm-mediator/atm/router"
	"github.com/didcomm-mediator/atm/store"
	"github.com/didcomm-mediator/atm/transport/ws"
)

const defaultMessageExpiry = 2880 * time.Minute

// Dispatcher is this process's single transport/ws.Dispatcher and the
// shared inbound path the REST /inbound handler reuses: both ends of
// spec.md §4's request surface funnel through the same Unpack ->
// route-by-type decision this type makes, the way client/'s
// mediatorDispatcher test double sketched one layer down for a single
// pickup.Handler alone.
type Dispatcher struct {
	Engine        *envelope.Engine
	Pickup        *pickup.Handler
	Admin         *admin.Service
	Live          *live.Manager
	MediatorDID   string
	MessageExpiry time.Duration
	Logger        logger.Logger

	mu      sync.Mutex
	conns   map[string]*ws.Conn
	connDID map[string]string
}

// NewDispatcher wires a Dispatcher's connection-tracking state.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		conns:   make(map[string]*ws.Conn),
		connDID: make(map[string]string),
	}
}

func (d *Dispatcher) log() logger.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logger.GetDefaultLogger()
}

func (d *Dispatcher) messageExpiry() time.Duration {
	if d.MessageExpiry > 0 {
		return d.MessageExpiry
	}
	return defaultMessageExpiry
}

// OnConnect is wired as transport/ws.Server.OnConnect: it records conn so a
// later pickup message authenticating over this connID can register it
// with Live for push delivery.
func (d *Dispatcher) OnConnect(connID string, conn *ws.Conn) {
	d.mu.Lock()
	d.conns[connID] = conn
	d.mu.Unlock()
}

// Disconnect implements transport/ws.Dispatcher: tear down this
// connection's live-delivery registration, if any.
func (d *Dispatcher) Disconnect(connID string) {
	d.mu.Lock()
	didHash, ok := d.connDID[connID]
	delete(d.conns, connID)
	delete(d.connDID, connID)
	d.mu.Unlock()
	if ok {
		d.Live.Deregister(didHash, connID)
	}
}

// HandleEnvelope implements transport/ws.Dispatcher.
func (d *Dispatcher) HandleEnvelope(ctx context.Context, connID string, raw []byte) ([]byte, error) {
	return d.process(ctx, connID, raw)
}

// HandleInbound is the REST /inbound entrypoint: a one-shot envelope with
// no open connection to reply over, so it never returns a reply frame.
func (d *Dispatcher) HandleInbound(ctx context.Context, raw []byte) error {
	_, err := d.process(ctx, "", raw)
	return err
}

func (d *Dispatcher) process(ctx context.Context, connID string, raw []byte) ([]byte, error) {
	msg, meta, err := d.Engine.Unpack(ctx, raw, envelope.UnpackOptions{AllowForwardUnwrap: true})
	if err != nil {
		return nil, err
	}

	if msg.Type == router.ForwardType {
		return nil, d.relayForward(ctx, msg)
	}

	if connID != "" && isPickupType(msg.Type) {
		if !meta.Authenticated {
			return nil, merrors.New(merrors.AnonymousMessageError, "dispatcher: pickup messages must be authcrypted")
		}
		return d.dispatchPickup(ctx, msg, connID)
	}

	return nil, d.storeForRecipients(ctx, msg, raw)
}

func (d *Dispatcher) dispatchPickup(ctx context.Context, msg *envelope.Message, connID string) ([]byte, error) {
	fromDID := msg.From
	didHash := acl.DIDHash(fromDID)
	d.registerConn(connID, didHash)

	resp, err := d.Pickup.Dispatch(ctx, msg, fromDID, connID)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return d.Engine.Pack(ctx, resp, fromDID, d.MediatorDID, envelope.PackOptions{})
}

// registerConn implements spec.md §4.8's connect-sequence step 1: the
// first pickup message a connection authenticates with is what tells Live
// which did_hash owns it, since the websocket upgrade itself carries no
// identity (only the authcrypted envelope inside it does).
func (d *Dispatcher) registerConn(connID, didHash string) {
	d.mu.Lock()
	if d.connDID[connID] == didHash {
		d.mu.Unlock()
		return
	}
	conn, ok := d.conns[connID]
	if !ok {
		d.mu.Unlock()
		return
	}
	d.connDID[connID] = didHash
	d.mu.Unlock()
	d.Live.Register(didHash, connID, conn)
}

// relayForward implements spec.md §8 scenario 3: a routing/2.0/forward
// whose next hop is not a kid this process holds (envelope.Unpack already
// ruled that out via router.Router.UnwrapForward before handing the
// message back whole) is stored, unwrapped by exactly one layer, under the
// next hop's own queue — this process never re-wraps or re-delivers it
// itself.
func (d *Dispatcher) relayForward(ctx context.Context, msg *envelope.Message) error {
	parsed, err := router.ParseForward(msg)
	if err != nil {
		return err
	}
	bareNext, _, _ := strings.Cut(parsed.Next, "#")
	if bareNext == d.MediatorDID {
		return merrors.New(merrors.ForwardMessageError, "dispatcher: forward next resolves back through this mediator")
	}
	return d.storeEnvelopeFor(ctx, bareNext, "", parsed.ForwardedMsg)
}

func (d *Dispatcher) storeForRecipients(ctx context.Context, msg *envelope.Message, raw []byte) error {
	if len(msg.To) == 0 {
		return merrors.New(merrors.IllegalArgument, "dispatcher: message has no recipients")
	}
	for _, to := range msg.To {
		if err := d.storeEnvelopeFor(ctx, to, msg.From, raw); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) storeEnvelopeFor(ctx context.Context, toDID, fromDID string, envelopeBytes []byte) error {
	toHash := acl.DIDHash(toDID)
	fromHash := ""
	if fromDID != "" {
		fromHash = acl.DIDHash(fromDID)
	}

	toAcct := d.aclAccount(ctx, toHash)
	fromAcct := d.aclAccount(ctx, fromHash)
	if dec := acl.CheckAccess(&fromAcct, &toAcct); !dec.Allowed {
		return merrors.New(merrors.ACLDenied, "dispatcher: %s", dec.Reason)
	}

	expires := time.Now().Add(d.messageExpiry()).Unix()
	if _, err := d.Admin.Queue.StoreMessage(ctx, store.StoreMessageParams{
		SenderHash:    fromHash,
		RecipientHash: toHash,
		EnvelopeBytes: envelopeBytes,
		ExpiresUnix:   expires,
	}); err != nil {
		return err
	}

	if _, err := d.Live.Publish(ctx, toHash, envelopeBytes, false); err != nil {
		d.log().Warn("dispatcher: live publish failed", logger.String("recipient", toHash), logger.Error(err))
	}
	return nil
}

// aclAccount resolves didHash's admin-plane account into the lean acl.Account
// view CheckAccess consults, defaulting to an unflagged account (open,
// unless the mediator-wide mode already denied it at authenticate time) for
// a DID the admin plane has no record of yet.
func (d *Dispatcher) aclAccount(ctx context.Context, didHash string) acl.Account {
	if didHash == "" {
		return acl.Account{}
	}
	acct, err := d.Admin.AccountGet(ctx, admin.Account{DIDHash: didHash}, didHash)
	if err != nil {
		return acl.Account{DIDHash: didHash}
	}
	return acl.Account{DIDHash: acct.DIDHash, Flags: acct.Flags, AccessList: acct.AccessList}
}

func isPickupType(t string) bool {
	switch t {
	case pickup.TypeStatusRequest, pickup.TypeDeliveryRequest, pickup.TypeMessagesReceived, pickup.TypeLiveDeliveryChange:
		return true
	default:
		return false
	}
}
