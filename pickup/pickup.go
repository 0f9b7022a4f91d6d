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

// Package pickup implements spec.md §4.7's PickupProtocol: status-request,
// delivery-request, messages-received, and live-delivery-change, all
// replying through the caller's own connection.
package pickup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/didcomm-mediator/atm/acl"
	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/didcomm-mediator/atm/store"
)

// Message type URIs, per the messagepickup 3.0 protocol family spec.md §4.7
// describes.
const (
	TypeStatusRequest      = "https://didcomm.org/messagepickup/3.0/status-request"
	TypeStatus             = "https://didcomm.org/messagepickup/3.0/status"
	TypeDeliveryRequest    = "https://didcomm.org/messagepickup/3.0/delivery-request"
	TypeDelivery           = "https://didcomm.org/messagepickup/3.0/delivery"
	TypeMessagesReceived   = "https://didcomm.org/messagepickup/3.0/messages-received"
	TypeLiveDeliveryChange = "https://didcomm.org/messagepickup/3.0/live-delivery-change"
	TypeProblemReport      = "https://didcomm.org/messagepickup/3.0/problem-report"
)

const defaultListedMessages = 100

// LiveDeliveryToggle is implemented by live.Manager. pickup depends on it
// only through this seam so pickup never imports live (live's register/
// publish plumbing has no reason to know about pickup's wire shapes).
type LiveDeliveryToggle interface {
	// SetLiveDelivery enables or disables push delivery for didHash on the
	// connection identified by connID, returning the resulting state.
	SetLiveDelivery(ctx context.Context, didHash, connID string, enable bool) (bool, error)
	// SupportsPush reports whether connID's transport can receive a push at
	// all; live-delivery-change must be refused with a problem report when
	// it cannot (e.g. a plain request/response HTTP POST with no open
	// connection to push through).
	SupportsPush(connID string) bool
}

// Handler dispatches pickup protocol messages against a QueueStore.
type Handler struct {
	Store        store.QueueStore
	MediatorDID  string
	ListedLimit  int // spec.md's listed_messages cap; 0 uses the default of 100
	LiveDelivery LiveDeliveryToggle
}

func (h *Handler) listedLimit() int {
	if h.ListedLimit > 0 {
		return h.ListedLimit
	}
	return defaultListedMessages
}

// Dispatch handles one already-unpacked pickup message from fromDID (the
// caller's authenticated DID — anonymous callers must be rejected by the
// caller before Dispatch is reached) over connID (the transport connection
// identity live-delivery-change and delivery push are scoped to.
func (h *Handler) Dispatch(ctx context.Context, msg *envelope.Message, fromDID, connID string) (*envelope.Message, error) {
	if fromDID == "" {
		return nil, merrors.New(merrors.AnonymousMessageError, "pickup: anonymous messages are not accepted")
	}
	if msg.ReturnRoute != "all" {
		return nil, merrors.New(merrors.IllegalArgument, "pickup: return_route=all is required")
	}
	if !addressedToMediator(msg.To, h.MediatorDID) {
		return nil, merrors.New(merrors.IllegalArgument, "pickup: message must be addressed to the mediator")
	}

	didHash := acl.DIDHash(fromDID)
	switch msg.Type {
	case TypeStatusRequest:
		return h.statusRequest(ctx, msg, didHash)
	case TypeDeliveryRequest:
		return h.deliveryRequest(ctx, msg, didHash)
	case TypeMessagesReceived:
		return h.messagesReceived(ctx, msg, didHash)
	case TypeLiveDeliveryChange:
		return h.liveDeliveryChange(ctx, msg, didHash, connID)
	default:
		return nil, merrors.New(merrors.Unsupported, "pickup: unsupported message type %s", msg.Type)
	}
}

func addressedToMediator(to []string, mediatorDID string) bool {
	for _, t := range to {
		if t == mediatorDID {
			return true
		}
	}
	return false
}

type recipientDIDBody struct {
	RecipientDID string `json:"recipient_did,omitempty"`
}

type statusBody struct {
	RecipientDID         string `json:"recipient_did,omitempty"`
	MessageCount         int    `json:"message_count"`
	LongestWaitedSeconds int64  `json:"longest_waited_seconds"`
	TotalBytes           int64  `json:"total_bytes"`
	LiveDelivery         bool   `json:"live_delivery"`
	ForceLiveDelivery    bool   `json:"force_live_delivery,omitempty"`
}

func (h *Handler) statusMessage(thid string, st store.Status, recipientDID string, force bool) *envelope.Message {
	longest := st.LongestWaitedSeconds
	if st.OldestReceived != 0 {
		longest = time.Now().Unix() - st.OldestReceived
	}
	body, _ := json.Marshal(statusBody{
		RecipientDID:         recipientDID,
		MessageCount:         st.MessageCount,
		LongestWaitedSeconds: longest,
		TotalBytes:           st.TotalBytes,
		LiveDelivery:         st.LiveDelivery,
		ForceLiveDelivery:    force,
	})
	return &envelope.Message{
		ID:          uuid.NewString(),
		Type:        TypeStatus,
		ThID:        thid,
		Body:        body,
		CreatedTime: time.Now().Unix(),
	}
}

func (h *Handler) statusRequest(ctx context.Context, msg *envelope.Message, didHash string) (*envelope.Message, error) {
	var body recipientDIDBody
	if len(msg.Body) > 0 {
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "pickup: invalid status-request body")
		}
	}
	st, err := h.Store.Status(ctx, didHash)
	if err != nil {
		return nil, err
	}
	return h.statusMessage(msg.ThreadID(), st, body.RecipientDID, false), nil
}

type deliveryRequestBody struct {
	RecipientDID string `json:"recipient_did,omitempty"`
	Limit        int    `json:"limit"`
}

func (h *Handler) deliveryRequest(ctx context.Context, msg *envelope.Message, didHash string) (*envelope.Message, error) {
	var body deliveryRequestBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "pickup: invalid delivery-request body")
	}
	limit := body.Limit
	if limit <= 0 || limit > h.listedLimit() {
		limit = h.listedLimit()
	}

	entries, err := h.Store.FetchMessages(ctx, didHash, store.FetchParams{Limit: limit, DeletePolicy: store.DeletePolicyOnAcknowledge})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		st, err := h.Store.Status(ctx, didHash)
		if err != nil {
			return nil, err
		}
		return h.statusMessage(msg.ThreadID(), st, body.RecipientDID, false), nil
	}

	attachments := make([]envelope.Attachment, 0, len(entries))
	for _, e := range entries {
		attachments = append(attachments, envelope.Attachment{
			ID:   e.EntryID,
			Data: envelope.AttachmentData{Base64: base64.StdEncoding.EncodeToString(e.Bytes)},
		})
	}
	deliveryBody, _ := json.Marshal(struct {
		RecipientDID string `json:"recipient_did,omitempty"`
	}{RecipientDID: body.RecipientDID})

	return &envelope.Message{
		ID:          uuid.NewString(),
		Type:        TypeDelivery,
		ThID:        msg.ThreadID(),
		Body:        deliveryBody,
		Attachments: attachments,
		CreatedTime: time.Now().Unix(),
	}, nil
}

type messagesReceivedBody struct {
	MessageIDList []string `json:"message_id_list"`
}

func (h *Handler) messagesReceived(ctx context.Context, msg *envelope.Message, didHash string) (*envelope.Message, error) {
	var body messagesReceivedBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "pickup: invalid messages-received body")
	}
	if len(body.MessageIDList) > 0 {
		if err := h.Store.MessagesReceived(ctx, didHash, body.MessageIDList); err != nil {
			return nil, err
		}
	}
	st, err := h.Store.Status(ctx, didHash)
	if err != nil {
		return nil, err
	}
	return h.statusMessage(msg.ThreadID(), st, "", false), nil
}

type liveDeliveryChangeBody struct {
	LiveDelivery bool `json:"live_delivery"`
}

func (h *Handler) liveDeliveryChange(ctx context.Context, msg *envelope.Message, didHash, connID string) (*envelope.Message, error) {
	var body liveDeliveryChangeBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "pickup: invalid live-delivery-change body")
	}
	if h.LiveDelivery == nil || !h.LiveDelivery.SupportsPush(connID) {
		return h.problemReport(msg.ThreadID(), "transport does not support server push"), nil
	}
	live, err := h.LiveDelivery.SetLiveDelivery(ctx, didHash, connID, body.LiveDelivery)
	if err != nil {
		return nil, err
	}
	st, err := h.Store.Status(ctx, didHash)
	if err != nil {
		return nil, err
	}
	st.LiveDelivery = live
	return h.statusMessage(msg.ThreadID(), st, "", true), nil
}

type problemReportBody struct {
	Code     string `json:"code"`
	Comment  string `json:"comment"`
}

func (h *Handler) problemReport(thid, comment string) *envelope.Message {
	body, _ := json.Marshal(problemReportBody{Code: "e.p.live-delivery-unsupported", Comment: comment})
	return &envelope.Message{
		ID:          uuid.NewString(),
		Type:        TypeProblemReport,
		ThID:        thid,
		Body:        body,
		CreatedTime: time.Now().Unix(),
	}
}
