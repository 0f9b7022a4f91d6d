package pickup

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didcomm-mediator/atm/acl"
	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/didcomm-mediator/atm/store"
	"github.com/didcomm-mediator/atm/store/memory"
)

const mediatorDID = "did:example:mediator"
const aliceDID = "did:example:alice"

func newHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	return &Handler{Store: memory.New(), MediatorDID: mediatorDID}, acl.DIDHash(aliceDID)
}

func pickupMsg(typ string, body any) *envelope.Message {
	raw, _ := json.Marshal(body)
	return &envelope.Message{
		ID:          "req-1",
		Type:        typ,
		Body:        raw,
		From:        aliceDID,
		To:          []string{mediatorDID},
		ReturnRoute: "all",
	}
}

func TestDispatch_RejectsAnonymous(t *testing.T) {
	h, _ := newHandler(t)
	msg := pickupMsg(TypeStatusRequest, struct{}{})
	msg.From = ""
	_, err := h.Dispatch(context.Background(), msg, "", "conn-1")
	require.Error(t, err)
	assert.Equal(t, merrors.AnonymousMessageError, merrors.KindOf(err))
}

func TestDispatch_RequiresReturnRouteAll(t *testing.T) {
	h, _ := newHandler(t)
	msg := pickupMsg(TypeStatusRequest, struct{}{})
	msg.ReturnRoute = ""
	_, err := h.Dispatch(context.Background(), msg, aliceDID, "conn-1")
	require.Error(t, err)
	assert.Equal(t, merrors.IllegalArgument, merrors.KindOf(err))
}

func TestStatusRequest_EmptyQueue(t *testing.T) {
	h, _ := newHandler(t)
	msg := pickupMsg(TypeStatusRequest, struct{}{})
	out, err := h.Dispatch(context.Background(), msg, aliceDID, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, TypeStatus, out.Type)
	assert.Equal(t, "req-1", out.ThID)

	var body statusBody
	require.NoError(t, json.Unmarshal(out.Body, &body))
	assert.Equal(t, 0, body.MessageCount)
}

func TestDeliveryRequest_DeliversThenAcknowledges(t *testing.T) {
	h, didHash := newHandler(t)
	_, err := h.Store.StoreMessage(context.Background(), store.StoreMessageParams{
		RecipientHash: didHash,
		EnvelopeBytes: []byte("sealed-envelope-bytes"),
		ExpiresUnix:   0,
	})
	require.NoError(t, err)

	deliveryMsg := pickupMsg(TypeDeliveryRequest, deliveryRequestBody{Limit: 10})
	out, err := h.Dispatch(context.Background(), deliveryMsg, aliceDID, "conn-1")
	require.NoError(t, err)
	require.Equal(t, TypeDelivery, out.Type)
	require.Len(t, out.Attachments, 1)
	entryID := out.Attachments[0].ID
	assert.NotEmpty(t, entryID)

	ackMsg := pickupMsg(TypeMessagesReceived, messagesReceivedBody{MessageIDList: []string{entryID}})
	out, err = h.Dispatch(context.Background(), ackMsg, aliceDID, "conn-1")
	require.NoError(t, err)
	var body statusBody
	require.NoError(t, json.Unmarshal(out.Body, &body))
	assert.Equal(t, 0, body.MessageCount)
}

type stubLiveToggle struct {
	supportsPush bool
	live         bool
}

func (s *stubLiveToggle) SetLiveDelivery(ctx context.Context, didHash, connID string, enable bool) (bool, error) {
	s.live = enable
	return s.live, nil
}

func (s *stubLiveToggle) SupportsPush(connID string) bool { return s.supportsPush }

func TestLiveDeliveryChange_TogglesAndReturnsForceLive(t *testing.T) {
	h, _ := newHandler(t)
	toggle := &stubLiveToggle{supportsPush: true}
	h.LiveDelivery = toggle

	msg := pickupMsg(TypeLiveDeliveryChange, liveDeliveryChangeBody{LiveDelivery: true})
	out, err := h.Dispatch(context.Background(), msg, aliceDID, "conn-1")
	require.NoError(t, err)
	var body statusBody
	require.NoError(t, json.Unmarshal(out.Body, &body))
	assert.True(t, body.LiveDelivery)
	assert.True(t, body.ForceLiveDelivery)
}

func TestLiveDeliveryChange_UnsupportedTransport_ReturnsProblemReport(t *testing.T) {
	h, _ := newHandler(t)
	h.LiveDelivery = &stubLiveToggle{supportsPush: false}

	msg := pickupMsg(TypeLiveDeliveryChange, liveDeliveryChangeBody{LiveDelivery: true})
	out, err := h.Dispatch(context.Background(), msg, aliceDID, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, TypeProblemReport, out.Type)
}
