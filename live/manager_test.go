package live

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didcomm-mediator/atm/merrors"
)

type recordingConnection struct {
	pushed [][]byte
}

func (c *recordingConnection) Push(_ context.Context, envelopeBytes []byte) error {
	c.pushed = append(c.pushed, envelopeBytes)
	return nil
}

func TestRegisterAndPublish_RequiresLiveFlag(t *testing.T) {
	m := NewManager("streamer-1")
	conn := &recordingConnection{}
	m.Register("alice-hash", "conn-1", conn)

	delivered, err := m.Publish(context.Background(), "alice-hash", []byte("msg-1"), false)
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Empty(t, conn.pushed)

	live, err := m.SetLiveDelivery(context.Background(), "alice-hash", "conn-1", true)
	require.NoError(t, err)
	assert.True(t, live)

	delivered, err = m.Publish(context.Background(), "alice-hash", []byte("msg-2"), false)
	require.NoError(t, err)
	assert.True(t, delivered)
	require.Len(t, conn.pushed, 1)
	assert.Equal(t, []byte("msg-2"), conn.pushed[0])
}

func TestPublish_ForceDeliveryBypassesLiveFlag(t *testing.T) {
	m := NewManager("streamer-1")
	conn := &recordingConnection{}
	m.Register("alice-hash", "conn-1", conn)

	delivered, err := m.Publish(context.Background(), "alice-hash", []byte("msg-1"), true)
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestPublish_UnregisteredDID_NotDelivered(t *testing.T) {
	m := NewManager("streamer-1")
	delivered, err := m.Publish(context.Background(), "bob-hash", []byte("msg-1"), true)
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestSetLiveDelivery_RequiresRegisteredSession(t *testing.T) {
	m := NewManager("streamer-1")
	_, err := m.SetLiveDelivery(context.Background(), "alice-hash", "conn-1", true)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidState, merrors.KindOf(err))
}

func TestDeregister_StopsFurtherDelivery(t *testing.T) {
	m := NewManager("streamer-1")
	conn := &recordingConnection{}
	m.Register("alice-hash", "conn-1", conn)
	_, err := m.SetLiveDelivery(context.Background(), "alice-hash", "conn-1", true)
	require.NoError(t, err)

	m.Deregister("alice-hash", "conn-1")
	delivered, err := m.Publish(context.Background(), "alice-hash", []byte("msg-1"), true)
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.False(t, m.SupportsPush("conn-1"))
}

func TestPublish_OwnedByDifferentProcess_NotDelivered(t *testing.T) {
	m := NewManager("streamer-1")
	conn := &recordingConnection{}
	m.Register("alice-hash", "conn-1", conn)
	m.global["alice-hash"] = streamRecord{streamerUUID: "streamer-2", live: true}

	delivered, err := m.Publish(context.Background(), "alice-hash", []byte("msg-1"), false)
	require.NoError(t, err)
	assert.False(t, delivered)
}
