package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didcomm-mediator/atm/transport/ws"
)

func connectedClient(t *testing.T) *Client {
	t.Helper()
	restServer, wsServer, resolver := newHarness(t)
	wsTestServer := httptest.NewServer(wsServer)
	t.Cleanup(wsTestServer.Close)
	wsURL := "ws" + strings.TrimPrefix(wsTestServer.URL, "http")

	c := newAliceClient(t, restServer.URL, wsURL, resolver)
	c.ws = &ws.Client{URL: wsURL, OnEnvelope: c.onEnvelope}
	require.NoError(t, c.ws.Connect(context.Background()))
	t.Cleanup(func() { c.ws.Close() })
	return c
}

func TestClient_MessagesReceivedAcksEmptyList(t *testing.T) {
	c := connectedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := c.MessagesReceived(ctx, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, status.MessageCount)
}

func TestClient_SetLiveDeliveryTogglesOn(t *testing.T) {
	c := connectedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	enabled, err := c.SetLiveDelivery(ctx, true, time.Second)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestClient_DeliveryRequestEmptyQueueReturnsNil(t *testing.T) {
	c := connectedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := c.DeliveryRequest(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Nil(t, msgs)
}
