package ws

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ConnectSendReceive(t *testing.T) {
	dispatcher := &echoDispatcher{}
	server := &Server{Dispatcher: dispatcher}
	testServer := httptest.NewServer(server)
	defer testServer.Close()

	var mu sync.Mutex
	var received [][]byte
	client := &Client{
		URL: wsURL(t, testServer.URL),
		OnEnvelope: func(raw []byte) {
			mu.Lock()
			received = append(received, append([]byte(nil), raw...))
			mu.Unlock()
		},
	}
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, client.Send(context.Background(), []byte("ping")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "echo:ping", string(received[0]))
}

func TestClient_AuthenticateHookRunsOnDial(t *testing.T) {
	dispatcher := &echoDispatcher{}
	server := &Server{Dispatcher: dispatcher}
	testServer := httptest.NewServer(server)
	defer testServer.Close()

	var authRan bool
	client := &Client{
		URL: wsURL(t, testServer.URL),
		Authenticate: func(_ context.Context, conn *Conn) error {
			authRan = true
			return conn.Push(context.Background(), []byte("hello-from-auth"))
		},
	}
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	assert.True(t, authRan)
}

func TestClient_SendBeforeConnectFails(t *testing.T) {
	client := &Client{URL: "ws://127.0.0.1:0"}
	err := client.Send(context.Background(), []byte("x"))
	assert.Error(t, err)
}

func TestClient_SendAfterCloseFails(t *testing.T) {
	dispatcher := &echoDispatcher{}
	server := &Server{Dispatcher: dispatcher}
	testServer := httptest.NewServer(server)
	defer testServer.Close()

	client := &Client{URL: wsURL(t, testServer.URL)}
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())

	err := client.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClient_RunReconnectsAfterDrop(t *testing.T) {
	dispatcher := &echoDispatcher{}
	server := &Server{Dispatcher: dispatcher}
	testServer := httptest.NewServer(server)
	defer testServer.Close()

	client := &Client{URL: wsURL(t, testServer.URL), MaxReconnectBackoff: 50 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go client.Run(ctx)

	require.Eventually(t, func() bool {
		return server.ConnectionCount() >= 1
	}, time.Second, 10*time.Millisecond)

	server.Close()

	require.Eventually(t, func() bool {
		return server.ConnectionCount() >= 1
	}, time.Second, 10*time.Millisecond)
}
