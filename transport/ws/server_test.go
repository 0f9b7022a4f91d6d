package ws

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoDispatcher struct {
	mu          sync.Mutex
	received    [][]byte
	disconnects []string
}

func (d *echoDispatcher) HandleEnvelope(_ context.Context, _ string, raw []byte) ([]byte, error) {
	d.mu.Lock()
	d.received = append(d.received, append([]byte(nil), raw...))
	d.mu.Unlock()
	return append([]byte("echo:"), raw...), nil
}

func (d *echoDispatcher) Disconnect(connID string) {
	d.mu.Lock()
	d.disconnects = append(d.disconnects, connID)
	d.mu.Unlock()
}

func wsURL(t *testing.T, httpURL string) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestServer_EchoesDispatcherResponse(t *testing.T) {
	dispatcher := &echoDispatcher{}
	server := &Server{Dispatcher: dispatcher}
	testServer := httptest.NewServer(server)
	defer testServer.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(t, testServer.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("hello")))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, []byte("echo:hello")))
}

func TestServer_OnConnectReceivesPushableConn(t *testing.T) {
	dispatcher := &echoDispatcher{}
	var pushed *Conn
	var mu sync.Mutex
	server := &Server{
		Dispatcher: dispatcher,
		OnConnect: func(_ string, conn *Conn) {
			mu.Lock()
			pushed = conn
			mu.Unlock()
		},
	}
	testServer := httptest.NewServer(server)
	defer testServer.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(t, testServer.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pushed != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	p := pushed
	mu.Unlock()
	require.NoError(t, p.Push(context.Background(), []byte("pushed-frame")))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pushed-frame", string(data))
}

func TestServer_ConnectionCountAndDisconnect(t *testing.T) {
	dispatcher := &echoDispatcher{}
	server := &Server{Dispatcher: dispatcher}
	testServer := httptest.NewServer(server)
	defer testServer.Close()

	assert.Equal(t, 0, server.ConnectionCount())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(t, testServer.URL), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return server.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return server.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Len(t, dispatcher.disconnects, 1)
}

func TestConn_PushAfterCloseFails(t *testing.T) {
	dispatcher := &echoDispatcher{}
	server := &Server{Dispatcher: dispatcher}
	testServer := httptest.NewServer(server)
	defer testServer.Close()

	var conn *Conn
	var mu sync.Mutex
	server.OnConnect = func(_ string, c *Conn) {
		mu.Lock()
		conn = c
		mu.Unlock()
	}

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(t, testServer.URL), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conn != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	c := conn
	mu.Unlock()
	require.NoError(t, c.Close())
	assert.Error(t, c.Push(context.Background(), []byte("x")))
}
