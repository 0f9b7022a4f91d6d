package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_AuthenticateSucceedsFirstTry(t *testing.T) {
	restServer, _, resolver := newHarness(t)
	wsURL := "ws" + strings.TrimPrefix(restServer.URL, "http")
	c := newAliceClient(t, restServer.URL, wsURL, resolver)

	require.NoError(t, c.Authenticate(context.Background()))
	assert.NotEmpty(t, c.tokens.AccessToken)
	assert.True(t, c.tokens.AccessExpiresAt > time.Now().Unix())
}

func TestClient_AuthenticateAbortsOnCancelledContext(t *testing.T) {
	restServer, _, resolver := newHarness(t)
	wsURL := "ws" + strings.TrimPrefix(restServer.URL, "http")
	c := newAliceClient(t, restServer.URL, wsURL, resolver)
	c.BaseURL = "http://127.0.0.1:1" // unreachable, forces authenticateOnce to fail and retry

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Authenticate(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_RefreshIfNeededSkipsWhenFarFromExpiry(t *testing.T) {
	restServer, _, resolver := newHarness(t)
	wsURL := "ws" + strings.TrimPrefix(restServer.URL, "http")
	c := newAliceClient(t, restServer.URL, wsURL, resolver)

	c.tokens = TokenPair{
		AccessToken:      "still-valid",
		AccessExpiresAt:  time.Now().Add(time.Hour).Unix(),
		RefreshToken:     "r1",
		RefreshExpiresAt: time.Now().Add(24 * time.Hour).Unix(),
	}
	require.NoError(t, c.refreshIfNeeded(context.Background()))
	assert.Equal(t, "still-valid", c.tokens.AccessToken)
}

func TestClient_RefreshIfNeededErrorsWhenRefreshExpired(t *testing.T) {
	restServer, _, resolver := newHarness(t)
	wsURL := "ws" + strings.TrimPrefix(restServer.URL, "http")
	c := newAliceClient(t, restServer.URL, wsURL, resolver)

	c.tokens = TokenPair{
		AccessToken:      "stale",
		AccessExpiresAt:  time.Now().Add(-time.Minute).Unix(),
		RefreshToken:     "r1",
		RefreshExpiresAt: time.Now().Add(-time.Second).Unix(),
	}
	err := c.refreshIfNeeded(context.Background())
	require.Error(t, err)
}
