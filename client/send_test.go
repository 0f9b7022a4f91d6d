package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendPostsOnionToInbound(t *testing.T) {
	bob := newParty(t, "did:example:bob")
	resolver := mapResolver{bob.did: bob.doc}

	var gotBody []byte
	var gotPath string
	inbound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(b)
		gotBody = b
		w.WriteHeader(http.StatusAccepted)
	}))
	defer inbound.Close()

	alice := newParty(t, aliceDID)
	resolver[alice.did] = alice.doc
	secrets := mapSecrets{alice.kaKid: {priv: alice.kaPriv, family: alice.family}}
	profile := Profile{DID: alice.did, MediatorDID: mediatorDID, Resolver: resolver, Secrets: secrets}
	c := NewClient(profile, inbound.URL, "")

	err := c.Send(context.Background(), bob.did, "https://example.org/ping", map[string]string{"hello": "world"})
	require.NoError(t, err)
	assert.Equal(t, "/inbound", gotPath)
	assert.NotEmpty(t, gotBody)

	// The onion is a JWE, not plaintext: the message body must never appear.
	assert.NotContains(t, string(gotBody), "hello")
}
