package client

import (
	"context"
	"crypto"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didcomm-mediator/atm/acl"
	"github.com/didcomm-mediator/atm/auth"
	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/crypto/keys"
	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/didcomm-mediator/atm/pickup"
	"github.com/didcomm-mediator/atm/store"
	"github.com/didcomm-mediator/atm/store/memory"
	"github.com/didcomm-mediator/atm/transport/ws"
)

// party/mapResolver/mapSecrets mirror auth_test.go's fixtures: a minimal
// X25519-only key-agreement DID document is all authcrypt needs.
type party struct {
	did    string
	doc    *keyregistry.Document
	kaKid  string
	kaPriv crypto.PrivateKey
	family keyregistry.KeyFamily
}

func newParty(t *testing.T, did string) *party {
	t.Helper()
	xKP, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	xJWK, err := codec.JWKFromPublicKeyPair(xKP)
	require.NoError(t, err)
	xRaw, err := json.Marshal(xJWK)
	require.NoError(t, err)

	kaKid := did + "#ka-1"
	doc := &keyregistry.Document{
		ID: did,
		VerificationMethod: []keyregistry.VerificationMethod{
			{ID: kaKid, Type: "JsonWebKey2020", Controller: did, PublicKeyJWK: xRaw},
		},
		KeyAgreement: []keyregistry.StringOrRef{{Ref: "#ka-1"}},
	}
	return &party{did: did, doc: doc, kaKid: kaKid, kaPriv: xKP.PrivateKey(), family: keyregistry.FamilyX25519}
}

type mapResolver map[string]*keyregistry.Document

func (m mapResolver) Resolve(_ context.Context, did string) (*keyregistry.Document, error) {
	doc, ok := m[did]
	if !ok {
		return nil, merrors.New(merrors.DIDNotResolved, "no document for %s", did)
	}
	return doc, nil
}

type mapSecrets map[string]struct {
	priv   crypto.PrivateKey
	family keyregistry.KeyFamily
}

func (m mapSecrets) Get(kid string) (crypto.PrivateKey, keyregistry.KeyFamily, bool) {
	s, ok := m[kid]
	return s.priv, s.family, ok
}

const mediatorDID = "did:example:mediator"
const aliceDID = "did:example:alice"

// mediatorDispatcher composes auth.SessionAuth and pickup.Handler the way
// cmd/atm-mediator will, just enough to exercise a full client round trip
// in-process without a real server binary.
type mediatorDispatcher struct {
	engine *envelope.Engine
	pickup *pickup.Handler
}

func (d *mediatorDispatcher) HandleEnvelope(ctx context.Context, _ string, raw []byte) ([]byte, error) {
	msg, _, err := d.engine.Unpack(ctx, raw, envelope.UnpackOptions{})
	if err != nil {
		return nil, err
	}
	resp, err := d.pickup.Dispatch(ctx, msg, msg.From, "conn-1")
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return d.engine.Pack(ctx, resp, msg.From, mediatorDID, envelope.PackOptions{})
}

func (d *mediatorDispatcher) Disconnect(string) {}

// stubLiveToggle is a minimal pickup.LiveDeliveryToggle standing in for
// live.Manager, since this harness only needs to prove the wire round trip
// and not live.Manager's own push-fanout behavior (covered by live's own
// tests).
type stubLiveToggle struct {
	state map[string]bool
}

func newStubLiveToggle() *stubLiveToggle {
	return &stubLiveToggle{state: make(map[string]bool)}
}

func (s *stubLiveToggle) SetLiveDelivery(_ context.Context, didHash, connID string, enable bool) (bool, error) {
	s.state[didHash+"|"+connID] = enable
	return enable, nil
}

func (s *stubLiveToggle) SupportsPush(string) bool { return true }

func newHarness(t *testing.T) (*httptest.Server, *ws.Server, mapResolver) {
	t.Helper()
	mediator := newParty(t, mediatorDID)
	alice := newParty(t, aliceDID)
	resolver := mapResolver{mediator.did: mediator.doc, alice.did: alice.doc}

	mediatorSecrets := mapSecrets{mediator.kaKid: {priv: mediator.kaPriv, family: mediator.family}}
	mediatorEngine := &envelope.Engine{Registry: keyregistry.New(resolver), Secrets: mediatorSecrets}

	sessionAuth := auth.NewSessionAuth(mediatorEngine, mediatorDID, "unit-test-secret", 0, 0)
	t.Cleanup(sessionAuth.Close)

	qs := memory.New()
	handler := &pickup.Handler{Store: qs, MediatorDID: mediatorDID, LiveDelivery: newStubLiveToggle()}

	wsServer := &ws.Server{Dispatcher: &mediatorDispatcher{engine: mediatorEngine, pickup: handler}}
	wsTestServer := httptest.NewServer(wsServer)
	t.Cleanup(wsTestServer.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /authenticate/challenge", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DID string `json:"did"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		ch, err := sessionAuth.NewChallenge(body.DID)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(ch)
	})
	mux.HandleFunc("POST /authenticate/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		raw := make([]byte, r.ContentLength)
		_, err := r.Body.Read(raw)
		if err != nil && err.Error() != "EOF" {
			require.NoError(t, err)
		}
		tokens, err := sessionAuth.Authenticate(r.Context(), r.PathValue("session_id"), raw)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(tokens)
	})
	restServer := httptest.NewServer(mux)
	t.Cleanup(restServer.Close)

	return restServer, wsServer, resolver
}

func newAliceClient(t *testing.T, restURL string, wsURL string, resolver mapResolver) *Client {
	t.Helper()
	alice := newParty(t, aliceDID)
	resolver[alice.did] = alice.doc
	secrets := mapSecrets{alice.kaKid: {priv: alice.kaPriv, family: alice.family}}

	profile := Profile{DID: alice.did, MediatorDID: mediatorDID, Resolver: resolver, Secrets: secrets}
	return NewClient(profile, restURL, wsURL)
}

func TestClient_AuthenticateRoundTrip(t *testing.T) {
	restServer, _, resolver := newHarness(t)
	wsURL := "ws" + strings.TrimPrefix(restServer.URL, "http")

	c := newAliceClient(t, restServer.URL, wsURL, resolver)
	require.NoError(t, c.Authenticate(context.Background()))
	assert.NotEmpty(t, c.tokens.AccessToken)
}

func TestClient_StatusRequestRoundTrip(t *testing.T) {
	restServer, wsServer, resolver := newHarness(t)
	wsTestServer := httptest.NewServer(wsServer)
	defer wsTestServer.Close()
	wsURL := "ws" + strings.TrimPrefix(wsTestServer.URL, "http")

	c := newAliceClient(t, restServer.URL, wsURL, resolver)
	c.ws = &ws.Client{URL: wsURL, OnEnvelope: c.onEnvelope}
	require.NoError(t, c.ws.Connect(context.Background()))
	defer c.ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := c.StatusRequest(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, status.MessageCount)
}

func TestClient_DeliveryRequestDecodesAttachments(t *testing.T) {
	restServer, wsServer, resolver := newHarness(t)
	wsTestServer := httptest.NewServer(wsServer)
	defer wsTestServer.Close()
	wsURL := "ws" + strings.TrimPrefix(wsTestServer.URL, "http")

	c := newAliceClient(t, restServer.URL, wsURL, resolver)
	c.ws = &ws.Client{URL: wsURL, OnEnvelope: c.onEnvelope}
	require.NoError(t, c.ws.Connect(context.Background()))
	defer c.ws.Close()

	// Store a message for alice directly via the queue the harness's
	// pickup.Handler shares, bypassing the inbound-store path since this
	// test only exercises DeliveryRequest's attachment decoding.
	inner := &envelope.Message{ID: "m1", Type: "https://example.org/ping", Body: json.RawMessage(`"hi"`)}
	aliceHash := acl.DIDHash(aliceDID)

	sealed, err := c.Engine.Pack(context.Background(), inner, aliceDID, "", envelope.PackOptions{})
	require.NoError(t, err)

	qsHandler := wsServer.Dispatcher.(*mediatorDispatcher).pickup
	_, err = qsHandler.Store.StoreMessage(context.Background(), store.StoreMessageParams{
		RecipientHash: aliceHash,
		EnvelopeBytes: sealed,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := c.DeliveryRequest(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "https://example.org/ping", msgs[0].Type)
}
