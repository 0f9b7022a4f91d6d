package auth

import (
	"context"
	"crypto"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/crypto/keys"
	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
)

type party struct {
	did     string
	doc     *keyregistry.Document
	kaKid   string
	kaPriv  crypto.PrivateKey
	kaFamily keyregistry.KeyFamily
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
	return &party{did: did, doc: doc, kaKid: kaKid, kaPriv: xKP.PrivateKey(), kaFamily: keyregistry.FamilyX25519}
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

func newFixture(t *testing.T) (*SessionAuth, *party, mapResolver) {
	t.Helper()
	mediator := newParty(t, mediatorDID)
	alice := newParty(t, aliceDID)
	resolver := mapResolver{mediator.did: mediator.doc, alice.did: alice.doc}

	mediatorSecrets := mapSecrets{mediator.kaKid: {priv: mediator.kaPriv, family: mediator.kaFamily}}
	engine := &envelope.Engine{Registry: keyregistry.New(resolver), Secrets: mediatorSecrets}

	sa := NewSessionAuth(engine, mediatorDID, "unit-test-secret", 0, 0)
	t.Cleanup(sa.Close)
	return sa, alice, resolver
}

func aliceEngine(alice *party, resolver mapResolver) *envelope.Engine {
	secrets := mapSecrets{alice.kaKid: {priv: alice.kaPriv, family: alice.kaFamily}}
	return &envelope.Engine{Registry: keyregistry.New(resolver), Secrets: secrets}
}

func authenticateEnvelope(t *testing.T, engine *envelope.Engine, from, to, challengeB64 string) []byte {
	t.Helper()
	body, err := json.Marshal(challengeB64)
	require.NoError(t, err)
	msg := &envelope.Message{
		ID:          "auth-1",
		Type:        MessageTypeAuthenticate,
		Body:        body,
		From:        from,
		To:          []string{to},
		CreatedTime: time.Now().Unix(),
		ExpiresTime: time.Now().Add(time.Minute).Unix(),
	}
	sealed, err := engine.Pack(context.Background(), msg, to, from, envelope.PackOptions{})
	require.NoError(t, err)
	return sealed
}

func TestAuthenticate_FullHandshakeIssuesTokens(t *testing.T) {
	sa, alice, resolver := newFixture(t)

	ch, err := sa.NewChallenge(alice.did)
	require.NoError(t, err)

	sealed := authenticateEnvelope(t, aliceEngine(alice, resolver), alice.did, mediatorDID, ch.Challenge)

	tokens, err := sa.Authenticate(context.Background(), ch.SessionID, sealed)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Greater(t, tokens.AccessExpiresAt, time.Now().Unix())

	did, err := sa.VerifyAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice.did, did)
}

func TestAuthenticate_WrongChallenge_Rejected(t *testing.T) {
	sa, alice, resolver := newFixture(t)
	ch, err := sa.NewChallenge(alice.did)
	require.NoError(t, err)

	sealed := authenticateEnvelope(t, aliceEngine(alice, resolver), alice.did, mediatorDID, "bm90LXRoZS1yZWFsLWNoYWxsZW5nZQ==")

	_, err = sa.Authenticate(context.Background(), ch.SessionID, sealed)
	require.Error(t, err)
	assert.Equal(t, merrors.SessionError, merrors.KindOf(err))
}

func TestAuthenticate_SessionConsumedOnce(t *testing.T) {
	sa, alice, resolver := newFixture(t)
	ch, err := sa.NewChallenge(alice.did)
	require.NoError(t, err)
	sealed := authenticateEnvelope(t, aliceEngine(alice, resolver), alice.did, mediatorDID, ch.Challenge)

	_, err = sa.Authenticate(context.Background(), ch.SessionID, sealed)
	require.NoError(t, err)

	_, err = sa.Authenticate(context.Background(), ch.SessionID, sealed)
	require.Error(t, err)
	assert.Equal(t, merrors.SessionError, merrors.KindOf(err))
}

func TestAuthenticate_UnknownSession_Rejected(t *testing.T) {
	sa, alice, resolver := newFixture(t)
	sealed := authenticateEnvelope(t, aliceEngine(alice, resolver), alice.did, mediatorDID, "ZmFrZS1jaGFsbGVuZ2U=")

	_, err := sa.Authenticate(context.Background(), "no-such-session", sealed)
	require.Error(t, err)
	assert.Equal(t, merrors.SessionError, merrors.KindOf(err))
}

func TestRefresh_RotatesAccessOnly(t *testing.T) {
	sa, alice, resolver := newFixture(t)
	ch, err := sa.NewChallenge(alice.did)
	require.NoError(t, err)
	sealed := authenticateEnvelope(t, aliceEngine(alice, resolver), alice.did, mediatorDID, ch.Challenge)
	tokens, err := sa.Authenticate(context.Background(), ch.SessionID, sealed)
	require.NoError(t, err)

	refreshed, err := sa.Refresh(tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)

	did, err := sa.VerifyAccess(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice.did, did)
}

func TestRefresh_RejectsAccessTokenInPlaceOfRefresh(t *testing.T) {
	sa, alice, resolver := newFixture(t)
	ch, err := sa.NewChallenge(alice.did)
	require.NoError(t, err)
	sealed := authenticateEnvelope(t, aliceEngine(alice, resolver), alice.did, mediatorDID, ch.Challenge)
	tokens, err := sa.Authenticate(context.Background(), ch.SessionID, sealed)
	require.NoError(t, err)

	_, err = sa.Refresh(tokens.AccessToken)
	require.Error(t, err)
	assert.Equal(t, merrors.SessionError, merrors.KindOf(err))
}

func TestVerifyAccess_RejectsRefreshTokenInPlaceOfAccess(t *testing.T) {
	sa, alice, resolver := newFixture(t)
	ch, err := sa.NewChallenge(alice.did)
	require.NoError(t, err)
	sealed := authenticateEnvelope(t, aliceEngine(alice, resolver), alice.did, mediatorDID, ch.Challenge)
	tokens, err := sa.Authenticate(context.Background(), ch.SessionID, sealed)
	require.NoError(t, err)

	_, err = sa.VerifyAccess(tokens.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, merrors.SessionError, merrors.KindOf(err))
}
