package envelope

import (
	"context"
	"crypto"
	"encoding/json"
	"testing"

	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/crypto/keys"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// party bundles a DID document with the private material it issued, used
// to drive both ends of a pack/unpack round trip.
type party struct {
	did       string
	doc       *keyregistry.Document
	authKid   string
	authPriv  crypto.PrivateKey
	authFamily keyregistry.KeyFamily
	kaKid     string
	kaPriv    crypto.PrivateKey
	kaFamily  keyregistry.KeyFamily
}

func newParty(t *testing.T, did string) *party {
	t.Helper()
	edKP, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	xKP, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	edJWK, err := codec.JWKFromPublicKeyPair(edKP)
	require.NoError(t, err)
	edRaw, err := json.Marshal(edJWK)
	require.NoError(t, err)
	xJWK, err := codec.JWKFromPublicKeyPair(xKP)
	require.NoError(t, err)
	xRaw, err := json.Marshal(xJWK)
	require.NoError(t, err)

	authKid := did + "#auth-1"
	kaKid := did + "#ka-1"
	doc := &keyregistry.Document{
		ID: did,
		VerificationMethod: []keyregistry.VerificationMethod{
			{ID: authKid, Type: "JsonWebKey2020", Controller: did, PublicKeyJWK: edRaw},
			{ID: kaKid, Type: "JsonWebKey2020", Controller: did, PublicKeyJWK: xRaw},
		},
		Authentication: []keyregistry.StringOrRef{{Ref: "#auth-1"}},
		KeyAgreement:   []keyregistry.StringOrRef{{Ref: "#ka-1"}},
	}
	return &party{
		did: did, doc: doc,
		authKid: authKid, authPriv: edKP.PrivateKey(), authFamily: keyregistry.FamilyEd25519,
		kaKid: kaKid, kaPriv: xKP.PrivateKey(), kaFamily: keyregistry.FamilyX25519,
	}
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

func newEngine(t *testing.T, resolver mapResolver, secrets mapSecrets) *Engine {
	t.Helper()
	return &Engine{Registry: keyregistry.New(resolver), Secrets: secrets}
}

func secretsFor(p *party) mapSecrets {
	return mapSecrets{
		p.authKid: {priv: p.authPriv, family: p.authFamily},
		p.kaKid:   {priv: p.kaPriv, family: p.kaFamily},
	}
}

func TestPackUnpack_Anoncrypt(t *testing.T) {
	alice := newParty(t, "did:example:alice")
	bob := newParty(t, "did:example:bob")
	resolver := mapResolver{alice.did: alice.doc, bob.did: bob.doc}

	senderEngine := newEngine(t, resolver, secretsFor(alice))
	msg := &Message{ID: "msg-1", Type: "https://example.org/ping", Body: json.RawMessage(`{"hello":"world"}`)}

	sealed, err := senderEngine.Pack(context.Background(), msg, bob.did, "", PackOptions{})
	require.NoError(t, err)

	recvEngine := newEngine(t, resolver, secretsFor(bob))
	out, meta, err := recvEngine.Unpack(context.Background(), sealed, UnpackOptions{})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", out.ID)
	assert.True(t, meta.Encrypted)
	assert.True(t, meta.AnonymousSender)
	assert.False(t, meta.Authenticated)
	assert.NotEmpty(t, meta.SHA256Hash)
}

func TestPackUnpack_Authcrypt(t *testing.T) {
	alice := newParty(t, "did:example:alice")
	bob := newParty(t, "did:example:bob")
	resolver := mapResolver{alice.did: alice.doc, bob.did: bob.doc}

	senderEngine := newEngine(t, resolver, secretsFor(alice))
	msg := &Message{ID: "msg-2", Type: "https://example.org/ping", Body: json.RawMessage(`{"hello":"authenticated"}`), From: alice.did, To: []string{bob.did}}

	sealed, err := senderEngine.Pack(context.Background(), msg, bob.did, alice.did, PackOptions{})
	require.NoError(t, err)

	recvEngine := newEngine(t, resolver, secretsFor(bob))
	out, meta, err := recvEngine.Unpack(context.Background(), sealed, UnpackOptions{})
	require.NoError(t, err)
	assert.Equal(t, "msg-2", out.ID)
	assert.True(t, meta.Authenticated)
	assert.False(t, meta.AnonymousSender)
	assert.Equal(t, alice.kaKid, meta.EncryptedFromKid)
}

func TestPackUnpack_AuthcryptProtectSender(t *testing.T) {
	alice := newParty(t, "did:example:alice")
	bob := newParty(t, "did:example:bob")
	resolver := mapResolver{alice.did: alice.doc, bob.did: bob.doc}

	senderEngine := newEngine(t, resolver, secretsFor(alice))
	msg := &Message{ID: "msg-3", Type: "https://example.org/ping", Body: json.RawMessage(`{}`)}

	sealed, err := senderEngine.Pack(context.Background(), msg, bob.did, alice.did, PackOptions{ProtectSender: true})
	require.NoError(t, err)

	recvEngine := newEngine(t, resolver, secretsFor(bob))
	out, meta, err := recvEngine.Unpack(context.Background(), sealed, UnpackOptions{})
	require.NoError(t, err)
	assert.Equal(t, "msg-3", out.ID)
	assert.True(t, meta.Authenticated)
	assert.True(t, meta.AnonymousSender)
}

func TestPackUnpack_SignedAndEncrypted(t *testing.T) {
	alice := newParty(t, "did:example:alice")
	bob := newParty(t, "did:example:bob")
	resolver := mapResolver{alice.did: alice.doc, bob.did: bob.doc}

	senderEngine := newEngine(t, resolver, secretsFor(alice))
	msg := &Message{ID: "msg-4", Type: "https://example.org/ping", Body: json.RawMessage(`{}`)}

	sealed, err := senderEngine.Pack(context.Background(), msg, bob.did, "", PackOptions{SignBy: alice.authKid})
	require.NoError(t, err)

	recvEngine := newEngine(t, resolver, secretsFor(bob))
	out, meta, err := recvEngine.Unpack(context.Background(), sealed, UnpackOptions{})
	require.NoError(t, err)
	assert.Equal(t, "msg-4", out.ID)
	assert.True(t, meta.SignedMessage)
	assert.True(t, meta.NonRepudiation)
	assert.Equal(t, alice.authKid, meta.SignFrom)
	assert.Equal(t, AlgEdDSA, meta.SignAlg)
}

func TestUnpack_UnknownRecipient_SecretNotFound(t *testing.T) {
	alice := newParty(t, "did:example:alice")
	bob := newParty(t, "did:example:bob")
	eve := newParty(t, "did:example:eve")
	resolver := mapResolver{alice.did: alice.doc, bob.did: bob.doc}

	senderEngine := newEngine(t, resolver, secretsFor(alice))
	msg := &Message{ID: "msg-5", Type: "https://example.org/ping", Body: json.RawMessage(`{}`)}
	sealed, err := senderEngine.Pack(context.Background(), msg, bob.did, "", PackOptions{})
	require.NoError(t, err)

	wrongEngine := newEngine(t, resolver, secretsFor(eve))
	_, _, err = wrongEngine.Unpack(context.Background(), sealed, UnpackOptions{})
	require.Error(t, err)
	assert.Equal(t, merrors.SecretNotFound, merrors.KindOf(err))
}

func TestUnpack_MessageExpired(t *testing.T) {
	alice := newParty(t, "did:example:alice")
	bob := newParty(t, "did:example:bob")
	resolver := mapResolver{alice.did: alice.doc, bob.did: bob.doc}

	senderEngine := newEngine(t, resolver, secretsFor(alice))
	msg := &Message{ID: "msg-6", Type: "https://example.org/ping", Body: json.RawMessage(`{}`), ExpiresTime: 1}
	sealed, err := senderEngine.Pack(context.Background(), msg, bob.did, "", PackOptions{})
	require.NoError(t, err)

	recvEngine := newEngine(t, resolver, secretsFor(bob))
	_, _, err = recvEngine.Unpack(context.Background(), sealed, UnpackOptions{})
	require.Error(t, err)
	assert.Equal(t, merrors.MessageExpired, merrors.KindOf(err))
}

func TestPack_TooManyKeyAgreementKeys(t *testing.T) {
	alice := newParty(t, "did:example:alice")
	bob := newParty(t, "did:example:bob")
	for i := 0; i < 101; i++ {
		xKP, err := keys.GenerateX25519KeyPair()
		require.NoError(t, err)
		jwk, err := codec.JWKFromPublicKeyPair(xKP)
		require.NoError(t, err)
		raw, err := json.Marshal(jwk)
		require.NoError(t, err)
		kid := bob.did + "#extra-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		bob.doc.VerificationMethod = append(bob.doc.VerificationMethod, keyregistry.VerificationMethod{ID: kid, Type: "JsonWebKey2020", Controller: bob.did, PublicKeyJWK: raw})
		bob.doc.KeyAgreement = append(bob.doc.KeyAgreement, keyregistry.StringOrRef{Ref: "#extra-" + string(rune('a'+i%26)) + string(rune('0'+i/26))})
	}
	resolver := mapResolver{alice.did: alice.doc, bob.did: bob.doc}
	senderEngine := newEngine(t, resolver, secretsFor(alice))
	msg := &Message{ID: "msg-7", Type: "https://example.org/ping", Body: json.RawMessage(`{}`)}

	_, err := senderEngine.Pack(context.Background(), msg, bob.did, "", PackOptions{})
	require.Error(t, err)
	assert.Equal(t, merrors.ServiceLimitError, merrors.KindOf(err))
}
