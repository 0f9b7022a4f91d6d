package router

import (
	"context"
	"crypto"
	"encoding/json"
	"testing"

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
	family  keyregistry.KeyFamily
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

func secretsFor(p *party) mapSecrets {
	return mapSecrets{p.kaKid: {priv: p.kaPriv, family: p.family}}
}

func TestBuildOnion_NoRoutingKeys_PassesThrough(t *testing.T) {
	bob := newParty(t, "did:example:bob")
	resolver := mapResolver{bob.did: bob.doc}
	eng := &envelope.Engine{Registry: keyregistry.New(resolver)}
	r := &Router{Engine: eng, LocalDID: "did:example:mediator"}

	out, err := r.BuildOnion(context.Background(), []byte("sealed-envelope"), bob.did)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed-envelope"), out)
}

// TestBuildOnion_SingleHop_HandedToMediatorForStoreAndForward exercises the
// common case: bob sits behind one mediator. The onion the sender builds is
// addressed to the mediator's own key-agreement key, so the mediator's
// Unpack call decrypts that one layer; since the forward's next (bob's DID)
// is not a kid the mediator holds, UnwrapForward declines to peel further
// and Unpack returns the forward message itself for the caller to route.
func TestBuildOnion_SingleHop_HandedToMediatorForStoreAndForward(t *testing.T) {
	bob := newParty(t, "did:example:bob")
	mediator := newParty(t, "did:example:mediator1")
	bob.doc.Service = []keyregistry.Service{
		{ID: bob.did + "#didcomm", Type: didCommMessagingServiceType, RoutingKeys: []string{mediator.kaKid}},
	}
	resolver := mapResolver{bob.did: bob.doc, mediator.did: mediator.doc}

	senderEngine := &envelope.Engine{Registry: keyregistry.New(resolver), Secrets: mapSecrets{}}
	senderRouter := &Router{Engine: senderEngine, LocalDID: "did:example:sender"}
	senderEngine.Builder = senderRouter

	msg := &envelope.Message{ID: "m1", Type: "https://example.org/ping", Body: json.RawMessage(`{}`)}
	wrapped, err := senderEngine.Pack(context.Background(), msg, bob.did, "", envelope.PackOptions{Forward: true})
	require.NoError(t, err)

	mediatorEngine := &envelope.Engine{Registry: keyregistry.New(resolver), Secrets: secretsFor(mediator)}
	mediatorRouter := &Router{Engine: mediatorEngine, LocalDID: mediator.did}
	mediatorEngine.Forward = mediatorRouter

	out, meta, err := mediatorEngine.Unpack(context.Background(), wrapped, envelope.UnpackOptions{AllowForwardUnwrap: true})
	require.NoError(t, err)
	assert.False(t, meta.ReWrappedInForward)
	assert.Equal(t, ForwardType, out.Type)

	parsed, err := ParseForward(out)
	require.NoError(t, err)
	assert.Equal(t, bob.did, parsed.Next)
	assert.NotEmpty(t, parsed.ForwardedMsg)

	recipientEngine := &envelope.Engine{Registry: keyregistry.New(resolver), Secrets: secretsFor(bob)}
	final, _, err := recipientEngine.Unpack(context.Background(), parsed.ForwardedMsg, envelope.UnpackOptions{})
	require.NoError(t, err)
	assert.Equal(t, "m1", final.ID)
}

func TestBuildOnion_LoopsBackToLocalMediator_Rejected(t *testing.T) {
	bob := newParty(t, "did:example:bob")
	mediator := newParty(t, "did:example:mediator1")
	bob.doc.Service = []keyregistry.Service{
		{ID: bob.did + "#didcomm", Type: didCommMessagingServiceType, RoutingKeys: []string{mediator.kaKid}},
	}
	resolver := mapResolver{bob.did: bob.doc, mediator.did: mediator.doc}
	eng := &envelope.Engine{Registry: keyregistry.New(resolver)}
	r := &Router{Engine: eng, LocalDID: mediator.did}

	_, err := r.BuildOnion(context.Background(), []byte("sealed"), bob.did)
	require.Error(t, err)
	assert.Equal(t, merrors.ForwardMessageError, merrors.KindOf(err))
}

func TestParseForward_RejectsJWSAttachment(t *testing.T) {
	msg := &envelope.Message{
		ID:   "m2",
		Type: ForwardType,
		Body: json.RawMessage(`{"next":"did:example:bob"}`),
		Attachments: []envelope.Attachment{
			{Data: envelope.AttachmentData{JWS: json.RawMessage(`"x.y.z"`)}},
		},
	}
	_, err := ParseForward(msg)
	require.Error(t, err)
	assert.Equal(t, merrors.Unsupported, merrors.KindOf(err))

	msg.Attachments = nil
	_, err = ParseForward(msg)
	require.Error(t, err)
}
