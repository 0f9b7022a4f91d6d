package keyregistry

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"testing"

	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/crypto/keys"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocWithEd25519(t *testing.T) (*Document, string) {
	t.Helper()
	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	jwk, err := codec.JWKFromPublicKeyPair(kp)
	require.NoError(t, err)
	raw, err := json.Marshal(jwk)
	require.NoError(t, err)

	kid := "did:example:alice#key-1"
	doc := &Document{
		ID: "did:example:alice",
		VerificationMethod: []VerificationMethod{
			{ID: kid, Type: "JsonWebKey2020", Controller: "did:example:alice", PublicKeyJWK: raw},
		},
		Authentication: []StringOrRef{{Ref: "#key-1"}},
	}
	return doc, kid
}

func TestGetJWK_JsonWebKey2020(t *testing.T) {
	doc, kid := buildDocWithEd25519(t)
	vm, ok := findVM(doc, kid)
	require.True(t, ok)

	pub, family, err := GetJWK(vm)
	require.NoError(t, err)
	assert.Equal(t, FamilyEd25519, family)
	assert.NotNil(t, pub)
}

func TestGetJWK_UnknownType(t *testing.T) {
	vm := &VerificationMethod{ID: "did:example:alice#k", Type: "SomeFutureType2099"}
	pub, family, err := GetJWK(vm)
	require.NoError(t, err)
	assert.Nil(t, pub)
	assert.Equal(t, FamilyUnsupported, family)
}

func TestGetJWK_Multikey_Ed25519(t *testing.T) {
	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	edPub, ok := kp.PublicKey().(ed25519.PublicKey)
	require.True(t, ok)

	mb := codec.MultibaseEncode(codec.MulticodecEncode(codec.CodecEd25519Pub, edPub))
	vm := &VerificationMethod{ID: "did:example:bob#key-1", Type: "Multikey", PublicKeyMultibase: mb}

	pub, family, err := GetJWK(vm)
	require.NoError(t, err)
	assert.Equal(t, FamilyEd25519, family)
	assert.Equal(t, edPub, pub)
}

func TestFindAuthentication(t *testing.T) {
	doc, kid := buildDocWithEd25519(t)

	keysFound, err := FindAuthentication(doc, "")
	require.NoError(t, err)
	require.Len(t, keysFound, 1)
	assert.Equal(t, kid, keysFound[0].Kid)
	assert.Equal(t, FamilyEd25519, keysFound[0].Family)

	single, err := FindAuthentication(doc, kid)
	require.NoError(t, err)
	require.Len(t, single, 1)
}

func TestFindAuthentication_NotFound(t *testing.T) {
	doc, _ := buildDocWithEd25519(t)
	_, err := FindAuthentication(doc, "did:example:alice#nope")
	require.Error(t, err)
	assert.Equal(t, merrors.DIDUrlNotFound, merrors.KindOf(err))
}

func TestIntersectKeyAgreement(t *testing.T) {
	sender := []ResolvedKey{{Kid: "s1", Family: FamilyX25519}, {Kid: "s2", Family: FamilyP256}}
	recipient := []ResolvedKey{{Kid: "r1", Family: FamilyP256}}

	s, r, err := IntersectKeyAgreement(sender, recipient)
	require.NoError(t, err)
	assert.Equal(t, "s2", s.Kid)
	assert.Equal(t, "r1", r.Kid)
}

func TestIntersectKeyAgreement_NoCompatibleCrypto(t *testing.T) {
	sender := []ResolvedKey{{Kid: "s1", Family: FamilyX25519}}
	recipient := []ResolvedKey{{Kid: "r1", Family: FamilyP256}}

	_, _, err := IntersectKeyAgreement(sender, recipient)
	require.Error(t, err)
	assert.Equal(t, merrors.NoCompatibleCrypto, merrors.KindOf(err))
}

type stubResolver struct {
	doc *Document
}

func (s *stubResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	return s.doc, nil
}

func TestRegistry_ResolveDocument(t *testing.T) {
	doc, _ := buildDocWithEd25519(t)
	reg := New(&stubResolver{doc: doc})

	got, err := reg.ResolveDocument(context.Background(), "did:example:alice#key-1")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
}
