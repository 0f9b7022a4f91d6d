package codec

import (
	"testing"

	"github.com/didcomm-mediator/atm/crypto/keys"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestB64URLRoundTrip(t *testing.T) {
	data := []byte("didcomm envelope payload")
	encoded := B64URLEncode(data)
	assert.NotContains(t, encoded, "=")

	decoded, err := B64URLDecode(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestB64URLDecode_RejectsPadded(t *testing.T) {
	_, err := B64URLDecode("YWJj===")
	require.Error(t, err)
	assert.Equal(t, merrors.Malformed, merrors.KindOf(err))
}

func TestMultibaseRoundTrip(t *testing.T) {
	data := []byte{0xed, 0x01, 0x02, 0x03}
	encoded := MultibaseEncode(data)
	assert.Equal(t, byte('z'), encoded[0])

	decoded, err := MultibaseDecode(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestMultibaseDecode_UnsupportedPrefix(t *testing.T) {
	_, err := MultibaseDecode("mabcdef")
	require.Error(t, err)
	assert.Equal(t, merrors.Unsupported, merrors.KindOf(err))
}

func TestMultibaseDecode_Empty(t *testing.T) {
	_, err := MultibaseDecode("")
	require.Error(t, err)
}

func TestMulticodecRoundTrip(t *testing.T) {
	keyMaterial := make([]byte, 32)
	encoded := MulticodecEncode(CodecEd25519Pub, keyMaterial)

	codec, remainder, err := MulticodecDecode(encoded)
	require.NoError(t, err)
	assert.Equal(t, CodecEd25519Pub, codec)
	assert.Equal(t, "ed25519-pub", codec.Name())
	assert.Equal(t, keyMaterial, remainder)
}

func TestMulticodecDecode_Unrecognized(t *testing.T) {
	_, _, err := MulticodecDecode([]byte{0xff, 0x7f})
	require.Error(t, err)
	assert.Equal(t, merrors.Unsupported, merrors.KindOf(err))
}

func TestMulticodecDecode_Truncated(t *testing.T) {
	_, _, err := MulticodecDecode([]byte{0x80, 0x80})
	require.Error(t, err)
}

func TestJWKFromKeyPairRoundTrip(t *testing.T) {
	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	jwk, err := JWKFromKeyPair(kp)
	require.NoError(t, err)
	assert.Equal(t, "OKP", jwk.Kty)
	assert.Equal(t, "Ed25519", jwk.Crv)
	assert.NotEmpty(t, jwk.D)

	pubJWK, err := JWKFromPublicKeyPair(kp)
	require.NoError(t, err)
	assert.Empty(t, pubJWK.D)
}
