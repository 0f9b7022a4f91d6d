// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package envelope

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"sort"
	"strings"

	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
)

const (
	AlgECDHESA256KW = "ECDH-ES+A256KW"
	AlgECDH1PUA256KW = "ECDH-1PU+A256KW"
)

// jweRecipientKey is one resolved recipient key-agreement key to seal for.
type jweRecipientKey struct {
	Kid    string
	Family keyregistry.KeyFamily
	Public *ecdh.PublicKey
}

// sealAnoncrypt builds an ECDH-ES+A256KW JWE with the given content
// encryption algorithm, one ephemeral key shared across all recipients.
func sealAnoncrypt(plaintext []byte, recipients []jweRecipientKey, enc string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, merrors.New(merrors.IllegalArgument, "seal: no recipient key-agreement keys")
	}
	family := recipients[0].Family
	curve, ok := ecdhKEMCurve(family)
	if !ok {
		return nil, merrors.New(merrors.NoCompatibleCrypto, "seal: family %s is not a KEM curve", family)
	}
	ephPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, merrors.Wrap(merrors.IOError, err, "seal: generate ephemeral key")
	}

	apv := recipientDigest(recipients)
	epkJSON, err := marshalEPK(ephPriv.PublicKey(), family)
	if err != nil {
		return nil, err
	}

	header := jweProtectedHeader{
		Typ: TypEncrypted,
		Alg: AlgECDHESA256KW,
		Enc: enc,
		Apv: apv,
		Epk: epkJSON,
	}
	return sealWithHeader(header, plaintext, recipients, func(recipientPub *ecdh.PublicKey) ([]byte, error) {
		return deriveCEKAnoncrypt(ephPriv, recipientPub, AlgECDHESA256KW, "", apv, 256)
	})
}

// sealAuthcrypt builds an ECDH-1PU+A256KW JWE, authenticated by senderPriv
// and senderKid, optionally going on to be wrapped in an anoncrypt layer by
// the caller when protect_sender is requested.
func sealAuthcrypt(plaintext []byte, senderPriv *ecdh.PrivateKey, senderKid string, recipients []jweRecipientKey, enc string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, merrors.New(merrors.IllegalArgument, "seal: no recipient key-agreement keys")
	}
	family := recipients[0].Family
	curve, ok := ecdhKEMCurve(family)
	if !ok {
		return nil, merrors.New(merrors.NoCompatibleCrypto, "seal: family %s is not a KEM curve", family)
	}
	ephPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, merrors.Wrap(merrors.IOError, err, "seal: generate ephemeral key")
	}

	apv := recipientDigest(recipients)
	apu := codec.B64URLEncode([]byte(senderKid))
	epkJSON, err := marshalEPK(ephPriv.PublicKey(), family)
	if err != nil {
		return nil, err
	}

	header := jweProtectedHeader{
		Typ:  TypEncrypted,
		Alg:  AlgECDH1PUA256KW,
		Enc:  enc,
		Apu:  apu,
		Apv:  apv,
		Epk:  epkJSON,
		Skid: senderKid,
	}
	return sealWithHeader(header, plaintext, recipients, func(recipientPub *ecdh.PublicKey) ([]byte, error) {
		return deriveCEKAuthcrypt(ephPriv, senderPriv, recipientPub, AlgECDH1PUA256KW, apu, apv, 256)
	})
}

func sealWithHeader(header jweProtectedHeader, plaintext []byte, recipients []jweRecipientKey, kekFor func(*ecdh.PublicKey) ([]byte, error)) ([]byte, error) {
	protectedJSON, err := json.Marshal(header)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "seal: marshal protected header")
	}
	protectedB64 := codec.B64URLEncode(protectedJSON)

	cek := make([]byte, 32)
	if header.Enc == EncA256CBCHS512 {
		cek = make([]byte, 64)
	}
	if _, err := rand.Read(cek); err != nil {
		return nil, merrors.Wrap(merrors.IOError, err, "seal: generate content encryption key")
	}

	iv, ciphertext, tag, err := sealContent(header.Enc, cek, plaintext, []byte(protectedB64))
	if err != nil {
		return nil, err
	}

	out := jweMessage{
		Protected:  protectedB64,
		IV:         codec.B64URLEncode(iv),
		Ciphertext: codec.B64URLEncode(ciphertext),
		Tag:        codec.B64URLEncode(tag),
	}
	for _, r := range recipients {
		kek, err := kekFor(r.Public)
		if err != nil {
			return nil, err
		}
		wrapped, err := aesKeyWrap(kek, cek)
		if err != nil {
			return nil, err
		}
		out.Recipients = append(out.Recipients, jweRecipient{
			Header:       jweRecipientHeader{Kid: r.Kid},
			EncryptedKey: codec.B64URLEncode(wrapped),
		})
	}

	return json.Marshal(out)
}

// senderPublicKeyResolver resolves an authcrypt envelope's skid to the
// sender's public key-agreement key, by resolving the sender's DID
// document — never from the local secret store, which only holds keys
// this mediator owns as a recipient.
type senderPublicKeyResolver func(skid string) (*ecdh.PublicKey, error)

// openJWE decrypts a DIDComm JWE using the first recipient kid the secret
// store can satisfy (or, if opts.ExpectDecryptByAllKeys, requires all of
// them to resolve), returning the inner plaintext and what was learned.
func openJWE(raw []byte, secrets SecretStore, resolveSender senderPublicKeyResolver, opts UnpackOptions) (plaintext []byte, meta UnpackMetadata, err error) {
	var msg jweMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, meta, merrors.Wrap(merrors.Malformed, err, "unpack: invalid jwe json")
	}
	protectedJSON, err := codec.B64URLDecode(msg.Protected)
	if err != nil {
		return nil, meta, merrors.Wrap(merrors.Malformed, err, "unpack: invalid protected header encoding")
	}
	var header jweProtectedHeader
	if err := json.Unmarshal(protectedJSON, &header); err != nil {
		return nil, meta, merrors.Wrap(merrors.Malformed, err, "unpack: invalid protected header json")
	}

	authcrypt := header.Alg == AlgECDH1PUA256KW
	meta.Encrypted = true
	meta.AnonymousSender = !authcrypt
	meta.Authenticated = authcrypt
	if authcrypt {
		meta.EncAlgAuth = header.Alg
		meta.EncryptedFromKid = header.Skid
	} else {
		meta.EncAlgAnon = header.Alg
	}
	for _, r := range msg.Recipients {
		meta.EncryptedToKids = append(meta.EncryptedToKids, r.Header.Kid)
	}

	_, epkPub, err := unmarshalEPK(header.Epk)
	if err != nil {
		return nil, meta, err
	}

	var senderPub *ecdh.PublicKey
	if authcrypt {
		if resolveSender == nil {
			return nil, meta, merrors.New(merrors.InvalidState, "unpack: authcrypt envelope requires a sender resolver")
		}
		senderPub, err = resolveSender(header.Skid)
		if err != nil {
			return nil, meta, err
		}
	}

	resolvedAny := false
	for _, r := range msg.Recipients {
		recipientPriv, recipientFamily, found := secrets.Get(r.Header.Kid)
		if !found {
			if opts.ExpectDecryptByAllKeys {
				return nil, meta, merrors.New(merrors.SecretNotFound, "unpack: no secret held for recipient kid %s", r.Header.Kid)
			}
			continue
		}
		resolvedAny = true
		recipientECDHPriv, err := toECDHPrivateKey(recipientPriv, recipientFamily)
		if err != nil {
			return nil, meta, err
		}

		var kek []byte
		if authcrypt {
			kek, err = deriveCEKAuthcryptRecipient(recipientECDHPriv, epkPub, senderPub, header.Alg, header.Apu, header.Apv)
			if err != nil {
				return nil, meta, err
			}
		} else {
			z, err := recipientECDHPriv.ECDH(epkPub)
			if err != nil {
				return nil, meta, merrors.Wrap(merrors.Malformed, err, "unpack: ecdh-es agreement failed")
			}
			kek = concatKDF(z, 256, []byte(header.Alg), nil, []byte(header.Apv))
		}

		wrapped, err := codec.B64URLDecode(r.EncryptedKey)
		if err != nil {
			return nil, meta, merrors.Wrap(merrors.Malformed, err, "unpack: invalid encrypted_key encoding")
		}
		cek, err := aesKeyUnwrap(kek, wrapped)
		if err != nil {
			continue // wrong kek for this recipient slot; try the next
		}

		iv, errIV := codec.B64URLDecode(msg.IV)
		ciphertext, errCT := codec.B64URLDecode(msg.Ciphertext)
		tag, errTag := codec.B64URLDecode(msg.Tag)
		if errIV != nil || errCT != nil || errTag != nil {
			return nil, meta, merrors.New(merrors.Malformed, "unpack: invalid jwe field encoding")
		}
		pt, err := openContent(header.Enc, cek, iv, ciphertext, tag, []byte(msg.Protected))
		if err != nil {
			return nil, meta, err
		}
		return pt, meta, nil
	}

	if !resolvedAny {
		return nil, meta, merrors.New(merrors.SecretNotFound, "unpack: no held secret matches any recipient kid")
	}
	return nil, meta, merrors.New(merrors.Malformed, "unpack: no recipient slot decrypted successfully")
}

func deriveCEKAuthcryptRecipient(recipientPriv *ecdh.PrivateKey, epkPub, senderPub *ecdh.PublicKey, alg, apu, apv string) ([]byte, error) {
	ze, err := recipientPriv.ECDH(epkPub)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "unpack: ecdh-1pu ephemeral agreement failed")
	}
	zs, err := recipientPriv.ECDH(senderPub)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "unpack: ecdh-1pu static agreement failed")
	}
	z := append(append([]byte{}, ze...), zs...)
	return concatKDF(z, 256, []byte(alg), []byte(apu), []byte(apv)), nil
}

// recipientDigest computes apv: base64url(sha256) over the recipient kids
// sorted and joined by '.', so apv is stable regardless of header order.
func recipientDigest(recipients []jweRecipientKey) string {
	kids := make([]string, len(recipients))
	for i, r := range recipients {
		kids[i] = r.Kid
	}
	sort.Strings(kids)
	sum := sha256.Sum256([]byte(strings.Join(kids, ".")))
	return codec.B64URLEncode(sum[:])
}

type epkJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y,omitempty"`
}

func marshalEPK(pub *ecdh.PublicKey, family keyregistry.KeyFamily) (json.RawMessage, error) {
	raw := pub.Bytes()
	switch family {
	case keyregistry.FamilyX25519:
		return json.Marshal(epkJWK{Kty: "OKP", Crv: "X25519", X: codec.B64URLEncode(raw)})
	case keyregistry.FamilyP256:
		if len(raw) != 65 {
			return nil, merrors.New(merrors.Malformed, "epk: unexpected p-256 point length %d", len(raw))
		}
		return json.Marshal(epkJWK{Kty: "EC", Crv: "P-256", X: codec.B64URLEncode(raw[1:33]), Y: codec.B64URLEncode(raw[33:65])})
	default:
		return nil, merrors.New(merrors.NoCompatibleCrypto, "epk: unsupported KEM family %s", family)
	}
}

func unmarshalEPK(raw json.RawMessage) (keyregistry.KeyFamily, *ecdh.PublicKey, error) {
	var jwk epkJWK
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return "", nil, merrors.Wrap(merrors.Malformed, err, "unpack: invalid epk json")
	}
	switch {
	case jwk.Kty == "OKP" && jwk.Crv == "X25519":
		x, err := codec.B64URLDecode(jwk.X)
		if err != nil {
			return "", nil, merrors.Wrap(merrors.Malformed, err, "unpack: invalid epk.x")
		}
		pub, err := ecdh.X25519().NewPublicKey(x)
		if err != nil {
			return "", nil, merrors.Wrap(merrors.Malformed, err, "unpack: invalid x25519 epk")
		}
		return keyregistry.FamilyX25519, pub, nil
	case jwk.Kty == "EC" && jwk.Crv == "P-256":
		x, errX := codec.B64URLDecode(jwk.X)
		y, errY := codec.B64URLDecode(jwk.Y)
		if errX != nil || errY != nil {
			return "", nil, merrors.New(merrors.Malformed, "unpack: invalid epk coordinates")
		}
		point := append([]byte{0x04}, append(x, y...)...)
		pub, err := ecdh.P256().NewPublicKey(point)
		if err != nil {
			return "", nil, merrors.Wrap(merrors.Malformed, err, "unpack: invalid p-256 epk")
		}
		return keyregistry.FamilyP256, pub, nil
	default:
		return "", nil, merrors.New(merrors.NoCompatibleCrypto, "unpack: unsupported epk kty/crv %s/%s", jwk.Kty, jwk.Crv)
	}
}
