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
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/merrors"
)

const (
	AlgEdDSA  = "EdDSA"
	AlgES256  = "ES256"
	AlgES256K = "ES256K"
)

// signerKey is one resolved authentication key that can sign a JWS.
type signerKey struct {
	Kid     string
	Private crypto.PrivateKey
	Alg     string
}

// signJWS builds a general-form JWS over payload with one signature per
// signer, each computed over its own detached protected header so every
// signer's kid and alg travel independently of the shared payload.
func signJWS(payload []byte, signers []signerKey) ([]byte, error) {
	if len(signers) == 0 {
		return nil, merrors.New(merrors.IllegalArgument, "sign: no signer keys")
	}
	out := jwsMessage{Payload: codec.B64URLEncode(payload)}
	for _, s := range signers {
		header := jwsProtectedHeader{Alg: s.Alg, Typ: TypSigned}
		headerJSON, err := json.Marshal(header)
		if err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "sign: marshal protected header")
		}
		protectedB64 := codec.B64URLEncode(headerJSON)
		signingInput := protectedB64 + "." + out.Payload
		sig, err := signWithAlg(s.Alg, s.Private, []byte(signingInput))
		if err != nil {
			return nil, err
		}
		out.Signatures = append(out.Signatures, jwsSignature{
			Protected: protectedB64,
			Signature: codec.B64URLEncode(sig),
			Header:    jwsSigHeader{Kid: s.Kid},
		})
	}
	return json.Marshal(out)
}

func signWithAlg(alg string, priv crypto.PrivateKey, signingInput []byte) ([]byte, error) {
	switch alg {
	case AlgEdDSA:
		edPriv, ok := priv.(ed25519.PrivateKey)
		if !ok {
			return nil, merrors.New(merrors.NoCompatibleCrypto, "sign: alg EdDSA requires an ed25519 private key")
		}
		return ed25519.Sign(edPriv, signingInput), nil
	case AlgES256, AlgES256K:
		ecPriv, ok := priv.(*ecdsa.PrivateKey)
		if !ok {
			return nil, merrors.New(merrors.NoCompatibleCrypto, "sign: alg %s requires an ecdsa private key", alg)
		}
		hash := sha256.Sum256(signingInput)
		r, s, err := ecdsa.Sign(rand.Reader, ecPriv, hash[:])
		if err != nil {
			return nil, merrors.Wrap(merrors.IOError, err, "sign: ecdsa signing failed")
		}
		return rawSignature(r, s), nil
	default:
		return nil, merrors.New(merrors.Unsupported, "sign: unsupported alg %q", alg)
	}
}

func verifyWithAlg(alg string, pub crypto.PublicKey, signingInput, sig []byte) bool {
	switch alg {
	case AlgEdDSA:
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return false
		}
		return ed25519.Verify(edPub, signingInput, sig)
	case AlgES256, AlgES256K:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok || len(sig) != 64 {
			return false
		}
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		hash := sha256.Sum256(signingInput)
		return ecdsa.Verify(ecPub, hash[:], r, s)
	default:
		return false
	}
}

func rawSignature(r, s *big.Int) []byte {
	out := make([]byte, 64)
	rBytes, sBytes := r.Bytes(), s.Bytes()
	copy(out[32-len(rBytes):32], rBytes)
	copy(out[64-len(sBytes):64], sBytes)
	return out
}

// verifierLookup resolves a JWS signature's kid to the public key and
// family that must verify it.
type verifierLookup func(kid string) (pub crypto.PublicKey, found bool)

// verifyJWS parses a general or compact-form JWS and requires at least one
// signature to verify, per the envelope engine's "trusted only if at least
// one signature verifies" rule. It returns the payload and the kid of the
// first signature that verified.
func verifyJWS(raw []byte, lookup verifierLookup) (payload []byte, signFrom string, alg string, err error) {
	msg, err := parseJWS(raw)
	if err != nil {
		return nil, "", "", err
	}
	if len(msg.Signatures) == 0 {
		return nil, "", "", merrors.New(merrors.Malformed, "unpack: jws has no signatures")
	}

	var lastErr error
	for _, sig := range msg.Signatures {
		headerJSON, err := codec.B64URLDecode(sig.Protected)
		if err != nil {
			lastErr = merrors.Wrap(merrors.Malformed, err, "unpack: invalid jws protected header encoding")
			continue
		}
		var header jwsProtectedHeader
		if err := json.Unmarshal(headerJSON, &header); err != nil {
			lastErr = merrors.Wrap(merrors.Malformed, err, "unpack: invalid jws protected header json")
			continue
		}
		pub, found := lookup(sig.Header.Kid)
		if !found {
			lastErr = merrors.New(merrors.DIDUrlNotFound, "unpack: authentication key %s not found", sig.Header.Kid)
			continue
		}
		sigBytes, err := codec.B64URLDecode(sig.Signature)
		if err != nil {
			lastErr = merrors.Wrap(merrors.Malformed, err, "unpack: invalid jws signature encoding")
			continue
		}
		signingInput := sig.Protected + "." + msg.Payload
		if !verifyWithAlg(header.Alg, pub, []byte(signingInput), sigBytes) {
			lastErr = merrors.New(merrors.Malformed, "unpack: jws signature by %s failed to verify", sig.Header.Kid)
			continue
		}
		payloadBytes, err := codec.B64URLDecode(msg.Payload)
		if err != nil {
			return nil, "", "", merrors.Wrap(merrors.Malformed, err, "unpack: invalid jws payload encoding")
		}
		return payloadBytes, sig.Header.Kid, header.Alg, nil
	}
	if lastErr == nil {
		lastErr = merrors.New(merrors.Malformed, "unpack: no jws signature verified")
	}
	return nil, "", "", lastErr
}

// parseJWS accepts both the general-serialization JSON object and the
// compact three-dot-segment form, normalizing to jwsMessage.
func parseJWS(raw []byte) (jwsMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var msg jwsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return jwsMessage{}, merrors.Wrap(merrors.Malformed, err, "unpack: invalid jws json")
		}
		return msg, nil
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) != 3 {
		return jwsMessage{}, merrors.New(merrors.Malformed, "unpack: compact jws must have 3 segments, got %d", len(parts))
	}
	headerJSON, err := codec.B64URLDecode(parts[0])
	if err != nil {
		return jwsMessage{}, merrors.Wrap(merrors.Malformed, err, "unpack: invalid compact jws header encoding")
	}
	// A compact JWS has no unprotected header, so the signer's kid is read
	// from the protected header.
	var header struct {
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return jwsMessage{}, merrors.Wrap(merrors.Malformed, err, "unpack: invalid compact jws header json")
	}
	return jwsMessage{
		Payload: parts[1],
		Signatures: []jwsSignature{{
			Protected: parts[0],
			Signature: parts[2],
			Header:    jwsSigHeader{Kid: header.Kid},
		}},
	}, nil
}
