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
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"

	"github.com/didcomm-mediator/atm/crypto/keys"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
)

// concatKDF implements NIST SP 800-56A Concatenation KDF, the JOSE ECDH-ES
// and ECDH-1PU key-derivation primitive (RFC 7518 §4.6, ECDH-1PU draft §3),
// producing keyDataLen bytes from z and the otherInfo structure
// AlgorithmID || PartyUInfo || PartyVInfo || SuppPubInfo.
func concatKDF(z []byte, keyDataLenBits int, algID, partyUInfo, partyVInfo []byte) []byte {
	otherInfo := lengthPrefixed(algID)
	otherInfo = append(otherInfo, lengthPrefixed(partyUInfo)...)
	otherInfo = append(otherInfo, lengthPrefixed(partyVInfo)...)
	suppPubInfo := make([]byte, 4)
	binary.BigEndian.PutUint32(suppPubInfo, uint32(keyDataLenBits))
	otherInfo = append(otherInfo, suppPubInfo...)

	keyDataLen := keyDataLenBits / 8
	hashLen := sha256.Size
	reps := (keyDataLen + hashLen - 1) / hashLen

	out := make([]byte, 0, reps*hashLen)
	for counter := uint32(1); counter <= uint32(reps); counter++ {
		h := sha256.New()
		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)
		h.Write(counterBytes[:])
		h.Write(z)
		h.Write(otherInfo)
		out = append(out, h.Sum(nil)...)
	}
	return out[:keyDataLen]
}

func lengthPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out[:4], uint32(len(b)))
	copy(out[4:], b)
	return out
}

// ecdhKEMCurve resolves the crypto/ecdh curve a KeyFamily uses as an
// ECDH-ES/1PU KEM. Only X25519 and P-256 are key-exchange-capable per
// crypto/keys/algorithms.go's registry.
func ecdhKEMCurve(family keyregistry.KeyFamily) (ecdh.Curve, bool) {
	switch family {
	case keyregistry.FamilyX25519:
		return ecdh.X25519(), true
	case keyregistry.FamilyP256:
		return ecdh.P256(), true
	default:
		return nil, false
	}
}

// toECDHPublicKey converts a classified recipient/sender public key into the
// crypto/ecdh representation needed to compute a shared secret.
func toECDHPublicKey(pub crypto.PublicKey, family keyregistry.KeyFamily) (*ecdh.PublicKey, error) {
	curve, ok := ecdhKEMCurve(family)
	if !ok {
		return nil, merrors.New(merrors.NoCompatibleCrypto, "key family %s is not a key-agreement curve", family)
	}
	if p, ok := pub.(*ecdh.PublicKey); ok {
		return p, nil
	}
	if edPub, ok := pub.(ed25519.PublicKey); ok && family == keyregistry.FamilyX25519 {
		xBytes, err := keys.Ed25519PubToX25519(edPub)
		if err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "convert ed25519 public key to x25519")
		}
		p, err := curve.NewPublicKey(xBytes)
		if err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "parse converted x25519 public key")
		}
		return p, nil
	}
	return nil, merrors.New(merrors.NoCompatibleCrypto, "unsupported public key representation for family %s", family)
}

func toECDHPrivateKey(priv crypto.PrivateKey, family keyregistry.KeyFamily) (*ecdh.PrivateKey, error) {
	curve, ok := ecdhKEMCurve(family)
	if !ok {
		return nil, merrors.New(merrors.NoCompatibleCrypto, "key family %s is not a key-agreement curve", family)
	}
	if p, ok := priv.(*ecdh.PrivateKey); ok {
		return p, nil
	}
	if edPriv, ok := priv.(ed25519.PrivateKey); ok && family == keyregistry.FamilyX25519 {
		xBytes, err := keys.Ed25519PrivToX25519(edPriv)
		if err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "convert ed25519 private key to x25519")
		}
		p, err := curve.NewPrivateKey(xBytes)
		if err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "parse converted x25519 private key")
		}
		return p, nil
	}
	return nil, merrors.New(merrors.NoCompatibleCrypto, "unsupported private key representation for family %s", family)
}

// deriveCEKAnoncrypt implements ECDH-ES: Z is the single shared secret
// between an ephemeral key and the recipient's static key-agreement key.
func deriveCEKAnoncrypt(ephPriv *ecdh.PrivateKey, recipientPub *ecdh.PublicKey, alg, enc, apv string, keyDataLenBits int) ([]byte, error) {
	z, err := ephPriv.ECDH(recipientPub)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "ecdh-es: key agreement failed")
	}
	return concatKDF(z, keyDataLenBits, []byte(alg), nil, []byte(apv)), nil
}

// deriveCEKAuthcrypt implements ECDH-1PU: Z = Ze || Zs, the concatenation
// of the ephemeral-static and static-static shared secrets, per the
// ECDH-1PU draft's key agreement.
func deriveCEKAuthcrypt(ephPriv *ecdh.PrivateKey, senderPriv *ecdh.PrivateKey, recipientPub *ecdh.PublicKey, alg, apu, apv string, keyDataLenBits int) ([]byte, error) {
	ze, err := ephPriv.ECDH(recipientPub)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "ecdh-1pu: ephemeral-static agreement failed")
	}
	zs, err := senderPriv.ECDH(recipientPub)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "ecdh-1pu: static-static agreement failed")
	}
	z := append(append([]byte{}, ze...), zs...)
	return concatKDF(z, keyDataLenBits, []byte(alg), []byte(apu), []byte(apv)), nil
}
