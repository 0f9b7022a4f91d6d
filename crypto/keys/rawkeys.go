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

package keys

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	sagecrypto "github.com/didcomm-mediator/atm/crypto"
)

// Ed25519PublicKeyFromBytes builds an Ed25519 public key from its raw
// 32-byte encoding, as found in a Multikey verification method.
func Ed25519PublicKeyFromBytes(raw []byte) crypto.PublicKey {
	out := make([]byte, ed25519.PublicKeySize)
	copy(out, raw)
	return ed25519.PublicKey(out)
}

// X25519PublicKeyFromBytes builds an X25519 public key from its raw 32-byte
// encoding.
func X25519PublicKeyFromBytes(raw []byte) (crypto.PublicKey, error) {
	pub, err := ecdh.X25519().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("x25519 public key: %w", err)
	}
	return pub, nil
}

// Secp256k1PublicKeyFromBytes builds a secp256k1 (K-256) public key from
// its SEC1 compressed or uncompressed encoding.
func Secp256k1PublicKeyFromBytes(raw []byte) (crypto.PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("secp256k1 public key: %w", err)
	}
	return pub.ToECDSA(), nil
}

// P256PublicKeyFromBytes builds a P-256 public key from its SEC1
// uncompressed encoding (0x04 || x || y).
func P256PublicKeyFromBytes(raw []byte) (crypto.PublicKey, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), raw)
	if x == nil {
		return nil, fmt.Errorf("p256 public key: invalid uncompressed point encoding")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// ClassifyPublicKey returns the sagecrypto.KeyType of a crypto.PublicKey
// produced by this package, or "" if pub is of an unrecognized concrete type.
func ClassifyPublicKey(pub crypto.PublicKey) sagecrypto.KeyType {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return sagecrypto.KeyTypeEd25519
	case *ecdh.PublicKey:
		if k.Curve() == ecdh.X25519() {
			return sagecrypto.KeyTypeX25519
		}
		return ""
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return sagecrypto.KeyTypeP256
		case secp256k1.S256():
			return sagecrypto.KeyTypeSecp256k1
		default:
			return ""
		}
	default:
		return ""
	}
}
