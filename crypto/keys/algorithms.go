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
	sagecrypto "github.com/didcomm-mediator/atm/crypto"
)

// AlgorithmInfo describes the DIDComm JOSE capabilities of a key type.
type AlgorithmInfo struct {
	KeyType             sagecrypto.KeyType
	Name                string
	Description         string
	JWSAlgorithm        string // JWA "alg" used when this key signs a JWS
	JWECurve            string // JWA "crv" used when this key is an ECDH-ES/1PU KEM
	SupportsSignature   bool
	SupportsKeyExchange bool
}

// registry maps each key type this mediator understands to its JOSE
// capabilities. DIDComm v2 verification methods resolve here to decide
// whether a kid can be used to sign a JWS or to seal/open a JWE.
var registry = map[sagecrypto.KeyType]AlgorithmInfo{
	sagecrypto.KeyTypeEd25519: {
		KeyType:           sagecrypto.KeyTypeEd25519,
		Name:              "Ed25519",
		Description:       "Edwards-curve signature scheme over Curve25519",
		JWSAlgorithm:      "EdDSA",
		SupportsSignature: true,
	},
	sagecrypto.KeyTypeSecp256k1: {
		KeyType:           sagecrypto.KeyTypeSecp256k1,
		Name:              "Secp256k1",
		Description:       "ECDSA over the secp256k1 curve (K-256)",
		JWSAlgorithm:      "ES256K",
		SupportsSignature: true,
	},
	sagecrypto.KeyTypeP256: {
		KeyType:             sagecrypto.KeyTypeP256,
		Name:                "P-256",
		Description:         "ECDSA over the NIST P-256 curve",
		JWSAlgorithm:        "ES256",
		JWECurve:            "P-256",
		SupportsSignature:   true,
		SupportsKeyExchange: true,
	},
	sagecrypto.KeyTypeX25519: {
		KeyType:             sagecrypto.KeyTypeX25519,
		Name:                "X25519",
		Description:         "Elliptic Curve Diffie-Hellman over Curve25519",
		JWECurve:            "X25519",
		SupportsKeyExchange: true,
	},
}

// LookupAlgorithm returns the AlgorithmInfo registered for a key type.
func LookupAlgorithm(kt sagecrypto.KeyType) (AlgorithmInfo, bool) {
	info, ok := registry[kt]
	return info, ok
}

// GenerateKeyPair dispatches to the generator for the requested key type.
func GenerateKeyPair(keyType sagecrypto.KeyType) (sagecrypto.KeyPair, error) {
	switch keyType {
	case sagecrypto.KeyTypeEd25519:
		return GenerateEd25519KeyPair()
	case sagecrypto.KeyTypeSecp256k1:
		return GenerateSecp256k1KeyPair()
	case sagecrypto.KeyTypeP256:
		return GenerateP256KeyPair()
	case sagecrypto.KeyTypeX25519:
		return GenerateX25519KeyPair()
	default:
		return nil, sagecrypto.ErrInvalidKeyType
	}
}
