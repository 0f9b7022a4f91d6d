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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	sagecrypto "github.com/didcomm-mediator/atm/crypto"
)

// p256KeyPair implements the KeyPair interface for NIST P-256 keys (ES256).
type p256KeyPair struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	id         string
}

// GenerateP256KeyPair generates a new P-256 key pair.
func GenerateP256KeyPair() (sagecrypto.KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	publicKey := &privateKey.PublicKey
	hash := sha256.Sum256(elliptic.Marshal(elliptic.P256(), publicKey.X, publicKey.Y))
	id := hex.EncodeToString(hash[:8])

	return &p256KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

// NewP256KeyPair creates a P-256 key pair from an existing private key.
func NewP256KeyPair(privateKey *ecdsa.PrivateKey, id string) (sagecrypto.KeyPair, error) {
	publicKey := &privateKey.PublicKey
	if id == "" {
		hash := sha256.Sum256(elliptic.Marshal(elliptic.P256(), publicKey.X, publicKey.Y))
		id = hex.EncodeToString(hash[:8])
	}
	return &p256KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

func (kp *p256KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

func (kp *p256KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

func (kp *p256KeyPair) Type() sagecrypto.KeyType {
	return sagecrypto.KeyTypeP256
}

// Sign signs the given message with ECDSA over SHA-256, returning a fixed
// 64-byte r||s encoding (the form used for JWS ES256 signatures).
func (kp *p256KeyPair) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, kp.privateKey, hash[:])
	if err != nil {
		return nil, err
	}
	return serializeSignature(r, s), nil
}

// Verify verifies a 64-byte r||s ECDSA signature over SHA-256 of message.
func (kp *p256KeyPair) Verify(message, signature []byte) error {
	hash := sha256.Sum256(message)
	r, s, err := deserializeSignature(signature)
	if err != nil {
		return sagecrypto.ErrInvalidSignature
	}
	if !ecdsa.Verify(kp.publicKey, hash[:], r, s) {
		return sagecrypto.ErrInvalidSignature
	}
	return nil
}

func (kp *p256KeyPair) ID() string {
	return kp.id
}

// p256Coordinates returns the public key's affine x, y coordinates.
func (kp *p256KeyPair) p256Coordinates() (x, y *big.Int) {
	return kp.publicKey.X, kp.publicKey.Y
}
