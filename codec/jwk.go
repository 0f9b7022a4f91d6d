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

package codec

import (
	"crypto"
	"encoding/json"

	sagecrypto "github.com/didcomm-mediator/atm/crypto"
	"github.com/didcomm-mediator/atm/crypto/formats"
	"github.com/didcomm-mediator/atm/merrors"
)

// JWK mirrors formats.JWK; re-exported here so envelope and keyregistry
// depend only on codec for wire-format concerns, not on crypto/formats
// directly.
type JWK = formats.JWK

var (
	jwkExporter = formats.NewJWKExporter()
	jwkImporter = formats.NewJWKImporter()
)

// PublicKeyFromJWK imports a public-only JWK (as carried by JsonWebKey2020
// verification methods on the wire) into a crypto.PublicKey.
func PublicKeyFromJWK(raw json.RawMessage) (crypto.PublicKey, error) {
	pub, err := jwkImporter.ImportPublic(raw, sagecrypto.KeyFormatJWK)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "jwk: import public key failed")
	}
	return pub, nil
}

// KeyPairFromJWK imports a full (private+public) JWK into a sagecrypto.KeyPair.
func KeyPairFromJWK(raw json.RawMessage) (sagecrypto.KeyPair, error) {
	kp, err := jwkImporter.Import(raw, sagecrypto.KeyFormatJWK)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "jwk: import key pair failed")
	}
	return kp, nil
}

// JWKFromKeyPair exports keyPair (private+public) as canonical JWK JSON.
func JWKFromKeyPair(kp sagecrypto.KeyPair) (JWK, error) {
	raw, err := jwkExporter.Export(kp, sagecrypto.KeyFormatJWK)
	if err != nil {
		return JWK{}, merrors.Wrap(merrors.Malformed, err, "jwk: export key pair failed")
	}
	var jwk JWK
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return JWK{}, merrors.Wrap(merrors.Malformed, err, "jwk: re-decode exported key pair failed")
	}
	return jwk, nil
}

// JWKFromPublicKeyPair exports only the public half of kp as JWK JSON.
func JWKFromPublicKeyPair(kp sagecrypto.KeyPair) (JWK, error) {
	raw, err := jwkExporter.ExportPublic(kp, sagecrypto.KeyFormatJWK)
	if err != nil {
		return JWK{}, merrors.Wrap(merrors.Malformed, err, "jwk: export public key failed")
	}
	var jwk JWK
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return JWK{}, merrors.Wrap(merrors.Malformed, err, "jwk: re-decode exported public key failed")
	}
	return jwk, nil
}
