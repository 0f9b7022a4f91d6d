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

package main

import (
	"crypto"
	"encoding/json"
	"os"

	sagecrypto "github.com/didcomm-mediator/atm/crypto"
	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
)

// identityKey is one verification method this process holds the private
// half of, as recorded in the identity file.
type identityKey struct {
	Kid    string              `json:"kid"`
	Family keyregistry.KeyFamily `json:"family"`
	JWK    json.RawMessage     `json:"jwk"`
}

// identityFile is the on-disk shape of the mediator's own key material: no
// DID method registration lives in this repo (see DESIGN.md), so the
// operator hands the mediator a ready-made identity rather than this
// process minting one. Grounded on client/profile.go's Secrets seam, one
// layer up: the same kid -> (priv, family) lookup, just loaded from a file
// instead of constructed in a test.
type identityFile struct {
	DID  string        `json:"did"`
	Keys []identityKey `json:"keys"`
}

// identity is the mediator's loaded key material: a SecretStore (for
// envelope.Engine) plus a synthesized keyregistry.Document listing every
// key (X25519 keys under keyAgreement, all others under authentication) so
// the mediator can resolve its own DID without a network round trip (see
// selfResolver in resolver.go).
type identity struct {
	did     string
	secrets map[string]identitySecret
	doc     *keyregistry.Document
}

type identitySecret struct {
	priv   crypto.PrivateKey
	family keyregistry.KeyFamily
}

func (i *identity) Get(kid string) (crypto.PrivateKey, keyregistry.KeyFamily, bool) {
	s, ok := i.secrets[kid]
	return s.priv, s.family, ok
}

// loadIdentity reads and imports path's identity file.
func loadIdentity(path string) (*identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, merrors.Wrap(merrors.IOError, err, "identity: read %s", path)
	}
	var f identityFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "identity: parse %s", path)
	}
	if f.DID == "" {
		return nil, merrors.New(merrors.Malformed, "identity: %s is missing \"did\"", path)
	}

	id := &identity{
		did:     f.DID,
		secrets: make(map[string]identitySecret, len(f.Keys)),
		doc:     &keyregistry.Document{ID: f.DID},
	}
	for _, k := range f.Keys {
		kp, err := codec.KeyPairFromJWK(k.JWK)
		if err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "identity: key %s", k.Kid)
		}
		id.secrets[k.Kid] = identitySecret{priv: kp.PrivateKey(), family: k.Family}

		pubJWK, err := publicJWKFor(kp)
		if err != nil {
			return nil, merrors.Wrap(merrors.Malformed, err, "identity: key %s public material", k.Kid)
		}
		vm := keyregistry.VerificationMethod{ID: k.Kid, Type: "JsonWebKey2020", Controller: f.DID, PublicKeyJWK: pubJWK}
		id.doc.VerificationMethod = append(id.doc.VerificationMethod, vm)
		ref := keyregistry.StringOrRef{Ref: k.Kid}
		if k.Family == keyregistry.FamilyX25519 {
			id.doc.KeyAgreement = append(id.doc.KeyAgreement, ref)
		} else {
			id.doc.Authentication = append(id.doc.Authentication, ref)
		}
	}
	return id, nil
}

func publicJWKFor(kp sagecrypto.KeyPair) (json.RawMessage, error) {
	jwk, err := codec.JWKFromPublicKeyPair(kp)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jwk)
}
