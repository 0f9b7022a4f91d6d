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

// Package keyregistry resolves a DID document's verification methods and
// key-agreement references into usable key pairs, classifying each by the
// cryptographic family the envelope engine needs to pick an algorithm.
package keyregistry

import (
	"crypto"
	"encoding/json"
	"strings"

	sagecrypto "github.com/didcomm-mediator/atm/crypto"
	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/crypto/keys"
	"github.com/didcomm-mediator/atm/merrors"
)

// KeyFamily classifies a resolved verification method by cryptographic
// family, independent of how it was encoded on the wire.
type KeyFamily string

const (
	FamilyEd25519   KeyFamily = "Ed25519"
	FamilyX25519    KeyFamily = "X25519"
	FamilyP256      KeyFamily = "P256"
	FamilyK256      KeyFamily = "K256"
	FamilyUnsupported KeyFamily = "Unsupported"
)

// VerificationMethod is a DID document verification method record, carrying
// whichever of the three recognized material encodings it arrived with.
type VerificationMethod struct {
	ID                 string          `json:"id"`
	Type               string          `json:"type"`
	Controller         string          `json:"controller"`
	PublicKeyJWK       json.RawMessage `json:"publicKeyJwk,omitempty"`
	PublicKeyMultibase string          `json:"publicKeyMultibase,omitempty"`
}

// Document is the subset of a DID document this mediator reads.
type Document struct {
	ID                 string                `json:"id"`
	VerificationMethod []VerificationMethod  `json:"verificationMethod"`
	Authentication      []StringOrRef        `json:"authentication,omitempty"`
	KeyAgreement        []StringOrRef        `json:"keyAgreement,omitempty"`
	Service             []Service            `json:"service,omitempty"`
}

// Service is a DID document service endpoint entry (used by router to
// resolve the next hop in a forward chain).
type Service struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
}

// StringOrRef is either an inline VerificationMethod or a "#kid"/full-DID-URL
// reference into VerificationMethod, matching DID document JSON shape.
type StringOrRef struct {
	Ref    string
	Inline *VerificationMethod
}

func (s *StringOrRef) UnmarshalJSON(data []byte) error {
	var ref string
	if err := json.Unmarshal(data, &ref); err == nil {
		s.Ref = ref
		return nil
	}
	var vm VerificationMethod
	if err := json.Unmarshal(data, &vm); err != nil {
		return err
	}
	s.Inline = &vm
	return nil
}

func (s StringOrRef) MarshalJSON() ([]byte, error) {
	if s.Inline != nil {
		return json.Marshal(s.Inline)
	}
	return json.Marshal(s.Ref)
}

// did_or_url splits a DID URL at its first '#', returning the bare DID and
// whether a fragment was present.
func did_or_url(s string) (bareDID string, isURL bool) {
	if idx := strings.IndexByte(s, '#'); idx >= 0 {
		return s[:idx], true
	}
	return s, false
}

// resolveRef resolves a fragment-only reference ("#key-1") against doc.ID.
func resolveRef(docID, ref string) string {
	if strings.HasPrefix(ref, "#") {
		return docID + ref
	}
	return ref
}

// findVM locates the VerificationMethod with the given id in doc.
func findVM(doc *Document, id string) (*VerificationMethod, bool) {
	for i := range doc.VerificationMethod {
		if doc.VerificationMethod[i].ID == id {
			return &doc.VerificationMethod[i], true
		}
	}
	return nil, false
}

// ResolvedKey is a verification method resolved down to a usable key and
// its classified family.
type ResolvedKey struct {
	Kid    string
	Family KeyFamily
	Public crypto.PublicKey
}

// GetJWK resolves vm's public material into a crypto.PublicKey and
// classifies its family. Unknown verification method types return
// (nil, FamilyUnsupported, nil) — skipped by the caller, never fatal.
func GetJWK(vm *VerificationMethod) (crypto.PublicKey, KeyFamily, error) {
	switch vm.Type {
	case "JsonWebKey2020":
		if len(vm.PublicKeyJWK) == 0 {
			return nil, FamilyUnsupported, merrors.New(merrors.DIDUrlNotFound, "verification method %s has no publicKeyJwk", vm.ID)
		}
		pub, err := codec.PublicKeyFromJWK(vm.PublicKeyJWK)
		if err != nil {
			return nil, FamilyUnsupported, err
		}
		return pub, classifyPublicKey(pub), nil

	case "Multikey":
		return resolveMultikey(vm)

	case "EcdsaSecp256k1VerificationKey2019":
		pub, family, err := resolveMultikey(vm)
		if err == nil && family == FamilyUnsupported {
			family = FamilyK256
		}
		return pub, family, err

	default:
		return nil, FamilyUnsupported, nil
	}
}

func resolveMultikey(vm *VerificationMethod) (crypto.PublicKey, KeyFamily, error) {
	if vm.PublicKeyMultibase == "" {
		return nil, FamilyUnsupported, merrors.New(merrors.DIDUrlNotFound, "verification method %s has no publicKeyMultibase", vm.ID)
	}
	raw, err := codec.MultibaseDecode(vm.PublicKeyMultibase)
	if err != nil {
		return nil, FamilyUnsupported, err
	}
	mc, keyMaterial, err := codec.MulticodecDecode(raw)
	if err != nil {
		return nil, FamilyUnsupported, err
	}
	switch mc {
	case codec.CodecEd25519Pub:
		return keys.Ed25519PublicKeyFromBytes(keyMaterial), FamilyEd25519, nil
	case codec.CodecX25519Pub:
		pub, err := keys.X25519PublicKeyFromBytes(keyMaterial)
		if err != nil {
			return nil, FamilyUnsupported, merrors.Wrap(merrors.Malformed, err, "multikey: invalid X25519 public key")
		}
		return pub, FamilyX25519, nil
	case codec.CodecSecp256k1Pub:
		pub, err := keys.Secp256k1PublicKeyFromBytes(keyMaterial)
		if err != nil {
			return nil, FamilyUnsupported, merrors.Wrap(merrors.Malformed, err, "multikey: invalid secp256k1 public key")
		}
		return pub, FamilyK256, nil
	case codec.CodecP256Pub:
		pub, err := keys.P256PublicKeyFromBytes(keyMaterial)
		if err != nil {
			return nil, FamilyUnsupported, merrors.Wrap(merrors.Malformed, err, "multikey: invalid P-256 public key")
		}
		return pub, FamilyP256, nil
	default:
		return nil, FamilyUnsupported, nil
	}
}

func classifyPublicKey(pub crypto.PublicKey) KeyFamily {
	info := keys.ClassifyPublicKey(pub)
	if info == "" {
		return FamilyUnsupported
	}
	switch sagecrypto.KeyType(info) {
	case sagecrypto.KeyTypeEd25519:
		return FamilyEd25519
	case sagecrypto.KeyTypeX25519:
		return FamilyX25519
	case sagecrypto.KeyTypeP256:
		return FamilyP256
	case sagecrypto.KeyTypeSecp256k1:
		return FamilyK256
	default:
		return FamilyUnsupported
	}
}
