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

package keyregistry

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/didcomm-mediator/atm/merrors"
)

// DocumentResolver fetches the DID document for a bare DID. Implementations
// are injected — this mediator never performs on-chain/network DID method
// resolution itself (see DESIGN.md).
type DocumentResolver interface {
	Resolve(ctx context.Context, did string) (*Document, error)
}

// Registry resolves DID URLs to key material, deduplicating concurrent
// resolutions of the same DID with singleflight the way keyregistry's
// network fallback would otherwise stampede a slow resolver.
type Registry struct {
	resolver DocumentResolver
	group    singleflight.Group
}

// New creates a Registry backed by resolver.
func New(resolver DocumentResolver) *Registry {
	return &Registry{resolver: resolver}
}

// ResolveDocument fetches did's document, deduplicating concurrent callers.
func (r *Registry) ResolveDocument(ctx context.Context, did string) (*Document, error) {
	bareDID, _ := did_or_url(did)
	v, err, _ := r.group.Do(bareDID, func() (interface{}, error) {
		doc, err := r.resolver.Resolve(ctx, bareDID)
		if err != nil {
			return nil, merrors.Wrap(merrors.DIDNotResolved, err, "resolve %s", bareDID)
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

// FindKeyAgreement resolves doc's keyAgreement entries. If kid is non-empty
// it returns the single matching key agreement; otherwise it returns every
// key-agreement reference, resolved against doc.ID.
func FindKeyAgreement(doc *Document, kid string) ([]ResolvedKey, error) {
	return findRefs(doc, doc.KeyAgreement, kid)
}

// FindAuthentication resolves doc's authentication entries, analogous to
// FindKeyAgreement.
func FindAuthentication(doc *Document, kid string) ([]ResolvedKey, error) {
	return findRefs(doc, doc.Authentication, kid)
}

func findRefs(doc *Document, refs []StringOrRef, kid string) ([]ResolvedKey, error) {
	var out []ResolvedKey
	for _, ref := range refs {
		var vm *VerificationMethod
		var id string
		if ref.Inline != nil {
			vm, id = ref.Inline, ref.Inline.ID
		} else {
			id = resolveRef(doc.ID, ref.Ref)
			found, ok := findVM(doc, id)
			if !ok {
				continue
			}
			vm = found
		}
		if kid != "" && id != kid {
			continue
		}
		pub, family, err := GetJWK(vm)
		if err != nil {
			if kid != "" {
				return nil, err
			}
			continue // unrecognized type among many: skip, never fatal
		}
		if family == FamilyUnsupported {
			continue
		}
		out = append(out, ResolvedKey{Kid: id, Family: family, Public: pub})
		if kid != "" {
			return out, nil
		}
	}
	if kid != "" && len(out) == 0 {
		return nil, merrors.New(merrors.DIDUrlNotFound, "key %s not found in %s", kid, doc.ID)
	}
	return out, nil
}

// IntersectKeyAgreement picks the first sender key-agreement whose family
// appears among recipientKeys, matching the first-compatible-algorithm
// selection envelope packing needs for ECDH-ES/1PU.
func IntersectKeyAgreement(senderKeys, recipientKeys []ResolvedKey) (*ResolvedKey, *ResolvedKey, error) {
	recipientByFamily := make(map[KeyFamily]*ResolvedKey, len(recipientKeys))
	for i := range recipientKeys {
		if _, exists := recipientByFamily[recipientKeys[i].Family]; !exists {
			recipientByFamily[recipientKeys[i].Family] = &recipientKeys[i]
		}
	}
	for i := range senderKeys {
		if rk, ok := recipientByFamily[senderKeys[i].Family]; ok {
			return &senderKeys[i], rk, nil
		}
	}
	return nil, nil, merrors.New(merrors.NoCompatibleCrypto, "no compatible key-agreement algorithm between sender and recipient")
}
