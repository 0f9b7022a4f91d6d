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
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/didcomm-mediator/atm/client"
	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
)

// identityKey is one verification method this client holds the private
// half of.
type identityKey struct {
	Kid    string                `json:"kid"`
	Family keyregistry.KeyFamily `json:"family"`
	JWK    json.RawMessage       `json:"jwk"`
}

// identityFile is the on-disk shape of a client's own DID and key
// material, mirroring cmd/atm-mediator's identity file one layer down:
// this repo has no DID-method registration, so the operator supplies a
// ready-made identity rather than the client minting one.
type identityFile struct {
	DID         string        `json:"did"`
	MediatorDID string        `json:"mediator_did"`
	Keys        []identityKey `json:"keys"`
}

type secretStore struct {
	secrets map[string]secretEntry
}

type secretEntry struct {
	priv   crypto.PrivateKey
	family keyregistry.KeyFamily
}

func (s *secretStore) Get(kid string) (crypto.PrivateKey, keyregistry.KeyFamily, bool) {
	e, ok := s.secrets[kid]
	return e.priv, e.family, ok
}

// loadProfile reads path's identity file and builds the client.Profile it
// describes, resolving peer and mediator DIDs against resolverAddress.
func loadProfile(path, resolverAddress string) (client.Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return client.Profile{}, merrors.Wrap(merrors.IOError, err, "identity: read %s", path)
	}
	var f identityFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return client.Profile{}, merrors.Wrap(merrors.Malformed, err, "identity: parse %s", path)
	}
	if f.DID == "" || f.MediatorDID == "" {
		return client.Profile{}, merrors.New(merrors.Malformed, "identity: %s must set \"did\" and \"mediator_did\"", path)
	}

	secrets := &secretStore{secrets: make(map[string]secretEntry, len(f.Keys))}
	for _, k := range f.Keys {
		kp, err := codec.KeyPairFromJWK(k.JWK)
		if err != nil {
			return client.Profile{}, merrors.Wrap(merrors.Malformed, err, "identity: key %s", k.Kid)
		}
		secrets.secrets[k.Kid] = secretEntry{priv: kp.PrivateKey(), family: k.Family}
	}

	return client.Profile{
		DID:         f.DID,
		MediatorDID: f.MediatorDID,
		Resolver:    &networkResolver{baseURL: resolverAddress},
		Secrets:     secrets,
	}, nil
}

// networkResolver is a bare Universal Resolver client: this CLI runs one
// short-lived process per invocation, so the TTL cache cmd/atm-mediator's
// httpResolver keeps warm across requests would have nothing to serve.
type networkResolver struct {
	baseURL string
}

type didResolutionResult struct {
	DIDDocument *keyregistry.Document `json:"didDocument"`
}

func (r *networkResolver) Resolve(ctx context.Context, did string) (*keyregistry.Document, error) {
	if r.baseURL == "" {
		return nil, merrors.New(merrors.DIDNotResolved, "resolver: no --resolver-address configured for %s", did)
	}
	endpoint := fmt.Sprintf("%s/1.0/identifiers/%s", r.baseURL, url.PathEscape(did))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, merrors.Wrap(merrors.DIDNotResolved, err, "resolver: build request for %s", did)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, merrors.Wrap(merrors.DIDNotResolved, err, "resolver: fetch %s", did)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, merrors.New(merrors.DIDNotResolved, "resolver: %s returned %d", did, resp.StatusCode)
	}
	var result didResolutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.DIDDocument == nil {
		return nil, merrors.Wrap(merrors.DIDNotResolved, err, "resolver: decode document for %s", did)
	}
	return result.DIDDocument, nil
}

// newClient loads the identity file and wires a client.Client against the
// mediator named by --mediator-url/--ws-url.
func newClient() (*client.Client, error) {
	if mediatorURL == "" || wsURL == "" {
		return nil, merrors.New(merrors.IllegalArgument, "atm-client: --mediator-url and --ws-url are required")
	}
	profile, err := loadProfile(identityPath, resolverAddr)
	if err != nil {
		return nil, err
	}
	return client.NewClient(profile, mediatorURL, wsURL), nil
}
