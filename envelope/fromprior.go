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
	"context"
	"crypto"
	"encoding/json"

	"github.com/didcomm-mediator/atm/codec"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
)

// verifyFromPrior verifies a from_prior compact JWS against the prior DID's
// authentication key, returning the kid that signed it. A prior DID whose
// authentication set resolves to no compatible key, or a JWS that does not
// verify, is Malformed.
func verifyFromPrior(ctx context.Context, registry *keyregistry.Registry, compactJWS string) (issuerKid string, err error) {
	if registry == nil {
		return "", merrors.New(merrors.InvalidState, "from_prior: no DID resolver configured")
	}

	msg, err := parseJWS([]byte(compactJWS))
	if err != nil {
		return "", merrors.Wrap(merrors.Malformed, err, "from_prior: invalid compact jws")
	}
	if len(msg.Signatures) != 1 {
		return "", merrors.New(merrors.Malformed, "from_prior: expected exactly one compact jws signature")
	}

	claims, err := decodeFromPriorClaims(msg.Payload)
	if err != nil {
		return "", err
	}
	if claims.Iss == "" {
		return "", merrors.New(merrors.Malformed, "from_prior: claims missing iss")
	}

	doc, err := registry.ResolveDocument(ctx, claims.Iss)
	if err != nil {
		return "", err
	}
	authKeys, err := keyregistry.FindAuthentication(doc, "")
	if err != nil {
		return "", err
	}
	if len(authKeys) == 0 {
		return "", merrors.New(merrors.NoCompatibleCrypto, "from_prior: prior DID %s has no authentication keys", claims.Iss)
	}

	byKid := make(map[string]crypto.PublicKey, len(authKeys))
	for _, k := range authKeys {
		byKid[k.Kid] = k.Public
	}

	_, signFrom, _, err := verifyJWS([]byte(compactJWS), func(kid string) (crypto.PublicKey, bool) {
		pub, ok := byKid[kid]
		return pub, ok
	})
	if err != nil {
		return "", merrors.Wrap(merrors.Malformed, err, "from_prior: signature verification failed")
	}
	return signFrom, nil
}

type fromPriorClaims struct {
	Iss string `json:"iss"`
	Sub string `json:"sub"`
}

func decodeFromPriorClaims(payloadB64 string) (fromPriorClaims, error) {
	raw, err := codec.B64URLDecode(payloadB64)
	if err != nil {
		return fromPriorClaims{}, merrors.Wrap(merrors.Malformed, err, "from_prior: invalid payload encoding")
	}
	var claims fromPriorClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return fromPriorClaims{}, merrors.Wrap(merrors.Malformed, err, "from_prior: invalid payload json")
	}
	return claims, nil
}
