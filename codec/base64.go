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

// Package codec holds the pure wire-format transformations shared by the
// envelope, router and keyregistry packages: base64url-no-pad, multibase(z),
// multicodec varints, and JWK<->key-pair conversion.
package codec

import (
	"encoding/base64"

	"github.com/didcomm-mediator/atm/merrors"
)

// B64URLEncode encodes data as base64url with no padding, the form every
// DIDComm envelope segment and JOSE header value uses.
func B64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// B64URLDecode decodes a base64url-no-pad string. Padded input is rejected
// rather than silently tolerated, since DIDComm compact serialization never
// carries padding.
func B64URLDecode(s string) ([]byte, error) {
	out, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "base64url decode failed")
	}
	return out, nil
}
