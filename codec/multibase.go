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
	"github.com/mr-tron/base58"
	"github.com/didcomm-mediator/atm/merrors"
)

// MultibasePrefixBase58BTC is the only multibase prefix this mediator
// recognizes: 'z' for base58-btc, the encoding did:key and Multikey
// verification methods use.
const MultibasePrefixBase58BTC = 'z'

// MultibaseDecode decodes a multibase string. Only the base58-btc ('z')
// prefix is supported; every other prefix is Unsupported.
func MultibaseDecode(s string) ([]byte, error) {
	if len(s) == 0 {
		return nil, merrors.New(merrors.Malformed, "multibase: empty input")
	}
	if s[0] != MultibasePrefixBase58BTC {
		return nil, merrors.New(merrors.Unsupported, "multibase: unsupported prefix %q", s[0])
	}
	out, err := base58.Decode(s[1:])
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "multibase: base58-btc decode failed")
	}
	return out, nil
}

// MultibaseEncode encodes data as a base58-btc multibase string.
func MultibaseEncode(data []byte) string {
	return string(MultibasePrefixBase58BTC) + base58.Encode(data)
}
