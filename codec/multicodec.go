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
	"github.com/didcomm-mediator/atm/merrors"
)

// Multicodec identifies the key type tagged on the front of a Multikey
// byte string, per the multicodec table maintained alongside did:key.
type Multicodec uint64

const (
	CodecEd25519Pub   Multicodec = 0xed
	CodecX25519Pub    Multicodec = 0xec
	CodecSecp256k1Pub Multicodec = 0xe7
	CodecP256Pub      Multicodec = 0x1200
)

var codecNames = map[Multicodec]string{
	CodecEd25519Pub:   "ed25519-pub",
	CodecX25519Pub:    "x25519-pub",
	CodecSecp256k1Pub: "secp256k1-pub",
	CodecP256Pub:      "p256-pub",
}

// Name returns the registry name for a multicodec, or "" if unknown.
func (c Multicodec) Name() string {
	return codecNames[c]
}

// MulticodecDecode parses the unsigned varint codec prefix from data and
// returns the codec and the remaining key-material bytes.
func MulticodecDecode(data []byte) (Multicodec, []byte, error) {
	code, n := uvarint(data)
	if n <= 0 {
		return 0, nil, merrors.New(merrors.Malformed, "multicodec: truncated varint prefix")
	}
	codec := Multicodec(code)
	if _, known := codecNames[codec]; !known {
		return 0, nil, merrors.New(merrors.Unsupported, "multicodec: unrecognized codec 0x%x", code)
	}
	return codec, data[n:], nil
}

// MulticodecEncode prepends the varint-encoded codec prefix to keyMaterial.
func MulticodecEncode(codec Multicodec, keyMaterial []byte) []byte {
	prefix := putUvarint(uint64(codec))
	out := make([]byte, 0, len(prefix)+len(keyMaterial))
	out = append(out, prefix...)
	out = append(out, keyMaterial...)
	return out
}

// uvarint decodes an unsigned LEB128 varint, mirroring encoding/binary's
// Uvarint but kept local so codec has no dependency on a binary reader.
func uvarint(buf []byte) (uint64, int) {
	var x uint64
	var s uint
	for i, b := range buf {
		if i == 9 && b > 1 {
			return 0, -(i + 1)
		}
		if b < 0x80 {
			if i == 9 && b > 1 {
				return 0, -(i + 1)
			}
			return x | uint64(b)<<s, i + 1
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, 0
}

func putUvarint(x uint64) []byte {
	var buf []byte
	for x >= 0x80 {
		buf = append(buf, byte(x)|0x80)
		x >>= 7
	}
	buf = append(buf, byte(x))
	return buf
}
