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
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/didcomm-mediator/atm/merrors"
)

const (
	EncA256CBCHS512 = "A256CBC-HS512"
	EncA256GCM      = "A256GCM"
	EncXC20P        = "XC20P"
)

// cekSizeBits returns the CEK length ECDH-ES/1PU must derive for enc.
func cekSizeBits(enc string) (int, error) {
	switch enc {
	case EncA256CBCHS512:
		return 512, nil
	case EncA256GCM, EncXC20P:
		return 256, nil
	default:
		return 0, merrors.New(merrors.Unsupported, "unsupported content encryption algorithm %q", enc)
	}
}

// sealContent encrypts plaintext under cek with enc, authenticating aad
// (the ASCII protected header, per JOSE's A2 input), and returns
// (iv, ciphertext, tag) as three independent fields matching the DIDComm
// JWE wire shape.
func sealContent(enc string, cek, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	switch enc {
	case EncA256CBCHS512:
		return sealA256CBCHS512(cek, plaintext, aad)
	case EncA256GCM:
		return sealAEAD(newAESGCM, cek, plaintext, aad)
	case EncXC20P:
		return sealAEAD(chacha20poly1305.NewX, cek, plaintext, aad)
	default:
		return nil, nil, nil, merrors.New(merrors.Unsupported, "unsupported content encryption algorithm %q", enc)
	}
}

// openContent reverses sealContent.
func openContent(enc string, cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	switch enc {
	case EncA256CBCHS512:
		return openA256CBCHS512(cek, iv, ciphertext, tag, aad)
	case EncA256GCM:
		return openAEAD(newAESGCM, cek, iv, ciphertext, tag, aad)
	case EncXC20P:
		return openAEAD(chacha20poly1305.NewX, cek, iv, ciphertext, tag, aad)
	default:
		return nil, merrors.New(merrors.Unsupported, "unsupported content encryption algorithm %q", enc)
	}
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func sealAEAD(newAEAD func([]byte) (cipher.AEAD, error), cek, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	aead, err := newAEAD(cek)
	if err != nil {
		return nil, nil, nil, merrors.Wrap(merrors.Malformed, err, "content encryption: invalid key")
	}
	iv = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, merrors.Wrap(merrors.IOError, err, "content encryption: generate nonce")
	}
	sealed := aead.Seal(nil, iv, plaintext, aad)
	ciphertext = sealed[:len(sealed)-aead.Overhead()]
	tag = sealed[len(sealed)-aead.Overhead():]
	return iv, ciphertext, tag, nil
}

func openAEAD(newAEAD func([]byte) (cipher.AEAD, error), cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := newAEAD(cek)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "content decryption: invalid key")
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	pt, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "content decryption: authentication failed")
	}
	return pt, nil
}

// sealA256CBCHS512 implements RFC 7518 §5.2.3's AES_256_CBC_HMAC_SHA_512
// composite: cek is 64 bytes (MAC key || encryption key); the tag is
// HMAC-SHA512 over AAD || IV || ciphertext || AAD-bit-length, truncated to
// the first 32 bytes.
func sealA256CBCHS512(cek, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	if len(cek) != 64 {
		return nil, nil, nil, merrors.New(merrors.Malformed, "a256cbc-hs512: cek must be 64 bytes, got %d", len(cek))
	}
	macKey, encKey := cek[:32], cek[32:]

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, nil, nil, merrors.Wrap(merrors.Malformed, err, "a256cbc-hs512: invalid encryption key")
	}

	iv = make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, merrors.Wrap(merrors.IOError, err, "a256cbc-hs512: generate iv")
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	tag = computeCBCHMACTag(macKey, aad, iv, ciphertext)
	return iv, ciphertext, tag, nil
}

func openA256CBCHS512(cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(cek) != 64 {
		return nil, merrors.New(merrors.Malformed, "a256cbc-hs512: cek must be 64 bytes, got %d", len(cek))
	}
	macKey, encKey := cek[:32], cek[32:]

	expectedTag := computeCBCHMACTag(macKey, aad, iv, ciphertext)
	if subtle.ConstantTimeCompare(expectedTag, tag) != 1 {
		return nil, merrors.New(merrors.Malformed, "a256cbc-hs512: authentication tag mismatch")
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "a256cbc-hs512: invalid encryption key")
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, merrors.New(merrors.Malformed, "a256cbc-hs512: ciphertext is not block-aligned")
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	return pkcs7Unpad(padded)
}

func computeCBCHMACTag(macKey, aad, iv, ciphertext []byte) []byte {
	al := make([]byte, 8)
	binary.BigEndian.PutUint64(al, uint64(len(aad))*8)

	mac := hmac.New(sha512.New, macKey)
	mac.Write(aad)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(al)
	return mac.Sum(nil)[:32]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, merrors.New(merrors.Malformed, "pkcs7: empty input")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, merrors.New(merrors.Malformed, "pkcs7: invalid padding length")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, merrors.New(merrors.Malformed, "pkcs7: invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
