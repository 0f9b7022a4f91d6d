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

package formats

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	dcrsecp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	sagecrypto "github.com/didcomm-mediator/atm/crypto"
	"github.com/didcomm-mediator/atm/crypto/keys"
)

// secp256k1NamedCurveOID is the ASN.1 object identifier for secp256k1
// (SEC 2 recommended curve, also used by Bitcoin/Ethereum). Go's x509
// package only knows the NIST P-curve OIDs, so secp256k1 keys are marshaled
// by hand using the same SEC1/PKIX shapes x509 uses for the others.
var secp256k1NamedCurveOID = asn1.ObjectIdentifier{1, 3, 132, 0, 10}

var ecPublicKeyOID = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}

// sec1PrivateKey mirrors the RFC 5915 ECPrivateKey ASN.1 structure.
type sec1PrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

type pkixAlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type pkixPublicKey struct {
	Algorithm pkixAlgorithmIdentifier
	PublicKey asn1.BitString
}

// pemExporter implements KeyExporter for PEM format. Ed25519 and P-256 keys
// round-trip through the standard PKCS8/PKIX DER encodings; secp256k1 keys
// use a hand-rolled SEC1 "EC PRIVATE KEY" encoding since x509 only knows the
// NIST named curves.
type pemExporter struct{}

// NewPEMExporter creates a new PEM exporter.
func NewPEMExporter() sagecrypto.KeyExporter {
	return &pemExporter{}
}

func (e *pemExporter) Export(keyPair sagecrypto.KeyPair, format sagecrypto.KeyFormat) ([]byte, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	switch keyPair.Type() {
	case sagecrypto.KeyTypeSecp256k1:
		priv, ok := keyPair.PrivateKey().(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("invalid Secp256k1 private key type")
		}
		pub := elliptic256MarshalUncompressed(priv.PublicKey.X, priv.PublicKey.Y)
		der, err := asn1.Marshal(sec1PrivateKey{
			Version:       1,
			PrivateKey:    leftPad32(priv.D.Bytes()),
			NamedCurveOID: secp256k1NamedCurveOID,
			PublicKey:     asn1.BitString{Bytes: pub, BitLength: len(pub) * 8},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal EC private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil

	default:
		der, err := x509.MarshalPKCS8PrivateKey(keyPair.PrivateKey())
		if err != nil {
			return nil, fmt.Errorf("marshal PKCS8 private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	}
}

func (e *pemExporter) ExportPublic(keyPair sagecrypto.KeyPair, format sagecrypto.KeyFormat) ([]byte, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	if keyPair.Type() == sagecrypto.KeyTypeSecp256k1 {
		pub, ok := keyPair.PublicKey().(*ecdsa.PublicKey)
		if !ok {
			return nil, errors.New("invalid Secp256k1 public key type")
		}
		raw := elliptic256MarshalUncompressed(pub.X, pub.Y)
		der, err := asn1.Marshal(pkixPublicKey{
			Algorithm: pkixAlgorithmIdentifier{Algorithm: ecPublicKeyOID, Parameters: secp256k1NamedCurveOID},
			PublicKey: asn1.BitString{Bytes: raw, BitLength: len(raw) * 8},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal EC public key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
	}

	der, err := x509.MarshalPKIXPublicKey(keyPair.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("marshal PKIX public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// pemImporter implements KeyImporter for PEM format.
type pemImporter struct{}

// NewPEMImporter creates a new PEM importer.
func NewPEMImporter() sagecrypto.KeyImporter {
	return &pemImporter{}
}

func (i *pemImporter) Import(data []byte, format sagecrypto.KeyFormat) (sagecrypto.KeyPair, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	block, _ := pem.Decode(stripComments(data))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		var parsed sec1PrivateKey
		if _, err := asn1.Unmarshal(block.Bytes, &parsed); err != nil {
			return nil, fmt.Errorf("parse EC private key: %w", err)
		}
		secpPriv := dcrsecp256k1.PrivKeyFromBytes(parsed.PrivateKey)
		return keys.NewSecp256k1KeyPair(secpPriv, "")

	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS8 private key: %w", err)
		}
		switch k := key.(type) {
		case ed25519.PrivateKey:
			return keys.NewEd25519KeyPair(k, "")
		case *ecdsa.PrivateKey:
			return keys.NewP256KeyPair(k, "")
		case *ecdh.PrivateKey:
			return keys.NewX25519KeyPair(k, "")
		default:
			return nil, fmt.Errorf("unsupported PKCS8 key type: %T", k)
		}

	default:
		return nil, fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}
}

func (i *pemImporter) ImportPublic(data []byte, format sagecrypto.KeyFormat) (crypto.PublicKey, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	block, _ := pem.Decode(stripComments(data))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}

	var outer pkixPublicKey
	if _, err := asn1.Unmarshal(block.Bytes, &outer); err == nil && outer.Algorithm.Parameters.Equal(secp256k1NamedCurveOID) {
		x, y := unmarshalUncompressed(outer.PublicKey.Bytes)
		return &ecdsa.PublicKey{Curve: dcrsecp256k1.S256(), X: x, Y: y}, nil
	}

	return x509.ParsePKIXPublicKey(block.Bytes)
}

// elliptic256MarshalUncompressed encodes (x, y) as the SEC1 uncompressed
// point form 0x04 || x(32) || y(32) used by both secp256k1 and P-256.
func elliptic256MarshalUncompressed(x, y *big.Int) []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	copy(out[1:33], leftPad32(x.Bytes()))
	copy(out[33:65], leftPad32(y.Bytes()))
	return out
}

func unmarshalUncompressed(data []byte) (x, y *big.Int) {
	if len(data) != 65 || data[0] != 0x04 {
		return nil, nil
	}
	return new(big.Int).SetBytes(data[1:33]), new(big.Int).SetBytes(data[33:65])
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// stripComments drops any non-PEM leading lines (e.g. "# comment") so that
// pem.Decode finds the "-----BEGIN" marker regardless of what precedes it.
func stripComments(data []byte) []byte {
	idx := indexOf(data, []byte("-----BEGIN"))
	if idx < 0 {
		return data
	}
	return data[idx:]
}

func indexOf(haystack, needle []byte) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == string(needle) {
			return i
		}
	}
	return -1
}
