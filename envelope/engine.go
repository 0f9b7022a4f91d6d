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
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
)

const (
	defaultCryptoOperationsLimit = 1000
	defaultToKeysPerRecipientLimit = 100
)

// Engine is the DIDComm v2 pack/unpack engine. It holds no mutable state of
// its own; a Registry resolves DID documents, Secrets answers which private
// keys this mediator actually holds, and Forward/Builder are optionally
// wired in by the router package to peel and build Forward onions without
// envelope depending on router.
type Engine struct {
	Registry *keyregistry.Registry
	Secrets  SecretStore
	Forward  ForwardUnwrapper
	Builder  ForwardBuilder

	CryptoOperationsLimit  int
	ToKeysPerRecipientLimit int
}

func (e *Engine) cryptoOpsLimit(opts UnpackOptions) int {
	if opts.MaxCryptoOperations > 0 {
		return opts.MaxCryptoOperations
	}
	if e.CryptoOperationsLimit > 0 {
		return e.CryptoOperationsLimit
	}
	return defaultCryptoOperationsLimit
}

func (e *Engine) toKeysLimit() int {
	if e.ToKeysPerRecipientLimit > 0 {
		return e.ToKeysPerRecipientLimit
	}
	return defaultToKeysPerRecipientLimit
}

// Pack seals msg for delivery to the DID to, optionally signed by signBy
// and/or authenticated as from, per opts.
func (e *Engine) Pack(ctx context.Context, msg *Message, to, from string, opts PackOptions) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "pack: marshal plaintext")
	}

	if opts.SignBy != "" {
		payload, err = e.signPayload(ctx, payload, from, opts.SignBy)
		if err != nil {
			return nil, err
		}
	}

	recipientDoc, err := e.Registry.ResolveDocument(ctx, to)
	if err != nil {
		return nil, err
	}
	recipientKeys, err := keyregistry.FindKeyAgreement(recipientDoc, "")
	if err != nil {
		return nil, err
	}
	if len(recipientKeys) == 0 {
		return nil, merrors.New(merrors.NoCompatibleCrypto, "pack: %s has no key-agreement keys", to)
	}
	if len(recipientKeys) > e.toKeysLimit() {
		return nil, merrors.New(merrors.ServiceLimitError, "pack: %s has %d key-agreement keys, exceeding the limit of %d", to, len(recipientKeys), e.toKeysLimit())
	}

	anonEnc := opts.AnonEncAlg
	if anonEnc == "" {
		anonEnc = EncXC20P
	}

	var sealed []byte
	if from != "" {
		sealed, err = e.sealAuthcryptFor(ctx, payload, from, recipientKeys, opts.ProtectSender, anonEnc)
	} else {
		jweRecipients, _ := recipientsForAnoncrypt(recipientKeys)
		if len(jweRecipients) == 0 {
			return nil, merrors.New(merrors.NoCompatibleCrypto, "pack: no recipient key-agreement family is a supported KEM")
		}
		sealed, err = sealAnoncrypt(payload, jweRecipients, anonEnc)
	}
	if err != nil {
		return nil, err
	}

	if opts.Forward {
		if e.Builder == nil {
			return nil, merrors.New(merrors.NotImplemented, "pack: forward requested but no ForwardBuilder configured")
		}
		sealed, err = e.Builder.BuildOnion(ctx, sealed, to)
		if err != nil {
			return nil, err
		}
	}
	return sealed, nil
}

// SealAnoncryptToKid anoncrypts payload to a single key-agreement kid rather
// than every key-agreement key a DID publishes. The router uses this to wrap
// each hop of a forward onion, where every layer targets one routing key
// instead of a recipient's full key set.
func (e *Engine) SealAnoncryptToKid(ctx context.Context, payload []byte, kid string, encAlg string) ([]byte, error) {
	bareDID, _, hasFragment := strings.Cut(kid, "#")
	if !hasFragment {
		return nil, merrors.New(merrors.Malformed, "seal: kid %s is not a DID URL", kid)
	}
	doc, err := e.Registry.ResolveDocument(ctx, bareDID)
	if err != nil {
		return nil, err
	}
	keys, err := keyregistry.FindKeyAgreement(doc, kid)
	if err != nil {
		return nil, err
	}
	if encAlg == "" {
		encAlg = EncXC20P
	}
	jweRecipients, err := recipientsOfFamily(keys, keys[0].Family)
	if err != nil {
		return nil, err
	}
	return sealAnoncrypt(payload, jweRecipients, encAlg)
}

func (e *Engine) signPayload(ctx context.Context, payload []byte, from, signBy string) ([]byte, error) {
	if from == "" {
		return nil, merrors.New(merrors.IllegalArgument, "pack: sign_by requires from")
	}
	priv, family, found := e.Secrets.Get(signBy)
	if !found {
		return nil, merrors.New(merrors.SecretNotFound, "pack: no held secret for signing kid %s", signBy)
	}
	alg, err := signingAlgForFamily(family)
	if err != nil {
		return nil, err
	}
	return signJWS(payload, []signerKey{{Kid: signBy, Private: priv, Alg: alg}})
}

func (e *Engine) sealAuthcryptFor(ctx context.Context, payload []byte, from string, recipientKeys []keyregistry.ResolvedKey, protectSender bool, anonEnc string) ([]byte, error) {
	fromDoc, err := e.Registry.ResolveDocument(ctx, from)
	if err != nil {
		return nil, err
	}
	fromKAKeys, err := keyregistry.FindKeyAgreement(fromDoc, "")
	if err != nil {
		return nil, err
	}
	var held []keyregistry.ResolvedKey
	for _, k := range fromKAKeys {
		if _, _, ok := e.Secrets.Get(k.Kid); ok {
			held = append(held, k)
		}
	}
	if len(held) == 0 {
		return nil, merrors.New(merrors.SecretNotFound, "pack: no held key-agreement secret for sender %s", from)
	}

	senderResolved, recipientResolved, err := keyregistry.IntersectKeyAgreement(held, recipientKeys)
	if err != nil {
		return nil, err
	}
	senderPrivRaw, senderFamily, _ := e.Secrets.Get(senderResolved.Kid)
	senderECDHPriv, err := toECDHPrivateKey(senderPrivRaw, senderFamily)
	if err != nil {
		return nil, err
	}

	jweRecipients, err := recipientsOfFamily(recipientKeys, recipientResolved.Family)
	if err != nil {
		return nil, err
	}

	sealed, err := sealAuthcrypt(payload, senderECDHPriv, senderResolved.Kid, jweRecipients, EncA256CBCHS512)
	if err != nil {
		return nil, err
	}
	if !protectSender {
		return sealed, nil
	}

	anonRecipients, _ := recipientsForAnoncrypt(recipientKeys)
	if len(anonRecipients) == 0 {
		return nil, merrors.New(merrors.NoCompatibleCrypto, "pack: protect_sender requested but no anoncrypt-capable recipient key")
	}
	return sealAnoncrypt(sealed, anonRecipients, anonEnc)
}

func signingAlgForFamily(family keyregistry.KeyFamily) (string, error) {
	switch family {
	case keyregistry.FamilyEd25519:
		return AlgEdDSA, nil
	case keyregistry.FamilyP256:
		return AlgES256, nil
	case keyregistry.FamilyK256:
		return AlgES256K, nil
	default:
		return "", merrors.New(merrors.NoCompatibleCrypto, "pack: key family %s cannot sign a jws", family)
	}
}

// recipientsForAnoncrypt picks the family of the first resolved key and
// returns every recipient key of that family converted to an ECDH public
// key; DIDComm anoncrypt seals to a single KEM family per envelope.
func recipientsForAnoncrypt(keys []keyregistry.ResolvedKey) ([]jweRecipientKey, keyregistry.KeyFamily) {
	if len(keys) == 0 {
		return nil, ""
	}
	family := keys[0].Family
	for _, k := range keys {
		if _, ok := ecdhKEMCurve(k.Family); ok {
			family = k.Family
			break
		}
	}
	out, err := recipientsOfFamily(keys, family)
	if err != nil {
		return nil, ""
	}
	return out, family
}

func recipientsOfFamily(keys []keyregistry.ResolvedKey, family keyregistry.KeyFamily) ([]jweRecipientKey, error) {
	var out []jweRecipientKey
	for _, k := range keys {
		if k.Family != family {
			continue
		}
		pub, err := toECDHPublicKey(k.Public, k.Family)
		if err != nil {
			continue // unsupported representation among many: skip, never fatal
		}
		out = append(out, jweRecipientKey{Kid: k.Kid, Family: k.Family, Public: pub})
	}
	if len(out) == 0 {
		return nil, merrors.New(merrors.NoCompatibleCrypto, "no recipient key of family %s could be converted to an ecdh key", family)
	}
	return out, nil
}

type envelopeShape int

const (
	shapePlain envelopeShape = iota
	shapeJWE
	shapeJWS
	shapeUnrecognized
)

func classify(raw []byte) envelopeShape {
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) == 0 {
		return shapeUnrecognized
	}
	if trimmed[0] != '{' {
		if len(strings.Split(trimmed, ".")) == 3 {
			return shapeJWS
		}
		return shapeUnrecognized
	}
	var probe struct {
		Recipients json.RawMessage `json:"recipients"`
		Ciphertext json.RawMessage `json:"ciphertext"`
		Signatures json.RawMessage `json:"signatures"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return shapeUnrecognized
	}
	switch {
	case probe.Recipients != nil && probe.Ciphertext != nil:
		return shapeJWE
	case probe.Signatures != nil:
		return shapeJWS
	default:
		return shapePlain
	}
}

// Unpack classifies raw, recursively decrypts/verifies as needed, and
// returns the innermost plaintext message along with its provenance.
func (e *Engine) Unpack(ctx context.Context, raw []byte, opts UnpackOptions) (*Message, UnpackMetadata, error) {
	var meta UnpackMetadata
	sum := sha256.Sum256(raw)
	meta.SHA256Hash = hex.EncodeToString(sum[:])

	limit := e.cryptoOpsLimit(opts)
	cryptoOps := 0
	current := raw

	for {
		switch classify(current) {
		case shapeJWE:
			var probe jweMessage
			if err := json.Unmarshal(current, &probe); err != nil {
				return nil, meta, merrors.Wrap(merrors.Malformed, err, "unpack: invalid jwe json")
			}
			if len(probe.Recipients) > e.toKeysLimit() {
				return nil, meta, merrors.New(merrors.ServiceLimitError, "unpack: jwe names %d recipients, exceeding the limit of %d", len(probe.Recipients), e.toKeysLimit())
			}
			cryptoOps += len(probe.Recipients) + 1
			if cryptoOps > limit {
				return nil, meta, merrors.New(merrors.TooManyCryptoOperations, "unpack: exceeded crypto operations limit of %d", limit)
			}
			pt, layerMeta, err := openJWE(current, e.Secrets, e.senderPublicKeyResolver(ctx), opts)
			if err != nil {
				return nil, meta, err
			}
			mergeLayerMeta(&meta, layerMeta)
			current = pt

		case shapeJWS:
			cryptoOps++
			if cryptoOps > limit {
				return nil, meta, merrors.New(merrors.TooManyCryptoOperations, "unpack: exceeded crypto operations limit of %d", limit)
			}
			pt, signFrom, alg, err := verifyJWS(current, e.jwsLookup(ctx))
			if err != nil {
				return nil, meta, err
			}
			meta.SignedMessage = true
			meta.NonRepudiation = true
			meta.SignFrom = signFrom
			meta.SignAlg = alg
			current = pt

		case shapePlain:
			if opts.AllowForwardUnwrap && e.Forward != nil {
				inner, isForward, err := e.Forward.UnwrapForward(ctx, current, e.Secrets)
				if err != nil {
					return nil, meta, err
				}
				if isForward {
					meta.ReWrappedInForward = true
					current = inner
					continue
				}
			}
			var msg Message
			if err := json.Unmarshal(current, &msg); err != nil {
				return nil, meta, merrors.Wrap(merrors.Malformed, err, "unpack: invalid plaintext message json")
			}
			if msg.Expired(time.Now()) {
				return nil, meta, merrors.New(merrors.MessageExpired, "unpack: message %s expired at %d", msg.ID, msg.ExpiresTime)
			}
			if msg.FromPrior != "" {
				kid, err := verifyFromPrior(ctx, e.Registry, msg.FromPrior)
				if err != nil {
					return nil, meta, err
				}
				meta.FromPriorIssuerKid = kid
			}
			return &msg, meta, nil

		default:
			return nil, meta, merrors.New(merrors.Malformed, "unpack: unrecognized envelope shape")
		}
	}
}

func mergeLayerMeta(meta *UnpackMetadata, layer UnpackMetadata) {
	meta.Encrypted = true
	if layer.Authenticated {
		meta.Authenticated = true
		meta.EncAlgAuth = layer.EncAlgAuth
		meta.EncryptedFromKid = layer.EncryptedFromKid
	}
	if layer.AnonymousSender && meta.EncAlgAnon == "" {
		meta.AnonymousSender = true
		meta.EncAlgAnon = layer.EncAlgAnon
	}
	if len(layer.EncryptedToKids) > 0 {
		meta.EncryptedToKids = layer.EncryptedToKids
	}
}

// senderPublicKeyResolver resolves an authcrypt envelope's skid to the
// sender's public key-agreement key by resolving the sender's DID document,
// never by consulting the local secret store (which only ever holds keys
// this mediator owns as a recipient, not a remote sender's public key).
func (e *Engine) senderPublicKeyResolver(ctx context.Context) senderPublicKeyResolver {
	return func(skid string) (*ecdh.PublicKey, error) {
		if skid == "" {
			return nil, merrors.New(merrors.Malformed, "unpack: authcrypt envelope missing skid")
		}
		did, _, found := strings.Cut(skid, "#")
		if !found {
			return nil, merrors.New(merrors.Malformed, "unpack: skid %s is not a DID URL", skid)
		}
		doc, err := e.Registry.ResolveDocument(ctx, did)
		if err != nil {
			return nil, err
		}
		keys, err := keyregistry.FindKeyAgreement(doc, skid)
		if err != nil {
			return nil, err
		}
		return toECDHPublicKey(keys[0].Public, keys[0].Family)
	}
}

// jwsLookup resolves a JWS signature's kid to an authentication public key
// by stripping the DID fragment and resolving that DID's document.
func (e *Engine) jwsLookup(ctx context.Context) verifierLookup {
	return func(kid string) (crypto.PublicKey, bool) {
		did, _, found := strings.Cut(kid, "#")
		if !found {
			return nil, false
		}
		doc, err := e.Registry.ResolveDocument(ctx, did)
		if err != nil {
			return nil, false
		}
		keys, err := keyregistry.FindAuthentication(doc, kid)
		if err != nil || len(keys) == 0 {
			return nil, false
		}
		return keys[0].Public, true
	}
}
