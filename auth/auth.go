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

// Package auth implements spec.md §4.9's SessionAuth: a two-step
// challenge/response handshake that authenticates a DID over its own
// authcrypt key material, followed by EdDSA-signed access/refresh tokens.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/merrors"
)

// MessageTypeAuthenticate is the plaintext-before-sealing message type the
// client's step-2 authcrypt envelope carries.
const MessageTypeAuthenticate = "https://affinidi.com/atm/1.0/authenticate"

const (
	defaultAccessExpiry  = 15 * time.Minute
	defaultRefreshExpiry = 24 * time.Hour
	challengeByteLen     = 32
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenPair is what a successful Authenticate or Refresh returns.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

// claims is the payload carried by both access and refresh tokens.
// TokenType keeps a refresh token from being accepted where an access
// token is required, and vice versa.
type claims struct {
	jwt.RegisteredClaims
	DID       string `json:"did"`
	TokenType string `json:"token_type"`
}

// ChallengeResponse is step 1's reply to a client's {did} POST.
type ChallengeResponse struct {
	SessionID string `json:"session_id"`
	Challenge string `json:"challenge"`
	ExpiresAt int64  `json:"expires_at"`
}

// SessionAuth implements the handshake and the token lifecycle that
// follows it.
type SessionAuth struct {
	Engine        *envelope.Engine
	MediatorDID   string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration

	signingKey ed25519.PrivateKey
	verifyKey  ed25519.PublicKey
	challenges *challengeStore
}

// NewSessionAuth derives a server-held Ed25519 signing key from secret
// (config.SecurityConfig.JWTAuthorizationSecret) so every mediator process
// sharing that secret issues and verifies compatible tokens without needing
// a separate key-material file to distribute.
func NewSessionAuth(engine *envelope.Engine, mediatorDID, secret string, accessExpiry, refreshExpiry time.Duration) *SessionAuth {
	seed := sha256.Sum256([]byte(secret))
	signingKey := ed25519.NewKeyFromSeed(seed[:])
	return &SessionAuth{
		Engine:        engine,
		MediatorDID:   mediatorDID,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
		signingKey:    signingKey,
		verifyKey:     signingKey.Public().(ed25519.PublicKey),
		challenges:    newChallengeStore(0),
	}
}

func (a *SessionAuth) accessExpiry() time.Duration {
	if a.AccessExpiry > 0 {
		return a.AccessExpiry
	}
	return defaultAccessExpiry
}

func (a *SessionAuth) refreshExpiry() time.Duration {
	if a.RefreshExpiry > 0 {
		return a.RefreshExpiry
	}
	return defaultRefreshExpiry
}

// Close stops the background challenge sweep.
func (a *SessionAuth) Close() { a.challenges.close() }

// NewChallenge implements step 1: generate and store a fresh 32-byte
// challenge for did, keyed by a new session id, expiring in 60s.
func (a *SessionAuth) NewChallenge(did string) (ChallengeResponse, error) {
	raw := make([]byte, challengeByteLen)
	if _, err := rand.Read(raw); err != nil {
		return ChallengeResponse{}, merrors.Wrap(merrors.IOError, err, "auth: generate challenge")
	}
	sessionID := uuid.NewString()
	expiresAt := a.challenges.put(sessionID, raw, did)
	return ChallengeResponse{
		SessionID: sessionID,
		Challenge: base64.StdEncoding.EncodeToString(raw),
		ExpiresAt: expiresAt,
	}, nil
}

// Authenticate implements step 2: unpack the client's authcrypted
// authenticate message, verify it against the stored challenge, and issue a
// fresh token pair. raw is the wire envelope bytes; the mediator's own
// secrets (held by a.Engine) are consulted to open it.
func (a *SessionAuth) Authenticate(ctx context.Context, sessionID string, raw []byte) (TokenPair, error) {
	rec, ok := a.challenges.take(sessionID)
	if !ok {
		return TokenPair{}, merrors.New(merrors.SessionError, "auth: unknown or expired session %s", sessionID)
	}

	msg, meta, err := a.Engine.Unpack(ctx, raw, envelope.UnpackOptions{})
	if err != nil {
		return TokenPair{}, err
	}
	if msg.Type != MessageTypeAuthenticate {
		return TokenPair{}, merrors.New(merrors.IllegalArgument, "auth: expected authenticate message, got %s", msg.Type)
	}
	if !meta.Authenticated {
		return TokenPair{}, merrors.New(merrors.SessionError, "auth: envelope was not authcrypted by the claimed sender")
	}
	if msg.From != rec.did {
		return TokenPair{}, merrors.New(merrors.SessionError, "auth: message sender does not match the challenged did")
	}
	if !addressedToMediator(msg.To, a.MediatorDID) {
		return TokenPair{}, merrors.New(merrors.IllegalArgument, "auth: message must be addressed to the mediator")
	}
	if msg.Expired(time.Now()) {
		return TokenPair{}, merrors.New(merrors.MessageExpired, "auth: authenticate message has expired")
	}

	challenge, err := challengeBodyBytes(msg.Body)
	if err != nil {
		return TokenPair{}, err
	}
	if subtle.ConstantTimeCompare(challenge, rec.challenge) != 1 {
		return TokenPair{}, merrors.New(merrors.SessionError, "auth: challenge mismatch")
	}

	return a.issueTokens(rec.did)
}

func (a *SessionAuth) issueTokens(did string) (TokenPair, error) {
	now := time.Now()
	access, accessExp, err := a.signToken(did, tokenTypeAccess, now, a.accessExpiry())
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := a.signToken(did, tokenTypeRefresh, now, a.refreshExpiry())
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (a *SessionAuth) signToken(did, tokenType string, now time.Time, expiry time.Duration) (string, int64, error) {
	exp := now.Add(expiry)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   did,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		DID:       did,
		TokenType: tokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", 0, merrors.Wrap(merrors.SessionError, err, "auth: sign %s token", tokenType)
	}
	return signed, exp.Unix(), nil
}

// Refresh implements spec.md §4.9's refresh round trip: the server rotates
// the access token only, returning the caller's refresh token unchanged.
func (a *SessionAuth) Refresh(refreshToken string) (TokenPair, error) {
	c, err := a.parseToken(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if c.TokenType != tokenTypeRefresh {
		return TokenPair{}, merrors.New(merrors.SessionError, "auth: not a refresh token")
	}
	access, accessExp, err := a.signToken(c.DID, tokenTypeAccess, time.Now(), a.accessExpiry())
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: c.ExpiresAt.Unix(),
	}, nil
}

// VerifyAccess parses and validates an access token, returning the DID it
// was issued for.
func (a *SessionAuth) VerifyAccess(tokenString string) (string, error) {
	c, err := a.parseToken(tokenString)
	if err != nil {
		return "", err
	}
	if c.TokenType != tokenTypeAccess {
		return "", merrors.New(merrors.SessionError, "auth: not an access token")
	}
	return c.DID, nil
}

func (a *SessionAuth) parseToken(tokenString string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, merrors.New(merrors.SessionError, "auth: unexpected signing method")
		}
		return a.verifyKey, nil
	})
	if err != nil {
		return nil, merrors.Wrap(merrors.SessionError, err, "auth: invalid token")
	}
	return &c, nil
}

func addressedToMediator(to []string, mediatorDID string) bool {
	for _, t := range to {
		if t == mediatorDID {
			return true
		}
	}
	return false
}

func challengeBodyBytes(body json.RawMessage) ([]byte, error) {
	var encoded string
	if err := json.Unmarshal(body, &encoded); err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "auth: invalid challenge body")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, merrors.Wrap(merrors.Malformed, err, "auth: challenge body is not valid base64")
	}
	return decoded, nil
}
