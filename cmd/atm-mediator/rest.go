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
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/didcomm-mediator/atm/acl"
	"github.com/didcomm-mediator/atm/admin"
	"github.com/didcomm-mediator/atm/auth"
	"github.com/didcomm-mediator/atm/internal/logger"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/didcomm-mediator/atm/transport/ws"
)

// restAPI wires the mediator's REST surface: authentication, the
// store-and-forward inbound POST, and a minimal admin-plane surface over
// admin.Service, mounted alongside the websocket upgrade endpoint under one
// api_prefix. Grounded on stats.Server's plain net/http handler
// registration rather than a router framework, for the same reason: this
// codebase never reaches for one.
type restAPI struct {
	Auth       *auth.SessionAuth
	Admin      *admin.Service
	Dispatcher *Dispatcher
	WS         *ws.Server
	ACLMode    acl.Mode
	Logger     logger.Logger
}

func (a *restAPI) log() logger.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return logger.GetDefaultLogger()
}

// Mount registers every handler this type serves under prefix on mux.
func (a *restAPI) Mount(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/authenticate/challenge", a.handleChallenge)
	mux.HandleFunc("POST "+prefix+"/authenticate/refresh", a.handleRefresh)
	mux.HandleFunc("POST "+prefix+"/authenticate/{session_id}", a.handleAuthenticate)
	mux.HandleFunc("POST "+prefix+"/inbound", a.handleInbound)
	mux.Handle(prefix+"/ws", a.WS)

	mux.HandleFunc("GET "+prefix+"/admin/accounts", a.handleAccountList)
	mux.HandleFunc("POST "+prefix+"/admin/accounts", a.handleAccountAdd)
	mux.HandleFunc("GET "+prefix+"/admin/accounts/{did_hash}", a.handleAccountGet)
	mux.HandleFunc("DELETE "+prefix+"/admin/accounts/{did_hash}", a.handleAccountRemove)
	mux.HandleFunc("POST "+prefix+"/admin/accounts/{did_hash}/type", a.handleAccountChangeType)
	mux.HandleFunc("POST "+prefix+"/admin/admins", a.handleAdminAdd)
	mux.HandleFunc("DELETE "+prefix+"/admin/admins", a.handleAdminStrip)
}

func (a *restAPI) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (a *restAPI) writeError(w http.ResponseWriter, sessionID string, err error) {
	resp := merrors.ToResponse(sessionID, err)
	if resp.HTTPCode >= http.StatusInternalServerError {
		a.log().Error("rest: request failed", logger.Error(err), logger.Int("http_code", resp.HTTPCode))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.HTTPCode)
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *restAPI) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DID string `json:"did"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, "", merrors.Wrap(merrors.Malformed, err, "rest: decode challenge request"))
		return
	}
	ch, err := a.Auth.NewChallenge(body.DID)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	a.writeJSON(w, ch)
}

// handleAuthenticate implements step 2 of the handshake, then spec.md §8
// scenario 5's authorize step: a cryptographically valid handshake still
// fails ACLDenied (and issues no tokens) when the mediator-wide mode
// refuses the DID, since auth.SessionAuth itself never consults the ACL.
func (a *restAPI) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, sessionID, merrors.Wrap(merrors.IOError, err, "rest: read authenticate body"))
		return
	}

	tokens, err := a.Auth.Authenticate(r.Context(), sessionID, raw)
	if err != nil {
		a.writeError(w, sessionID, err)
		return
	}

	did, err := a.Auth.VerifyAccess(tokens.AccessToken)
	if err != nil {
		a.writeError(w, sessionID, err)
		return
	}
	didHash := acl.DIDHash(did)

	acct, getErr := a.Admin.AccountGet(r.Context(), admin.Account{DIDHash: didHash}, didHash)
	accountExists := getErr == nil
	flags := acl.Set(0)
	if accountExists {
		flags = acct.Flags
	}
	if dec := acl.CheckAuthentication(a.ACLMode, accountExists, flags); !dec.Allowed {
		a.writeError(w, sessionID, merrors.New(merrors.ACLDenied, "rest: %s", dec.Reason))
		return
	}
	if !accountExists {
		if _, err := a.Admin.AccountAdd(r.Context(), admin.Account{DIDHash: didHash}, didHash, nil); err != nil {
			a.writeError(w, sessionID, err)
			return
		}
	}

	a.writeJSON(w, tokens)
}

func (a *restAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, "", merrors.Wrap(merrors.Malformed, err, "rest: decode refresh request"))
		return
	}
	tokens, err := a.Auth.Refresh(body.RefreshToken)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	a.writeJSON(w, tokens)
}

func (a *restAPI) handleInbound(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, "", merrors.Wrap(merrors.IOError, err, "rest: read inbound body"))
		return
	}
	if err := a.Dispatcher.HandleInbound(r.Context(), raw); err != nil {
		a.writeError(w, "", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// actor resolves the calling DID from its bearer access token into the
// admin.Account a privileged operation authorizes against, using
// AccountGet's own self-bootstrap path (actor.DIDHash == targetDIDHash
// always succeeds regardless of role) to read back the caller's real
// account_type.
func (a *restAPI) actor(r *http.Request) (admin.Account, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return admin.Account{}, merrors.New(merrors.Unauthorized, "rest: missing bearer token")
	}
	did, err := a.Auth.VerifyAccess(token)
	if err != nil {
		return admin.Account{}, err
	}
	didHash := acl.DIDHash(did)
	return a.Admin.AccountGet(r.Context(), admin.Account{DIDHash: didHash}, didHash)
}

func (a *restAPI) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	acct, err := a.Admin.AccountGet(r.Context(), actor, r.PathValue("did_hash"))
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	a.writeJSON(w, acct)
}

func (a *restAPI) handleAccountAdd(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	var body struct {
		DIDHash string `json:"did_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, "", merrors.Wrap(merrors.Malformed, err, "rest: decode account_add request"))
		return
	}
	acct, err := a.Admin.AccountAdd(r.Context(), actor, body.DIDHash, nil)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	a.writeJSON(w, acct)
}

func (a *restAPI) handleAccountList(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	accounts, next, err := a.Admin.AccountList(r.Context(), actor, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	a.writeJSON(w, struct {
		Accounts   []admin.Account `json:"accounts"`
		NextCursor string          `json:"next_cursor"`
	}{accounts, next})
}

func (a *restAPI) handleAccountRemove(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	purgeOutbox := r.URL.Query().Get("purge_outbox") == "true"
	if err := a.Admin.AccountRemove(r.Context(), actor, r.PathValue("did_hash"), purgeOutbox); err != nil {
		a.writeError(w, "", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *restAPI) handleAccountChangeType(w http.ResponseWriter, r *http.Request) {
	actor, err := a.actor(r)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	var body struct {
		Type admin.AccountType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, "", merrors.Wrap(merrors.Malformed, err, "rest: decode account_change_type request"))
		return
	}
	if err := a.Admin.AccountChangeType(r.Context(), actor, r.PathValue("did_hash"), body.Type); err != nil {
		a.writeError(w, "", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *restAPI) handleAdminAdd(w http.ResponseWriter, r *http.Request) {
	a.handleAdminBulk(w, r, a.Admin.AdminAdd)
}

func (a *restAPI) handleAdminStrip(w http.ResponseWriter, r *http.Request) {
	a.handleAdminBulk(w, r, a.Admin.AdminStrip)
}

func (a *restAPI) handleAdminBulk(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor admin.Account, didHashes []string) error) {
	actor, err := a.actor(r)
	if err != nil {
		a.writeError(w, "", err)
		return
	}
	var body struct {
		DIDHashes []string `json:"did_hashes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, "", merrors.Wrap(merrors.Malformed, err, "rest: decode admin bulk request"))
		return
	}
	if err := op(r.Context(), actor, body.DIDHashes); err != nil {
		a.writeError(w, "", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
