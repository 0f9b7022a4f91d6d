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

// Package live implements spec.md §4.8's LiveDelivery: tracking which DID is
// subscribed for push delivery on which connection, and publishing stored
// messages to the connection that owns them.
package live

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/didcomm-mediator/atm/merrors"
)

// Connection is the push target live-delivered envelopes are written to.
// transport/ws's per-connection writer implements this.
type Connection interface {
	Push(ctx context.Context, envelopeBytes []byte) error
}

type streamRecord struct {
	streamerUUID string
	live         bool
}

// Manager tracks GLOBAL_STREAMING and STREAMING_SESSIONS for one process.
// streamerUUID identifies this process; every record Manager writes to
// GLOBAL_STREAMING carries it, so Publish only ever delivers to connections
// this same process owns.
type Manager struct {
	mu           sync.Mutex
	streamerUUID string
	global       map[string]streamRecord     // did_hash -> record
	sessions     map[string]struct{}         // did_hash members of this process's STREAMING_SESSIONS
	connections  map[string]Connection       // conn_id -> push target
	didToConn    map[string]string           // did_hash -> conn_id
}

// NewManager creates a Manager for one process. An empty streamerUUID
// generates a fresh one.
func NewManager(streamerUUID string) *Manager {
	if streamerUUID == "" {
		streamerUUID = uuid.NewString()
	}
	return &Manager{
		streamerUUID: streamerUUID,
		global:       make(map[string]streamRecord),
		sessions:     make(map[string]struct{}),
		connections:  make(map[string]Connection),
		didToConn:    make(map[string]string),
	}
}

// StreamerUUID returns this process's own streamer id.
func (m *Manager) StreamerUUID() string { return m.streamerUUID }

// Register implements step 1 of spec.md §4.8's connect sequence: adds
// did_hash to this process's STREAMING_SESSIONS and sets
// GLOBAL_STREAMING(did_hash) = "<uuid>:FALSE".
func (m *Manager) Register(didHash, connID string, conn Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global[didHash] = streamRecord{streamerUUID: m.streamerUUID, live: false}
	m.sessions[didHash] = struct{}{}
	m.connections[connID] = conn
	m.didToConn[didHash] = connID
}

// Deregister implements step 4: removes both the GLOBAL_STREAMING and
// STREAMING_SESSIONS entries on disconnect.
func (m *Manager) Deregister(didHash, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.global[didHash]; ok && rec.streamerUUID == m.streamerUUID {
		delete(m.global, didHash)
	}
	delete(m.sessions, didHash)
	delete(m.connections, connID)
	if m.didToConn[didHash] == connID {
		delete(m.didToConn, didHash)
	}
}

// SetLiveDelivery implements pickup.LiveDeliveryToggle. It flips
// GLOBAL_STREAMING(did_hash)'s live bit; the DID must already be registered
// (i.e. hold an open connection) or this returns InvalidState.
func (m *Manager) SetLiveDelivery(ctx context.Context, didHash, connID string, enable bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.global[didHash]
	if !ok {
		return false, merrors.New(merrors.InvalidState, "live: %s has no registered streaming session", didHash)
	}
	rec.live = enable
	m.global[didHash] = rec
	return rec.live, nil
}

// SupportsPush implements pickup.LiveDeliveryToggle: true only for a
// connection this process actually tracks a push target for.
func (m *Manager) SupportsPush(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.connections[connID]
	return ok
}

// isClientLive mirrors spec.md's is_client_live: a record that is TRUE, or
// any record at all when forceFlag is set, counts as live.
func (m *Manager) isClientLive(didHash string, forceFlag bool) (streamerUUID string, live bool) {
	rec, ok := m.global[didHash]
	if !ok {
		return "", false
	}
	return rec.streamerUUID, rec.live || forceFlag
}

// Publish implements step 3 of spec.md §4.8: called by the writer after a
// store_message/store_forwarded_message commit. If did_hash is live (or
// forceDelivery is set) and this process owns the connection, envelopeBytes
// is pushed; otherwise Publish reports delivered=false and the message
// stays at rest for a later pickup delivery-request. A record owned by a
// different process's streamer_uuid is left alone — this in-memory Manager
// has no cross-process CHANNEL:<streamer_uuid> broker wired in (see
// DESIGN.md); a multi-process deployment replaces this map with a shared
// store and publishes cross-process instead.
func (m *Manager) Publish(ctx context.Context, didHash string, envelopeBytes []byte, forceDelivery bool) (delivered bool, err error) {
	m.mu.Lock()
	streamerUUID, live := m.isClientLive(didHash, forceDelivery)
	if !live || streamerUUID != m.streamerUUID {
		m.mu.Unlock()
		return false, nil
	}
	connID, ok := m.didToConn[didHash]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	conn, ok := m.connections[connID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := conn.Push(ctx, envelopeBytes); err != nil {
		return false, err
	}
	return true, nil
}

// CleanStart implements spec.md §4.8's process-restart guard: on an
// in-memory Manager, GLOBAL_STREAMING/STREAMING_SESSIONS always start empty
// on construction, so there is nothing stale to sweep. A shared-store-backed
// Manager would scan STREAMING_SESSIONS(streamerUUID) here and remove each
// member from GLOBAL_STREAMING before accepting new connections.
func (m *Manager) CleanStart() {}
