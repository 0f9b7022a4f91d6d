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

package admin

import (
	"context"
	"sort"
	"sync"

	"github.com/didcomm-mediator/atm/merrors"
)

// AccountStore persists Account records. store.QueueStore only tracks
// queue bytes/counts per did_hash; it has no notion of account_type or
// the admin-plane ACL flags, so the admin plane needs its own registry.
// MemoryStore is the reference implementation; a production deployment
// backs this with the same durable store QueueStore uses.
type AccountStore interface {
	Get(ctx context.Context, didHash string) (Account, bool, error)
	Put(ctx context.Context, acct Account) error
	// List returns up to limit accounts with DIDHash > cursor in
	// ascending order, plus the cursor to pass for the next page ("" when
	// exhausted) — a cursor-stable enumeration per spec.md's AccountList.
	List(ctx context.Context, cursor string, limit int) (accounts []Account, nextCursor string, err error)
}

// MemoryStore is a process-local AccountStore, suitable for a single
// mediator instance or tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func (s *MemoryStore) Get(_ context.Context, didHash string) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[didHash]
	return acct, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, acct Account) error {
	if acct.DIDHash == "" {
		return merrors.New(merrors.IllegalArgument, "admin: account did_hash is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.DIDHash] = acct
	return nil
}

func (s *MemoryStore) List(_ context.Context, cursor string, limit int) ([]Account, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := make([]string, 0, len(s.accounts))
	for h := range s.accounts {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	start := 0
	if cursor != "" {
		start = sort.SearchStrings(hashes, cursor)
		if start < len(hashes) && hashes[start] == cursor {
			start++
		}
	}

	end := start + limit
	if end > len(hashes) {
		end = len(hashes)
	}

	out := make([]Account, 0, end-start)
	for _, h := range hashes[start:end] {
		out = append(out, s.accounts[h])
	}

	next := ""
	if end < len(hashes) {
		next = hashes[end-1]
	}
	return out, next, nil
}
