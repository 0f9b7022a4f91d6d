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

package acl

import (
	"sort"

	"github.com/didcomm-mediator/atm/merrors"
)

// MaxHashesPerCall bounds add/remove batch size.
const MaxHashesPerCall = 100

// AccessList is the bounded per-DID set of did_hash entries consulted by
// the allow-list/block-list ACL mode bits.
type AccessList struct {
	limit   int
	entries map[string]struct{}
}

// NewAccessList creates an access list bounded at limit entries
// (local_max_acl; 0 means the spec default of 1000).
func NewAccessList(limit int) *AccessList {
	if limit <= 0 {
		limit = 1000
	}
	return &AccessList{limit: limit, entries: make(map[string]struct{})}
}

// Add inserts hashes, truncating at the configured limit. truncated is true
// if any hash was dropped because the list was already full.
func (a *AccessList) Add(hashes []string) (truncated bool, err error) {
	if len(hashes) > MaxHashesPerCall {
		return false, merrors.New(merrors.IllegalArgument, "access list add: at most %d hashes per call", MaxHashesPerCall)
	}
	for _, h := range hashes {
		if len(a.entries) >= a.limit {
			truncated = true
			continue
		}
		a.entries[h] = struct{}{}
	}
	return truncated, nil
}

// Remove deletes hashes from the list.
func (a *AccessList) Remove(hashes []string) error {
	if len(hashes) > MaxHashesPerCall {
		return merrors.New(merrors.IllegalArgument, "access list remove: at most %d hashes per call", MaxHashesPerCall)
	}
	for _, h := range hashes {
		delete(a.entries, h)
	}
	return nil
}

// Get reports membership of each requested hash.
func (a *AccessList) Get(hashes []string) map[string]bool {
	out := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		_, ok := a.entries[h]
		out[h] = ok
	}
	return out
}

// Clear empties the list.
func (a *AccessList) Clear() {
	a.entries = make(map[string]struct{})
}

// Len reports the current access_list_count.
func (a *AccessList) Len() int {
	return len(a.entries)
}

// List returns a cursor-paged, lexicographically stable page of entries.
// cursor is the last hash seen by the caller ("" for the first page); the
// returned next cursor is "" once the list is exhausted.
func (a *AccessList) List(cursor string, pageSize int) (page []string, next string) {
	if pageSize <= 0 {
		pageSize = 100
	}
	all := make([]string, 0, len(a.entries))
	for h := range a.entries {
		all = append(all, h)
	}
	sort.Strings(all)

	start := 0
	if cursor != "" {
		start = sort.SearchStrings(all, cursor)
		if start < len(all) && all[start] == cursor {
			start++
		}
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	if start >= len(all) {
		return nil, ""
	}
	page = all[start:end]
	if end < len(all) {
		next = all[end-1]
	}
	return page, next
}
