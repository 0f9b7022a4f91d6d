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

// Mode is the mediator-wide authentication policy.
type Mode string

const (
	ModeExplicitAllow Mode = "explicit_allow"
	ModeExplicitDeny  Mode = "explicit_deny"
)

// Decision is the outcome of a check_access gate consultation.
type Decision struct {
	Allowed bool
	Reason  string
}

var allowed = Decision{Allowed: true}

func denied(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Account is the subset of per-DID account state the gate needs: its own
// ACL flags plus the access list belonging to the recipient being checked.
type Account struct {
	DIDHash    string
	Flags      Set
	AccessList *AccessList
}

// CheckAccess decides whether from is allowed to reach to, consulted before
// every store, before every forward accept, and before every live-stream
// publish.
func CheckAccess(from, to *Account) Decision {
	if to.Flags.Get(FlagBlocked) {
		return denied("recipient is blocked")
	}

	switch {
	case to.Flags.Get(FlagAccessListModeExplicitAllow):
		if to.AccessList == nil || !to.AccessList.Get([]string{from.DIDHash})[from.DIDHash] {
			return denied("sender not present on recipient's allow-list")
		}
	case to.Flags.Get(FlagAccessListModeExplicitDeny):
		if to.AccessList != nil && to.AccessList.Get([]string{from.DIDHash})[from.DIDHash] {
			return denied("sender present on recipient's block-list")
		}
	}

	return allowed
}

// CheckAuthentication decides whether did may authenticate at all, given
// the mediator-wide Mode and whether an explicit account record already
// exists for it.
func CheckAuthentication(mode Mode, accountExists bool, flags Set) Decision {
	if accountExists && flags.Get(FlagBlocked) {
		return denied("account is blocked")
	}
	if mode == ModeExplicitAllow && !accountExists {
		return denied("DID has no admin-created account under explicit_allow mode")
	}
	return allowed
}
