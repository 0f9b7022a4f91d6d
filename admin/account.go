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

// Package admin implements spec.md §4.10's AdminPlane: the account
// registry (account_type, ACL flags, queue limits) and the
// account-management/admin-management operation set that mutates it
// under role and ACL enforcement.
package admin

import "github.com/didcomm-mediator/atm/acl"

// AccountType classifies a DID's administrative standing. It is
// immutable once set to RootAdmin or Mediator: no operation in this
// package ever transitions an account away from either.
type AccountType string

const (
	AccountTypeStandard  AccountType = "Standard"
	AccountTypeAdmin     AccountType = "Admin"
	AccountTypeRootAdmin AccountType = "RootAdmin"
	AccountTypeMediator  AccountType = "Mediator"
)

// QueueLimitDefault and QueueLimitUnlimited are the two sentinel values
// AccountChangeQueueLimits accepts instead of a literal non-negative limit.
const (
	QueueLimitDefault   = -2
	QueueLimitUnlimited = -1
)

// Account is the full per-DID admin-plane record: acl's packed flags plus
// the account-level fields acl.Account doesn't carry (account_type, queue
// limits, the bounded access list). acl.Account remains the lean view
// CheckAccess/CheckAuthentication consult on the hot envelope-processing
// path; Account is the admin-plane's richer, persisted superset.
type Account struct {
	DIDHash           string
	Type              AccountType
	Flags             acl.Set
	AccessList        *acl.AccessList
	SendQueueLimit    int // -2 mediator default; -1 unlimited; a non-negative literal otherwise
	ReceiveQueueLimit int
}

// Blocked reports whether the account's FlagBlocked bit is set.
func (a Account) Blocked() bool { return a.Flags.Get(acl.FlagBlocked) }

// ACLAccount narrows Account to the subset acl.CheckAccess/
// CheckAuthentication need.
func (a Account) ACLAccount() *acl.Account {
	return &acl.Account{DIDHash: a.DIDHash, Flags: a.Flags, AccessList: a.AccessList}
}

// newAccount builds a freshly-enrolled Standard account with the global
// default ACL set and an empty access list.
func newAccount(didHash string, localMaxACL int) Account {
	return Account{
		DIDHash:           didHash,
		Type:              AccountTypeStandard,
		Flags:             acl.Default(),
		AccessList:        acl.NewAccessList(localMaxACL),
		SendQueueLimit:    QueueLimitDefault,
		ReceiveQueueLimit: QueueLimitDefault,
	}
}
