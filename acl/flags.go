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

// Package acl implements the per-DID packed-bitset ACL flags, the
// mediator-wide ACL mode, and the bounded access list each DID consults to
// allow or deny another DID from reaching it.
package acl

// Flag identifies one of the named ACL bits. Each flag occupies a pair of
// bit positions in a 64-bit ACLSet: a value bit and a "changeable by self"
// bit, so an account holder can be allowed to flip some flags on their own
// account (e.g. their own queue limit opt-in) while others stay admin-only.
type Flag uint

const (
	FlagBlocked Flag = iota
	FlagLocal
	FlagSendForwarded
	FlagReceiveForwarded
	FlagSelfManageSendQueueLimit
	FlagSelfManageReceiveQueueLimit
	FlagAccessListModeExplicitAllow
	FlagAccessListModeExplicitDeny
)

// bitsPerFlag is the value-bit/self-changeable-bit pair width.
const bitsPerFlag = 2

func valueBitPos(f Flag) uint { return uint(f) * bitsPerFlag }
func selfChangeBitPos(f Flag) uint { return uint(f)*bitsPerFlag + 1 }

// Set is the packed 64-bit ACL bitset stored per DID.
type Set uint64

func init() {
	// Computed rather than hand-encoded so the default stays correct if the
	// flag ordering above ever changes.
	defaultSet = Set(0).With(FlagLocal, true).With(FlagSendForwarded, true).With(FlagReceiveForwarded, true)
}

var defaultSet Set

// Default returns the global default ACL set for a lazily-created account.
func Default() Set { return defaultSet }

// Get reports whether flag's value bit is set.
func (s Set) Get(flag Flag) bool {
	return s&(1<<valueBitPos(flag)) != 0
}

// SelfChangeable reports whether the account owner may flip flag on their
// own account without admin privilege.
func (s Set) SelfChangeable(flag Flag) bool {
	return s&(1<<selfChangeBitPos(flag)) != 0
}

// With returns a copy of s with flag's value bit set to v.
func (s Set) With(flag Flag, v bool) Set {
	bit := Set(1) << valueBitPos(flag)
	if v {
		return s | bit
	}
	return s &^ bit
}

// WithSelfChangeable returns a copy of s with flag's self-changeable bit set to v.
func (s Set) WithSelfChangeable(flag Flag, v bool) Set {
	bit := Set(1) << selfChangeBitPos(flag)
	if v {
		return s | bit
	}
	return s &^ bit
}

// ApplySelfChange applies a self-requested flag change, honoring the
// self-changeable bit unless asAdmin overrides the restriction.
func (s Set) ApplySelfChange(flag Flag, v bool, asAdmin bool) (Set, bool) {
	if !asAdmin && !s.SelfChangeable(flag) {
		return s, false
	}
	return s.With(flag, v), true
}
