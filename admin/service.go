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

	"github.com/didcomm-mediator/atm/acl"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/didcomm-mediator/atm/store"
)

// MaxBatch bounds AdminAdd/AdminStrip's did_hash list, per spec.md's
// "≤100 per call".
const MaxBatch = 100

// MaxListLimit bounds AccountList's page size.
const MaxListLimit = 100

// Service implements spec.md §4.10's account-management and
// admin-management operation set.
type Service struct {
	Accounts    AccountStore
	Queue       store.QueueStore
	Mode        acl.Mode
	LocalMaxACL int // 0 uses acl.NewAccessList's default of 1000
}

func (s *Service) localMaxACL() int { return s.LocalMaxACL }

func (s *Service) get(ctx context.Context, didHash string) (Account, error) {
	acct, ok, err := s.Accounts.Get(ctx, didHash)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, merrors.New(merrors.IllegalArgument, "admin: no account for %s", didHash)
	}
	return acct, nil
}

func requireRole(actor Account, allowed ...AccountType) error {
	for _, t := range allowed {
		if actor.Type == t {
			return nil
		}
	}
	return merrors.New(merrors.Unauthorized, "admin: %s role required", actor.Type)
}

// AccountAdd creates targetDIDHash with the supplied ACL set (or the
// global default when acls is nil); a no-op if the account already
// exists. Under ModeExplicitAllow only an Admin/RootAdmin may create an
// account (for itself or another DID); otherwise any already-authenticated
// DID may create an account for itself.
func (s *Service) AccountAdd(ctx context.Context, actor Account, targetDIDHash string, acls *acl.Set) (Account, error) {
	if existing, ok, err := s.Accounts.Get(ctx, targetDIDHash); err != nil {
		return Account{}, err
	} else if ok {
		return existing, nil
	}

	if s.Mode == acl.ModeExplicitAllow {
		if err := requireRole(actor, AccountTypeAdmin, AccountTypeRootAdmin); err != nil {
			return Account{}, err
		}
	} else if actor.DIDHash != targetDIDHash {
		return Account{}, merrors.New(merrors.Unauthorized, "admin: may only self-enroll under explicit_deny mode")
	}

	acct := newAccount(targetDIDHash, s.localMaxACL())
	if acls != nil {
		acct.Flags = *acls
	}
	if err := s.Accounts.Put(ctx, acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// AccountGet returns targetDIDHash's account. The caller must be the
// account itself or an Admin/RootAdmin.
func (s *Service) AccountGet(ctx context.Context, actor Account, targetDIDHash string) (Account, error) {
	if actor.DIDHash != targetDIDHash {
		if err := requireRole(actor, AccountTypeAdmin, AccountTypeRootAdmin); err != nil {
			return Account{}, err
		}
	}
	return s.get(ctx, targetDIDHash)
}

// AccountList enumerates accounts in did_hash order. Admin-only.
func (s *Service) AccountList(ctx context.Context, actor Account, cursor string, limit int) ([]Account, string, error) {
	if err := requireRole(actor, AccountTypeAdmin, AccountTypeRootAdmin); err != nil {
		return nil, "", err
	}
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.Accounts.List(ctx, cursor, limit)
}

// AccountRemove blocks targetDIDHash, purges its inbox, optionally purges
// its outbox, and strips admin standing. Mediator and RootAdmin accounts
// can never be removed. Admin-only.
func (s *Service) AccountRemove(ctx context.Context, actor Account, targetDIDHash string, purgeOutbox bool) error {
	if err := requireRole(actor, AccountTypeAdmin, AccountTypeRootAdmin); err != nil {
		return err
	}
	target, err := s.get(ctx, targetDIDHash)
	if err != nil {
		return err
	}
	if target.Type == AccountTypeMediator || target.Type == AccountTypeRootAdmin {
		return merrors.New(merrors.InvalidState, "admin: cannot remove a %s account", target.Type)
	}

	target.Flags = target.Flags.With(acl.FlagBlocked, true)
	target.Type = AccountTypeStandard
	if err := s.Accounts.Put(ctx, target); err != nil {
		return err
	}

	if err := s.Queue.PurgeMessages(ctx, targetDIDHash, store.FolderInbox); err != nil {
		return err
	}
	if purgeOutbox {
		if err := s.Queue.PurgeMessages(ctx, targetDIDHash, store.FolderOutbox); err != nil {
			return err
		}
	}
	return nil
}

// AccountChangeType reassigns targetDIDHash's account_type. RootAdmin-only;
// RootAdmin and Mediator targets are immutable and reject the change.
func (s *Service) AccountChangeType(ctx context.Context, actor Account, targetDIDHash string, newType AccountType) error {
	if err := requireRole(actor, AccountTypeRootAdmin); err != nil {
		return err
	}
	target, err := s.get(ctx, targetDIDHash)
	if err != nil {
		return err
	}
	if target.Type == AccountTypeRootAdmin || target.Type == AccountTypeMediator {
		return merrors.New(merrors.InvalidState, "admin: %s accounts are immutable", target.Type)
	}
	target.Type = newType
	return s.Accounts.Put(ctx, target)
}

// AccountChangeQueueLimits sets targetDIDHash's send/receive queue limits.
// nil leaves a dimension unchanged; QueueLimitDefault (-2) resets it to
// the mediator default, QueueLimitUnlimited (-1) removes the cap entirely,
// and any other n >= 0 sets it literally. An Admin may change any
// account's limits; the account itself may only do so when the
// corresponding self-manage ACL flag is set.
func (s *Service) AccountChangeQueueLimits(ctx context.Context, actor Account, targetDIDHash string, send, receive *int) error {
	target, err := s.get(ctx, targetDIDHash)
	if err != nil {
		return err
	}
	isAdmin := actor.Type == AccountTypeAdmin || actor.Type == AccountTypeRootAdmin
	if actor.DIDHash != targetDIDHash && !isAdmin {
		return merrors.New(merrors.Unauthorized, "admin: must be the account owner or an admin")
	}
	if actor.DIDHash == targetDIDHash && !isAdmin {
		if send != nil && !target.Flags.Get(acl.FlagSelfManageSendQueueLimit) {
			return merrors.New(merrors.Unauthorized, "admin: self-management of the send queue limit is disabled")
		}
		if receive != nil && !target.Flags.Get(acl.FlagSelfManageReceiveQueueLimit) {
			return merrors.New(merrors.Unauthorized, "admin: self-management of the receive queue limit is disabled")
		}
	}
	if send != nil {
		if *send < QueueLimitDefault {
			return merrors.New(merrors.IllegalArgument, "admin: invalid send queue limit %d", *send)
		}
		target.SendQueueLimit = *send
	}
	if receive != nil {
		if *receive < QueueLimitDefault {
			return merrors.New(merrors.IllegalArgument, "admin: invalid receive queue limit %d", *receive)
		}
		target.ReceiveQueueLimit = *receive
	}
	return s.Accounts.Put(ctx, target)
}

// AdminAdd promotes up to MaxBatch accounts to Admin. RootAdmin-only;
// RootAdmin and Mediator targets are rejected.
func (s *Service) AdminAdd(ctx context.Context, actor Account, didHashes []string) error {
	return s.bulkSetAdmin(ctx, actor, didHashes, AccountTypeAdmin)
}

// AdminStrip demotes up to MaxBatch Admin accounts back to Standard.
// RootAdmin-only; RootAdmin and Mediator targets are rejected.
func (s *Service) AdminStrip(ctx context.Context, actor Account, didHashes []string) error {
	return s.bulkSetAdmin(ctx, actor, didHashes, AccountTypeStandard)
}

func (s *Service) bulkSetAdmin(ctx context.Context, actor Account, didHashes []string, newType AccountType) error {
	if err := requireRole(actor, AccountTypeRootAdmin); err != nil {
		return err
	}
	if len(didHashes) > MaxBatch {
		return merrors.New(merrors.IllegalArgument, "admin: at most %d did_hashes per call", MaxBatch)
	}
	for _, h := range didHashes {
		target, err := s.get(ctx, h)
		if err != nil {
			return err
		}
		if target.Type == AccountTypeRootAdmin || target.Type == AccountTypeMediator {
			return merrors.New(merrors.InvalidState, "admin: %s accounts are immutable", target.Type)
		}
		target.Type = newType
		if err := s.Accounts.Put(ctx, target); err != nil {
			return err
		}
	}
	return nil
}
