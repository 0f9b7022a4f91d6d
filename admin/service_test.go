package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didcomm-mediator/atm/acl"
	"github.com/didcomm-mediator/atm/merrors"
	"github.com/didcomm-mediator/atm/store/memory"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return &Service{Accounts: NewMemoryStore(), Queue: memory.New(), Mode: acl.ModeExplicitDeny}
}

func rootAdmin(didHash string) Account {
	return Account{DIDHash: didHash, Type: AccountTypeRootAdmin, Flags: acl.Default()}
}

func TestAccountAdd_SelfEnroll_ExplicitDeny(t *testing.T) {
	s := newService(t)
	actor := Account{DIDHash: "alice-hash", Type: AccountTypeStandard}

	acct, err := s.AccountAdd(context.Background(), actor, "alice-hash", nil)
	require.NoError(t, err)
	assert.Equal(t, AccountTypeStandard, acct.Type)

	acct2, err := s.AccountAdd(context.Background(), actor, "alice-hash", nil)
	require.NoError(t, err)
	assert.Equal(t, acct.DIDHash, acct2.DIDHash)
}

func TestAccountAdd_SelfEnroll_RejectsOtherDID(t *testing.T) {
	s := newService(t)
	actor := Account{DIDHash: "alice-hash", Type: AccountTypeStandard}

	_, err := s.AccountAdd(context.Background(), actor, "bob-hash", nil)
	require.Error(t, err)
	assert.Equal(t, merrors.Unauthorized, merrors.KindOf(err))
}

func TestAccountAdd_ExplicitAllow_RequiresAdmin(t *testing.T) {
	s := newService(t)
	s.Mode = acl.ModeExplicitAllow
	standard := Account{DIDHash: "alice-hash", Type: AccountTypeStandard}

	_, err := s.AccountAdd(context.Background(), standard, "alice-hash", nil)
	require.Error(t, err)
	assert.Equal(t, merrors.Unauthorized, merrors.KindOf(err))

	admin := rootAdmin("root-hash")
	acct, err := s.AccountAdd(context.Background(), admin, "alice-hash", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice-hash", acct.DIDHash)
}

func TestAccountGet_SelfOrAdmin(t *testing.T) {
	s := newService(t)
	actor := Account{DIDHash: "alice-hash", Type: AccountTypeStandard}
	_, err := s.AccountAdd(context.Background(), actor, "alice-hash", nil)
	require.NoError(t, err)

	_, err = s.AccountGet(context.Background(), actor, "alice-hash")
	require.NoError(t, err)

	bob := Account{DIDHash: "bob-hash", Type: AccountTypeStandard}
	_, err = s.AccountGet(context.Background(), bob, "alice-hash")
	require.Error(t, err)
	assert.Equal(t, merrors.Unauthorized, merrors.KindOf(err))

	_, err = s.AccountGet(context.Background(), rootAdmin("root-hash"), "alice-hash")
	require.NoError(t, err)
}

func TestAccountRemove_RejectsMediatorAndRootAdmin(t *testing.T) {
	s := newService(t)
	mediatorAcct := Account{DIDHash: "mediator-hash", Type: AccountTypeMediator, Flags: acl.Default()}
	require.NoError(t, s.Accounts.Put(context.Background(), mediatorAcct))

	err := s.AccountRemove(context.Background(), rootAdmin("root-hash"), "mediator-hash", false)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidState, merrors.KindOf(err))
}

func TestAccountRemove_BlocksAndPurges(t *testing.T) {
	s := newService(t)
	actor := Account{DIDHash: "alice-hash", Type: AccountTypeStandard}
	_, err := s.AccountAdd(context.Background(), actor, "alice-hash", nil)
	require.NoError(t, err)

	err = s.AccountRemove(context.Background(), rootAdmin("root-hash"), "alice-hash", true)
	require.NoError(t, err)

	acct, ok, err := s.Accounts.Get(context.Background(), "alice-hash")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, acct.Blocked())
}

func TestAccountChangeType_RejectsImmutableTargets(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.Accounts.Put(context.Background(), Account{DIDHash: "root-2", Type: AccountTypeRootAdmin}))

	err := s.AccountChangeType(context.Background(), rootAdmin("root-hash"), "root-2", AccountTypeStandard)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidState, merrors.KindOf(err))
}

func TestAccountChangeQueueLimits_SelfRequiresFlag(t *testing.T) {
	s := newService(t)
	actor := Account{DIDHash: "alice-hash", Type: AccountTypeStandard}
	_, err := s.AccountAdd(context.Background(), actor, "alice-hash", nil)
	require.NoError(t, err)

	n := 50
	err = s.AccountChangeQueueLimits(context.Background(), actor, "alice-hash", &n, nil)
	require.Error(t, err)
	assert.Equal(t, merrors.Unauthorized, merrors.KindOf(err))

	err = s.AccountChangeQueueLimits(context.Background(), rootAdmin("root-hash"), "alice-hash", &n, nil)
	require.NoError(t, err)
	acct, _, err := s.Accounts.Get(context.Background(), "alice-hash")
	require.NoError(t, err)
	assert.Equal(t, 50, acct.SendQueueLimit)
}

func TestAdminAddStrip_RoundTrip(t *testing.T) {
	s := newService(t)
	actor := Account{DIDHash: "alice-hash", Type: AccountTypeStandard}
	_, err := s.AccountAdd(context.Background(), actor, "alice-hash", nil)
	require.NoError(t, err)

	root := rootAdmin("root-hash")
	require.NoError(t, s.AdminAdd(context.Background(), root, []string{"alice-hash"}))
	acct, _, err := s.Accounts.Get(context.Background(), "alice-hash")
	require.NoError(t, err)
	assert.Equal(t, AccountTypeAdmin, acct.Type)

	require.NoError(t, s.AdminStrip(context.Background(), root, []string{"alice-hash"}))
	acct, _, err = s.Accounts.Get(context.Background(), "alice-hash")
	require.NoError(t, err)
	assert.Equal(t, AccountTypeStandard, acct.Type)
}

func TestAdminAdd_BatchLimit(t *testing.T) {
	s := newService(t)
	hashes := make([]string, MaxBatch+1)
	for i := range hashes {
		hashes[i] = "h"
	}
	err := s.AdminAdd(context.Background(), rootAdmin("root-hash"), hashes)
	require.Error(t, err)
	assert.Equal(t, merrors.IllegalArgument, merrors.KindOf(err))
}

func TestAccountList_Pagination(t *testing.T) {
	s := newService(t)
	for _, h := range []string{"a", "b", "c"} {
		require.NoError(t, s.Accounts.Put(context.Background(), Account{DIDHash: h, Type: AccountTypeStandard}))
	}
	root := rootAdmin("root-hash")

	page1, cursor, err := s.AccountList(context.Background(), root, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.NotEmpty(t, cursor)

	page2, cursor2, err := s.AccountList(context.Background(), root, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Empty(t, cursor2)
}
