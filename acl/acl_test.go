package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_GetWith(t *testing.T) {
	var s Set
	assert.False(t, s.Get(FlagBlocked))

	s = s.With(FlagBlocked, true)
	assert.True(t, s.Get(FlagBlocked))
	assert.False(t, s.Get(FlagLocal))

	s = s.With(FlagBlocked, false)
	assert.False(t, s.Get(FlagBlocked))
}

func TestSet_SelfChangeable(t *testing.T) {
	var s Set
	assert.False(t, s.SelfChangeable(FlagSelfManageSendQueueLimit))

	s = s.WithSelfChangeable(FlagSelfManageSendQueueLimit, true)
	assert.True(t, s.SelfChangeable(FlagSelfManageSendQueueLimit))

	updated, ok := s.ApplySelfChange(FlagSelfManageSendQueueLimit, true, false)
	assert.True(t, ok)
	assert.True(t, updated.Get(FlagSelfManageSendQueueLimit))

	_, ok = s.ApplySelfChange(FlagSelfManageReceiveQueueLimit, true, false)
	assert.False(t, ok, "not self-changeable without admin override")

	updated, ok = s.ApplySelfChange(FlagSelfManageReceiveQueueLimit, true, true)
	assert.True(t, ok, "admin override bypasses self-changeable bit")
	assert.True(t, updated.Get(FlagSelfManageReceiveQueueLimit))
}

func TestDefault(t *testing.T) {
	d := Default()
	assert.False(t, d.Get(FlagBlocked))
	assert.True(t, d.Get(FlagLocal))
	assert.True(t, d.Get(FlagSendForwarded))
	assert.True(t, d.Get(FlagReceiveForwarded))
}

func TestAccessList_AddRemoveGet(t *testing.T) {
	al := NewAccessList(3)

	truncated, err := al.Add([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, 3, al.Len())

	truncated, err = al.Add([]string{"d"})
	require.NoError(t, err)
	assert.True(t, truncated, "list already at limit")

	membership := al.Get([]string{"a", "d"})
	assert.True(t, membership["a"])
	assert.False(t, membership["d"])

	require.NoError(t, al.Remove([]string{"a"}))
	assert.Equal(t, 2, al.Len())
}

func TestAccessList_BatchLimit(t *testing.T) {
	al := NewAccessList(0)
	big := make([]string, MaxHashesPerCall+1)
	_, err := al.Add(big)
	require.Error(t, err)
}

func TestAccessList_Pagination(t *testing.T) {
	al := NewAccessList(0)
	hashes := []string{"c", "a", "b", "e", "d"}
	_, err := al.Add(hashes)
	require.NoError(t, err)

	page, next := al.List("", 2)
	assert.Equal(t, []string{"a", "b"}, page)
	assert.Equal(t, "b", next)

	page2, next2 := al.List(next, 2)
	assert.Equal(t, []string{"c", "d"}, page2)
	assert.Equal(t, "d", next2)

	page3, next3 := al.List(next2, 2)
	assert.Equal(t, []string{"e"}, page3)
	assert.Equal(t, "", next3)
}

func TestCheckAccess_Blocked(t *testing.T) {
	to := &Account{DIDHash: "to", Flags: Set(0).With(FlagBlocked, true)}
	from := &Account{DIDHash: "from"}

	d := CheckAccess(from, to)
	assert.False(t, d.Allowed)
}

func TestCheckAccess_AllowListMode(t *testing.T) {
	al := NewAccessList(0)
	_, _ = al.Add([]string{"from-hash"})
	to := &Account{DIDHash: "to", Flags: Set(0).With(FlagAccessListModeExplicitAllow, true), AccessList: al}

	allowed := CheckAccess(&Account{DIDHash: "from-hash"}, to)
	assert.True(t, allowed.Allowed)

	denied := CheckAccess(&Account{DIDHash: "not-listed"}, to)
	assert.False(t, denied.Allowed)
}

func TestCheckAccess_BlockListMode(t *testing.T) {
	al := NewAccessList(0)
	_, _ = al.Add([]string{"blocked-hash"})
	to := &Account{DIDHash: "to", Flags: Set(0).With(FlagAccessListModeExplicitDeny, true), AccessList: al}

	d := CheckAccess(&Account{DIDHash: "blocked-hash"}, to)
	assert.False(t, d.Allowed)

	d = CheckAccess(&Account{DIDHash: "anyone-else"}, to)
	assert.True(t, d.Allowed)
}

func TestCheckAuthentication(t *testing.T) {
	d := CheckAuthentication(ModeExplicitAllow, false, Set(0))
	assert.False(t, d.Allowed)

	d = CheckAuthentication(ModeExplicitDeny, false, Set(0))
	assert.True(t, d.Allowed)

	d = CheckAuthentication(ModeExplicitDeny, true, Set(0).With(FlagBlocked, true))
	assert.False(t, d.Allowed)
}
