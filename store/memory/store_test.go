package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didcomm-mediator/atm/store"
)

func TestStoreMessage_ListAndFetch(t *testing.T) {
	s := New()
	ctx := context.Background()

	entryID, err := s.StoreMessage(ctx, store.StoreMessageParams{
		SenderHash:    "alice",
		RecipientHash: "bob",
		EnvelopeBytes: []byte("hello"),
		ExpiresUnix:   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entryID)

	entries, err := s.ListMessages(ctx, "bob", store.FolderInbox, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("hello"), entries[0].Bytes)

	outbox, err := s.ListMessages(ctx, "alice", store.FolderOutbox, "", 10)
	require.NoError(t, err)
	require.Len(t, outbox, 1)

	fetched, err := s.FetchMessages(ctx, "bob", store.FetchParams{Limit: 10, DeletePolicy: store.DeletePolicyKeep})
	require.NoError(t, err)
	require.Len(t, fetched, 1)

	st, err := s.Status(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, st.MessageCount)
	assert.Equal(t, int64(len("hello")), st.TotalBytes)
}

func TestFetchMessages_DeleteAfterFetch(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.StoreMessage(ctx, store.StoreMessageParams{
		RecipientHash: "bob",
		EnvelopeBytes: []byte("m1"),
		ExpiresUnix:   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	fetched, err := s.FetchMessages(ctx, "bob", store.FetchParams{Limit: 10, DeletePolicy: store.DeletePolicyDeleteAfterFetch})
	require.NoError(t, err)
	require.Len(t, fetched, 1)

	st, err := s.Status(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, st.MessageCount)
}

func TestMessagesReceived_GarbageCollectsSharedMessage(t *testing.T) {
	s := New()
	ctx := context.Background()

	entryID, err := s.StoreMessage(ctx, store.StoreMessageParams{
		SenderHash:    "alice",
		RecipientHash: "bob",
		EnvelopeBytes: []byte("shared"),
		ExpiresUnix:   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	require.NoError(t, s.MessagesReceived(ctx, "bob", []string{entryID}))

	st, err := s.Status(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, st.MessageCount)

	// The outbox copy is a distinct reference and survives independently.
	outbox, err := s.ListMessages(ctx, "alice", store.FolderOutbox, "", 10)
	require.NoError(t, err)
	assert.Len(t, outbox, 1)
}

func TestPurgeMessages(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.StoreMessage(ctx, store.StoreMessageParams{
		RecipientHash: "bob",
		EnvelopeBytes: []byte("x"),
		ExpiresUnix:   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	require.NoError(t, s.PurgeMessages(ctx, "bob", store.FolderInbox))

	st, err := s.Status(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, st.MessageCount)
}

func TestSweepExpired(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.StoreMessage(ctx, store.StoreMessageParams{
		RecipientHash: "bob",
		EnvelopeBytes: []byte("expired"),
		ExpiresUnix:   time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)

	_, err = s.StoreMessage(ctx, store.StoreMessageParams{
		RecipientHash: "bob",
		EnvelopeBytes: []byte("fresh"),
		ExpiresUnix:   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	removed, err := s.SweepExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	st, err := s.Status(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, st.MessageCount)
}

func TestCounters(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.StoreMessage(ctx, store.StoreMessageParams{
		SenderHash:    "alice",
		RecipientHash: "bob",
		EnvelopeBytes: []byte("abcd"),
		ExpiresUnix:   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	bobCounters, err := s.Counters(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, bobCounters.ReceiveQueueCount)
	assert.Equal(t, int64(4), bobCounters.ReceiveQueueBytes)

	aliceCounters, err := s.Counters(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, aliceCounters.SendQueueCount)

	total, err := s.BytesStored(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}
