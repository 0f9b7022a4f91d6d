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

// Package store defines the QueueStore abstraction the mediator's INBOX/
// OUTBOX/MSG/EXPIRY logical schema is built on, and the memory/postgres
// implementations of it.
package store

import (
	"context"
	"time"
)

// Folder selects which per-DID queue an operation addresses.
type Folder string

const (
	FolderInbox  Folder = "inbox"
	FolderOutbox Folder = "outbox"
)

// DeletePolicy controls whether fetch_messages removes entries from the
// index as it reads them.
type DeletePolicy string

const (
	DeletePolicyKeep              DeletePolicy = "keep"
	DeletePolicyDeleteAfterFetch  DeletePolicy = "delete_after_fetch"
	DeletePolicyOnAcknowledge     DeletePolicy = "on_acknowledge"
)

// StoredMessage is one MSG(message_hash) record.
type StoredMessage struct {
	MessageHash string
	Bytes       []byte
	ExpiresUnix int64
	Recipient   string // did_hash
	Sender      string // did_hash, empty if anonymous
}

// QueueEntry is one (entry_id, message_hash) pointer from an INBOX stream
// or OUTBOX list, resolved with its message bytes for list_messages.
type QueueEntry struct {
	EntryID     string
	MessageHash string
	Bytes       []byte
}

// Status is the aggregated per-DID snapshot the pickup status-request returns.
type Status struct {
	MessageCount         int
	TotalBytes           int64
	NewestReceived       int64
	OldestReceived       int64
	LongestWaitedSeconds int64
	LiveDelivery         bool
}

// AccountCounters is the mutable queue-usage portion of an account record.
type AccountCounters struct {
	SendQueueBytes       int64
	SendQueueCount       int
	ReceiveQueueBytes    int64
	ReceiveQueueCount    int
	SendQueueLimit       int // -1 means unlimited
	ReceiveQueueLimit    int // -1 means unlimited
}

// StoreMessageParams carries the arguments to StoreMessage.
type StoreMessageParams struct {
	SenderHash    string // "" for anonymous
	RecipientHash string
	EnvelopeBytes []byte
	ExpiresUnix   int64
}

// FetchParams carries the arguments to FetchMessages.
type FetchParams struct {
	Limit        int
	DeletePolicy DeletePolicy
	StartID      string // "" means from the beginning
}

// QueueStore is the atomic persistence abstraction every mediator
// component reads and writes through. Every multi-key mutation is a single
// method call that commits or rolls back as one unit, the Go equivalent of
// the original Redis Lua function's atomicity.
type QueueStore interface {
	// StoreMessage writes one message atomically per spec.md's
	// store_message steps 1-6, returning the durable stream entry id.
	StoreMessage(ctx context.Context, p StoreMessageParams) (entryID string, err error)

	// ListMessages reads up to limit pointers from did_hash's folder,
	// optionally starting after fromID.
	ListMessages(ctx context.Context, didHash string, folder Folder, fromID string, limit int) ([]QueueEntry, error)

	// FetchMessages atomically reads up to p.Limit inbox envelopes for
	// did_hash, honoring p.DeletePolicy.
	FetchMessages(ctx context.Context, didHash string, p FetchParams) ([]QueueEntry, error)

	// MessagesReceived acknowledges delivery of the given entry ids,
	// decrementing counters and garbage-collecting MSG records with no
	// remaining reference.
	MessagesReceived(ctx context.Context, didHash string, entryIDs []string) error

	// Status returns did_hash's aggregated inbox snapshot.
	Status(ctx context.Context, didHash string) (Status, error)

	// PurgeMessages drops every entry (and, for inbox, the stream key
	// itself) in did_hash's folder, used by account_remove.
	PurgeMessages(ctx context.Context, didHash string, folder Folder) error

	// SweepExpired takes entries from EXPIRY with score <= now in batches
	// of at most batchSize, applying the MessagesReceived deletion path
	// to each, and returns how many it removed.
	SweepExpired(ctx context.Context, now time.Time, batchSize int) (int, error)

	// Counters returns did_hash's current account queue counters.
	Counters(ctx context.Context, didHash string) (AccountCounters, error)

	// BytesStored returns the global bytes_stored counter (for Statistics).
	BytesStored(ctx context.Context) (int64, error)

	// Close releases any underlying connection resources.
	Close() error
}
