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

// Package memory implements store.QueueStore entirely in process memory, so
// the envelope, pickup and router packages can be exercised in tests
// without a running Postgres instance.
package memory

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/didcomm-mediator/atm/store"
)

type msgRecord struct {
	bytes     []byte
	expires   int64
	recipient string
	sender    string
	refs      int
}

type queueRecord struct {
	entries *list.List // of *entryRecord, oldest first
	byID    map[string]*list.Element
	seq     uint64
}

type entryRecord struct {
	id          string
	messageHash string
}

var _ store.QueueStore = (*Store)(nil)

// Store is an in-memory QueueStore. The zero value is not usable; use New.
type Store struct {
	mu     sync.Mutex
	msgs   map[string]*msgRecord          // message_hash -> record
	queues map[string]map[store.Folder]*queueRecord // did_hash -> folder -> queue
	expiry map[string]int64               // entry key "did_hash/folder/entry_id" -> expires_unix
	counters map[string]*store.AccountCounters
	bytesStored int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		msgs:     make(map[string]*msgRecord),
		queues:   make(map[string]map[store.Folder]*queueRecord),
		expiry:   make(map[string]int64),
		counters: make(map[string]*store.AccountCounters),
	}
}

func (s *Store) queueFor(didHash string, folder store.Folder) *queueRecord {
	byFolder, ok := s.queues[didHash]
	if !ok {
		byFolder = make(map[store.Folder]*queueRecord)
		s.queues[didHash] = byFolder
	}
	q, ok := byFolder[folder]
	if !ok {
		q = &queueRecord{entries: list.New(), byID: make(map[string]*list.Element)}
		byFolder[folder] = q
	}
	return q
}

func hashMessage(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s *Store) counterFor(didHash string) *store.AccountCounters {
	c, ok := s.counters[didHash]
	if !ok {
		c = &store.AccountCounters{SendQueueLimit: -1, ReceiveQueueLimit: -1}
		s.counters[didHash] = c
	}
	return c
}

// StoreMessage implements store.QueueStore. It is a single-unit mutation of
// MSG, the recipient's INBOX, the sender's OUTBOX, EXPIRY and the account
// counters, mirroring spec.md's store_message steps 1-6.
func (s *Store) StoreMessage(ctx context.Context, p store.StoreMessageParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := hashMessage(p.EnvelopeBytes)
	rec, exists := s.msgs[h]
	if !exists {
		rec = &msgRecord{
			bytes:     p.EnvelopeBytes,
			expires:   p.ExpiresUnix,
			recipient: p.RecipientHash,
			sender:    p.SenderHash,
		}
		s.msgs[h] = rec
		s.bytesStored += int64(len(p.EnvelopeBytes))
	}
	rec.refs++

	inbox := s.queueFor(p.RecipientHash, store.FolderInbox)
	inbox.seq++
	entryID := entryIDFromSeq(inbox.seq)
	el := inbox.entries.PushBack(&entryRecord{id: entryID, messageHash: h})
	inbox.byID[entryID] = el
	s.expiry[expiryKey(p.RecipientHash, store.FolderInbox, entryID)] = p.ExpiresUnix

	rc := s.counterFor(p.RecipientHash)
	rc.ReceiveQueueCount++
	rc.ReceiveQueueBytes += int64(len(p.EnvelopeBytes))

	if p.SenderHash != "" {
		outbox := s.queueFor(p.SenderHash, store.FolderOutbox)
		outbox.seq++
		outEntryID := entryIDFromSeq(outbox.seq)
		outEl := outbox.entries.PushBack(&entryRecord{id: outEntryID, messageHash: h})
		outbox.byID[outEntryID] = outEl
		rec.refs++

		sc := s.counterFor(p.SenderHash)
		sc.SendQueueCount++
		sc.SendQueueBytes += int64(len(p.EnvelopeBytes))
	}

	return entryID, nil
}

// ListMessages implements store.QueueStore.
func (s *Store) ListMessages(ctx context.Context, didHash string, folder store.Folder, fromID string, limit int) ([]store.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueFor(didHash, folder)
	out := make([]store.QueueEntry, 0, limit)
	started := fromID == ""
	for e := q.entries.Front(); e != nil && len(out) < limit; e = e.Next() {
		er := e.Value.(*entryRecord)
		if !started {
			if er.id == fromID {
				started = true
			}
			continue
		}
		rec := s.msgs[er.messageHash]
		var b []byte
		if rec != nil {
			b = rec.bytes
		}
		out = append(out, store.QueueEntry{EntryID: er.id, MessageHash: er.messageHash, Bytes: b})
	}
	return out, nil
}

// FetchMessages implements store.QueueStore.
func (s *Store) FetchMessages(ctx context.Context, didHash string, p store.FetchParams) ([]store.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueFor(didHash, store.FolderInbox)
	out := make([]store.QueueEntry, 0, p.Limit)
	started := p.StartID == ""
	var toDelete []*list.Element
	for e := q.entries.Front(); e != nil && len(out) < p.Limit; e = e.Next() {
		er := e.Value.(*entryRecord)
		if !started {
			if er.id == p.StartID {
				started = true
			}
			continue
		}
		rec := s.msgs[er.messageHash]
		var b []byte
		if rec != nil {
			b = rec.bytes
		}
		out = append(out, store.QueueEntry{EntryID: er.id, MessageHash: er.messageHash, Bytes: b})
		if p.DeletePolicy == store.DeletePolicyDeleteAfterFetch {
			toDelete = append(toDelete, e)
		}
	}
	for _, e := range toDelete {
		s.removeEntryLocked(didHash, store.FolderInbox, q, e)
	}
	return out, nil
}

// removeEntryLocked drops one queue entry and, if its message record has no
// remaining reference, the MSG record itself. Caller must hold s.mu.
func (s *Store) removeEntryLocked(didHash string, folder store.Folder, q *queueRecord, e *list.Element) {
	er := e.Value.(*entryRecord)
	q.entries.Remove(e)
	delete(q.byID, er.id)
	delete(s.expiry, expiryKey(didHash, folder, er.id))

	var size int64
	if rec, ok := s.msgs[er.messageHash]; ok {
		size = int64(len(rec.bytes))
		rec.refs--
		if rec.refs <= 0 {
			s.bytesStored -= int64(len(rec.bytes))
			delete(s.msgs, er.messageHash)
		}
	}

	c := s.counterFor(didHash)
	if folder == store.FolderInbox {
		c.ReceiveQueueCount--
		c.ReceiveQueueBytes -= size
	} else {
		c.SendQueueCount--
		c.SendQueueBytes -= size
	}
}

// MessagesReceived implements store.QueueStore.
func (s *Store) MessagesReceived(ctx context.Context, didHash string, entryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueFor(didHash, store.FolderInbox)
	for _, id := range entryIDs {
		if el, ok := q.byID[id]; ok {
			s.removeEntryLocked(didHash, store.FolderInbox, q, el)
		}
	}
	return nil
}

// Status implements store.QueueStore.
func (s *Store) Status(ctx context.Context, didHash string) (store.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueFor(didHash, store.FolderInbox)
	var st store.Status
	now := time.Now().Unix()
	for e := q.entries.Front(); e != nil; e = e.Next() {
		er := e.Value.(*entryRecord)
		rec := s.msgs[er.messageHash]
		if rec == nil {
			continue
		}
		st.MessageCount++
		st.TotalBytes += int64(len(rec.bytes))
		if st.OldestReceived == 0 || rec.expires < st.OldestReceived {
			st.OldestReceived = rec.expires
		}
		if rec.expires > st.NewestReceived {
			st.NewestReceived = rec.expires
		}
	}
	if st.MessageCount > 0 && st.OldestReceived > 0 {
		st.LongestWaitedSeconds = now - st.OldestReceived
		if st.LongestWaitedSeconds < 0 {
			st.LongestWaitedSeconds = 0
		}
	}
	return st, nil
}

// PurgeMessages implements store.QueueStore.
func (s *Store) PurgeMessages(ctx context.Context, didHash string, folder store.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueFor(didHash, folder)
	for e := q.entries.Front(); e != nil; {
		next := e.Next()
		s.removeEntryLocked(didHash, folder, q, e)
		e = next
	}
	delete(s.queues[didHash], folder)
	return nil
}

type expiringEntry struct {
	didHash string
	folder  store.Folder
	entryID string
	expires int64
}

// SweepExpired implements store.QueueStore.
func (s *Store) SweepExpired(ctx context.Context, now time.Time, batchSize int) (int, error) {
	s.mu.Lock()

	due := make([]expiringEntry, 0, batchSize)
	nowUnix := now.Unix()
	for key, expires := range s.expiry {
		if expires > nowUnix {
			continue
		}
		didHash, folder, entryID, ok := parseExpiryKey(key)
		if !ok {
			continue
		}
		due = append(due, expiringEntry{didHash: didHash, folder: folder, entryID: entryID, expires: expires})
		if len(due) >= batchSize {
			break
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].expires < due[j].expires })

	removed := 0
	for _, d := range due {
		q := s.queueFor(d.didHash, d.folder)
		if el, ok := q.byID[d.entryID]; ok {
			s.removeEntryLocked(d.didHash, d.folder, q, el)
			removed++
		}
	}
	s.mu.Unlock()
	return removed, nil
}

// Counters implements store.QueueStore.
func (s *Store) Counters(ctx context.Context, didHash string) (store.AccountCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.counterFor(didHash), nil
}

// BytesStored implements store.QueueStore.
func (s *Store) BytesStored(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesStored, nil
}

// Close implements store.QueueStore. The in-memory store holds no external
// resources; Close always succeeds.
func (s *Store) Close() error { return nil }

func entryIDFromSeq(seq uint64) string {
	return hex.EncodeToString([]byte{
		byte(seq >> 56), byte(seq >> 48), byte(seq >> 40), byte(seq >> 32),
		byte(seq >> 24), byte(seq >> 16), byte(seq >> 8), byte(seq),
	})
}

func expiryKey(didHash string, folder store.Folder, entryID string) string {
	return didHash + "/" + string(folder) + "/" + entryID
}

func parseExpiryKey(key string) (didHash string, folder store.Folder, entryID string, ok bool) {
	// didHash values are hex digests and never contain '/', so a naive
	// three-way split on the last two separators is safe here.
	first := indexByte(key, '/')
	if first < 0 {
		return "", "", "", false
	}
	rest := key[first+1:]
	second := indexByte(rest, '/')
	if second < 0 {
		return "", "", "", false
	}
	return key[:first], store.Folder(rest[:second]), rest[second+1:], true
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
