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

// Package postgres implements store.QueueStore atop a pgx/pgxpool connection
// pool, giving the mediator's INBOX/OUTBOX/MSG/EXPIRY logical schema a
// relational backing: one row per message in mediator_messages, one row per
// queue entry in mediator_queue_entries, and counters on mediator_accounts.
package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/didcomm-mediator/atm/store"
)

// Config holds the PostgreSQL connection configuration for the mediator
// queue store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	PoolSize int
}

var _ store.QueueStore = (*Store)(nil)

// Store implements store.QueueStore for PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool and verifies connectivity.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, poolSizeOrDefault(cfg.PoolSize),
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func poolSizeOrDefault(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}

// Close implements store.QueueStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func hashMessage(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// StoreMessage implements store.QueueStore as a single transaction writing
// mediator_messages, mediator_queue_entries (inbox and, if the sender is
// known, outbox) and the account counters together.
func (s *Store) StoreMessage(ctx context.Context, p store.StoreMessageParams) (string, error) {
	h := hashMessage(p.EnvelopeBytes)

	var entryID string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO mediator_messages (message_hash, envelope, expires_at, recipient_hash, sender_hash, ref_count)
			VALUES ($1, $2, to_timestamp($3), $4, $5, 1)
			ON CONFLICT (message_hash) DO UPDATE SET ref_count = mediator_messages.ref_count + 1
		`, h, p.EnvelopeBytes, p.ExpiresUnix, p.RecipientHash, nullableString(p.SenderHash))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO mediator_queue_entries (did_hash, folder, message_hash, expires_at)
			VALUES ($1, 'inbox', $2, to_timestamp($3))
			RETURNING entry_id
		`, p.RecipientHash, h, p.ExpiresUnix)
		if err := row.Scan(&entryID); err != nil {
			return fmt.Errorf("insert inbox entry: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO mediator_accounts (did_hash, receive_queue_count, receive_queue_bytes, send_queue_limit, receive_queue_limit)
			VALUES ($1, 1, $2, -1, -1)
			ON CONFLICT (did_hash) DO UPDATE SET
				receive_queue_count = mediator_accounts.receive_queue_count + 1,
				receive_queue_bytes = mediator_accounts.receive_queue_bytes + EXCLUDED.receive_queue_bytes
		`, p.RecipientHash, len(p.EnvelopeBytes)); err != nil {
			return fmt.Errorf("update recipient counters: %w", err)
		}

		if p.SenderHash != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO mediator_messages (message_hash, envelope, expires_at, recipient_hash, sender_hash, ref_count)
				VALUES ($1, $2, to_timestamp($3), $4, $5, 0)
				ON CONFLICT (message_hash) DO UPDATE SET ref_count = mediator_messages.ref_count + 1
			`, h, p.EnvelopeBytes, p.ExpiresUnix, p.RecipientHash, p.SenderHash); err != nil {
				return fmt.Errorf("bump message ref for outbox: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO mediator_queue_entries (did_hash, folder, message_hash, expires_at)
				VALUES ($1, 'outbox', $2, to_timestamp($3))
			`, p.SenderHash, h, p.ExpiresUnix); err != nil {
				return fmt.Errorf("insert outbox entry: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO mediator_accounts (did_hash, send_queue_count, send_queue_bytes, send_queue_limit, receive_queue_limit)
				VALUES ($1, 1, $2, -1, -1)
				ON CONFLICT (did_hash) DO UPDATE SET
					send_queue_count = mediator_accounts.send_queue_count + 1,
					send_queue_bytes = mediator_accounts.send_queue_bytes + EXCLUDED.send_queue_bytes
			`, p.SenderHash, len(p.EnvelopeBytes)); err != nil {
				return fmt.Errorf("update sender counters: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return "", err
	}
	return entryID, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ListMessages implements store.QueueStore.
func (s *Store) ListMessages(ctx context.Context, didHash string, folder store.Folder, fromID string, limit int) ([]store.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.entry_id, e.message_hash, m.envelope
		FROM mediator_queue_entries e
		JOIN mediator_messages m ON m.message_hash = e.message_hash
		WHERE e.did_hash = $1 AND e.folder = $2
		  AND ($3 = '' OR e.entry_id > $3)
		ORDER BY e.entry_id ASC
		LIMIT $4
	`, didHash, string(folder), fromID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// FetchMessages implements store.QueueStore, honoring DeletePolicyDeleteAfterFetch
// by removing the fetched rows (and garbage-collecting any message with no
// remaining reference) in the same transaction as the read.
func (s *Store) FetchMessages(ctx context.Context, didHash string, p store.FetchParams) ([]store.QueueEntry, error) {
	var out []store.QueueEntry
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT entry_id, message_hash
			FROM mediator_queue_entries
			WHERE did_hash = $1 AND folder = 'inbox'
			  AND ($2 = '' OR entry_id > $2)
			ORDER BY entry_id ASC
			LIMIT $3
		`, didHash, p.StartID, p.Limit)
		if err != nil {
			return fmt.Errorf("fetch messages query: %w", err)
		}
		type idHash struct{ id, hash string }
		var ids []idHash
		for rows.Next() {
			var ih idHash
			if err := rows.Scan(&ih.id, &ih.hash); err != nil {
				rows.Close()
				return fmt.Errorf("scan fetch row: %w", err)
			}
			ids = append(ids, ih)
		}
		rows.Close()
		if rerr := rows.Err(); rerr != nil {
			return rerr
		}

		for _, ih := range ids {
			var envelope []byte
			if err := tx.QueryRow(ctx, `SELECT envelope FROM mediator_messages WHERE message_hash = $1`, ih.hash).Scan(&envelope); err != nil {
				return fmt.Errorf("load envelope: %w", err)
			}
			out = append(out, store.QueueEntry{EntryID: ih.id, MessageHash: ih.hash, Bytes: envelope})

			if p.DeletePolicy == store.DeletePolicyDeleteAfterFetch {
				if err := deleteEntryTx(ctx, tx, didHash, store.FolderInbox, ih.id, ih.hash); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func deleteEntryTx(ctx context.Context, tx pgx.Tx, didHash string, folder store.Folder, entryID, messageHash string) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM mediator_queue_entries WHERE did_hash = $1 AND folder = $2 AND entry_id = $3
	`, didHash, string(folder), entryID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	field := "receive_queue_count"
	bytesField := "receive_queue_bytes"
	if folder == store.FolderOutbox {
		field, bytesField = "send_queue_count", "send_queue_bytes"
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE mediator_accounts SET %s = GREATEST(%s - 1, 0),
			%s = GREATEST(%s - (SELECT octet_length(envelope) FROM mediator_messages WHERE message_hash = $2), 0)
		WHERE did_hash = $1
	`, field, field, bytesField, bytesField), didHash, messageHash); err != nil {
		return fmt.Errorf("decrement counters: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE mediator_messages SET ref_count = ref_count - 1 WHERE message_hash = $1
	`, messageHash); err != nil {
		return fmt.Errorf("decrement message ref: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM mediator_messages WHERE message_hash = $1 AND ref_count <= 0
	`, messageHash); err != nil {
		return fmt.Errorf("gc message: %w", err)
	}
	return nil
}

// MessagesReceived implements store.QueueStore.
func (s *Store) MessagesReceived(ctx context.Context, didHash string, entryIDs []string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, id := range entryIDs {
			var messageHash string
			err := tx.QueryRow(ctx, `
				SELECT message_hash FROM mediator_queue_entries WHERE did_hash = $1 AND folder = 'inbox' AND entry_id = $2
			`, didHash, id).Scan(&messageHash)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("lookup entry: %w", err)
			}
			if err := deleteEntryTx(ctx, tx, didHash, store.FolderInbox, id, messageHash); err != nil {
				return err
			}
		}
		return nil
	})
}

// Status implements store.QueueStore.
func (s *Store) Status(ctx context.Context, didHash string) (store.Status, error) {
	var st store.Status
	var oldest, newest *int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(octet_length(m.envelope)), 0),
		       MIN(EXTRACT(EPOCH FROM m.expires_at))::bigint, MAX(EXTRACT(EPOCH FROM m.expires_at))::bigint
		FROM mediator_queue_entries e
		JOIN mediator_messages m ON m.message_hash = e.message_hash
		WHERE e.did_hash = $1 AND e.folder = 'inbox'
	`, didHash).Scan(&st.MessageCount, &st.TotalBytes, &oldest, &newest)
	if err != nil {
		return store.Status{}, fmt.Errorf("status query: %w", err)
	}
	if oldest != nil {
		st.OldestReceived = *oldest
	}
	if newest != nil {
		st.NewestReceived = *newest
	}
	return st, nil
}

// PurgeMessages implements store.QueueStore.
func (s *Store) PurgeMessages(ctx context.Context, didHash string, folder store.Folder) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT entry_id, message_hash FROM mediator_queue_entries WHERE did_hash = $1 AND folder = $2
		`, didHash, string(folder))
		if err != nil {
			return fmt.Errorf("purge query: %w", err)
		}
		type idHash struct{ id, hash string }
		var ids []idHash
		for rows.Next() {
			var ih idHash
			if err := rows.Scan(&ih.id, &ih.hash); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, ih)
		}
		rows.Close()
		if rerr := rows.Err(); rerr != nil {
			return rerr
		}
		for _, ih := range ids {
			if err := deleteEntryTx(ctx, tx, didHash, folder, ih.id, ih.hash); err != nil {
				return err
			}
		}
		return nil
	})
}

// SweepExpired implements store.QueueStore, batching the expired-entry scan
// and deletion inside one transaction per call.
func (s *Store) SweepExpired(ctx context.Context, now time.Time, batchSize int) (int, error) {
	removed := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT did_hash, folder, entry_id, message_hash
			FROM mediator_queue_entries
			WHERE expires_at <= to_timestamp($1)
			ORDER BY expires_at ASC
			LIMIT $2
		`, now.Unix(), batchSize)
		if err != nil {
			return fmt.Errorf("sweep query: %w", err)
		}
		type row struct{ didHash, folder, id, hash string }
		var due []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.didHash, &r.folder, &r.id, &r.hash); err != nil {
				rows.Close()
				return err
			}
			due = append(due, r)
		}
		rows.Close()
		if rerr := rows.Err(); rerr != nil {
			return rerr
		}
		for _, r := range due {
			if err := deleteEntryTx(ctx, tx, r.didHash, store.Folder(r.folder), r.id, r.hash); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Counters implements store.QueueStore.
func (s *Store) Counters(ctx context.Context, didHash string) (store.AccountCounters, error) {
	var c store.AccountCounters
	err := s.pool.QueryRow(ctx, `
		SELECT send_queue_bytes, send_queue_count, receive_queue_bytes, receive_queue_count, send_queue_limit, receive_queue_limit
		FROM mediator_accounts WHERE did_hash = $1
	`, didHash).Scan(&c.SendQueueBytes, &c.SendQueueCount, &c.ReceiveQueueBytes, &c.ReceiveQueueCount, &c.SendQueueLimit, &c.ReceiveQueueLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.AccountCounters{SendQueueLimit: -1, ReceiveQueueLimit: -1}, nil
	}
	if err != nil {
		return store.AccountCounters{}, fmt.Errorf("counters query: %w", err)
	}
	return c, nil
}

// BytesStored implements store.QueueStore.
func (s *Store) BytesStored(ctx context.Context) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(octet_length(envelope)), 0) FROM mediator_messages`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("bytes stored query: %w", err)
	}
	return total, nil
}

func scanQueueEntries(rows pgx.Rows) ([]store.QueueEntry, error) {
	var out []store.QueueEntry
	for rows.Next() {
		var qe store.QueueEntry
		if err := rows.Scan(&qe.EntryID, &qe.MessageHash, &qe.Bytes); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, qe)
	}
	return out, rows.Err()
}
