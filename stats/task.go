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

// Package stats implements spec.md §4.11's Statistics background task: a
// once-a-minute wakeup that snapshots internal/metrics.Collector, emits the
// snapshot and its delta against the previous tick, and the HTTP surface
// (Prometheus /metrics, a JSON /stats snapshot, and a health readiness
// endpoint) an operator scrapes it through.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/didcomm-mediator/atm/internal/logger"
	"github.com/didcomm-mediator/atm/internal/metrics"
	"github.com/didcomm-mediator/atm/store"
)

const defaultInterval = time.Minute

// Task wakes every Interval (default one minute) to pull the mediator's
// current bytes_stored (and, when DIDCount is set, did_count) into the
// shared internal/metrics.Collector and log the tick alongside its delta
// from the previous one. The tick does not read a message count:
// message_count is logged as whatever the Collector holds, which stays 0
// unless another caller sets it.
type Task struct {
	Collector *metrics.Collector
	Queue     store.QueueStore
	DIDCount  func(ctx context.Context) (int64, error)
	Interval  time.Duration
	Logger    logger.Logger

	mu   sync.Mutex
	prev metrics.Snapshot
}

func (t *Task) interval() time.Duration {
	if t.Interval > 0 {
		return t.Interval
	}
	return defaultInterval
}

func (t *Task) log() logger.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logger.GetDefaultLogger()
}

// Run blocks, ticking until ctx is cancelled. Intended to run on its own
// goroutine for the lifetime of the mediator process.
func (t *Task) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Task) tick(ctx context.Context) {
	bytesStored, err := t.Queue.BytesStored(ctx)
	if err != nil {
		t.log().Warn("stats: read bytes_stored failed", logger.Error(err))
		return
	}
	t.Collector.SetBytesStored(bytesStored)

	if t.DIDCount != nil {
		didCount, err := t.DIDCount(ctx)
		if err != nil {
			t.log().Warn("stats: read did_count failed", logger.Error(err))
		} else {
			t.Collector.SetDIDCount(didCount)
		}
	}

	metrics.BytesStored.Set(float64(bytesStored))

	t.mu.Lock()
	prev := t.prev
	cur, delta := t.Collector.DeltaSince(prev)
	t.prev = cur
	t.mu.Unlock()

	t.log().Info("stats tick",
		logger.Int("bytes_stored", int(cur.BytesStored)),
		logger.Int("message_count", int(cur.MessageCount)),
		logger.Int("did_count", int(cur.DIDCount)),
		logger.Int("delta_bytes_stored", int(delta.BytesStored)),
		logger.Int("delta_message_count", int(delta.MessageCount)),
		logger.Int("delta_did_count", int(delta.DIDCount)),
	)
}

// Snapshot returns the most recently recorded tick, for the /stats HTTP
// handler to serve without waiting on the next tick.
func (t *Task) Snapshot() metrics.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prev
}
