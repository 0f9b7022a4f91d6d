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

package metrics

import (
	"sync"
	"time"
)

// Collector accumulates the rolling counters the Statistics background task
// reports every minute. It is intentionally separate from the Prometheus
// registry in server.go: Prometheus is scraped externally, this snapshot is
// logged and diffed against the previous tick.
type Collector struct {
	mu sync.RWMutex

	BytesStored   int64
	MessageCount  int64
	DIDCount      int64
	ForwardHops   int64
	ACLDenials    int64
	CryptoOps     int64

	startTime time.Time
}

// NewCollector creates a new rolling-window collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time copy of the collector's counters.
type Snapshot struct {
	Timestamp    time.Time
	Uptime       time.Duration
	BytesStored  int64
	MessageCount int64
	DIDCount     int64
	ForwardHops  int64
	ACLDenials   int64
	CryptoOps    int64
}

// Delta is the difference between two snapshots.
type Delta struct {
	BytesStored  int64
	MessageCount int64
	DIDCount     int64
}

func (c *Collector) SetBytesStored(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BytesStored = v
}

func (c *Collector) SetMessageCount(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MessageCount = v
}

func (c *Collector) SetDIDCount(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DIDCount = v
}

func (c *Collector) IncForwardHops() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ForwardHops++
}

func (c *Collector) IncACLDenials() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ACLDenials++
}

func (c *Collector) AddCryptoOps(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CryptoOps += int64(n)
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Timestamp:    time.Now(),
		Uptime:       time.Since(c.startTime),
		BytesStored:  c.BytesStored,
		MessageCount: c.MessageCount,
		DIDCount:     c.DIDCount,
		ForwardHops:  c.ForwardHops,
		ACLDenials:   c.ACLDenials,
		CryptoOps:    c.CryptoOps,
	}
}

// DeltaSince computes the Delta between prev and the current snapshot.
func (c *Collector) DeltaSince(prev Snapshot) (Snapshot, Delta) {
	cur := c.Snapshot()
	return cur, Delta{
		BytesStored:  cur.BytesStored - prev.BytesStored,
		MessageCount: cur.MessageCount - prev.MessageCount,
		DIDCount:     cur.DIDCount - prev.DIDCount,
	}
}
