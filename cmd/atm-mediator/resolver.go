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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/didcomm-mediator/atm/config"
	"github.com/didcomm-mediator/atm/internal/logger"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/merrors"
)

const defaultResolverCleanupInterval = time.Minute

// httpResolver implements keyregistry.DocumentResolver against a Universal
// Resolver-shaped HTTP endpoint (the W3C DID Resolution result envelope:
// {didResolutionMetadata, didDocument, didDocumentMetadata}), the one
// network collaborator spec.md's DESIGN NOTES leaves external. A TTL cache
// and a bounded concurrency limiter mirror the cache+cleanup-goroutine
// shape session.Manager uses for its own background sweep, applied here to
// resolved documents instead of sessions.
type httpResolver struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	limiter chan struct{}
	logger  logger.Logger

	mu    sync.RWMutex
	cache map[string]cachedDocument

	stop chan struct{}
}

type cachedDocument struct {
	doc       *keyregistry.Document
	expiresAt time.Time
}

// newHTTPResolver builds a resolver from config.DIDResolverConfig. An empty
// Address disables the network fallback entirely: Resolve always fails
// DIDNotResolved, which is the correct behaviour for a deployment that only
// ever talks to DIDs this process already holds identity material for.
func newHTTPResolver(cfg config.DIDResolverConfig, log logger.Logger) *httpResolver {
	limit := cfg.NetworkLimit
	if limit <= 0 {
		limit = 1
	}
	r := &httpResolver{
		baseURL: cfg.Address,
		client:  &http.Client{Timeout: cfg.NetworkTimeout},
		ttl:     cfg.CacheTTL,
		limiter: make(chan struct{}, limit),
		logger:  log,
		cache:   make(map[string]cachedDocument, cfg.CacheCapacity),
		stop:    make(chan struct{}),
	}
	go r.runCleanup(cfg.CacheCapacity)
	return r
}

func (r *httpResolver) runCleanup(capacity int) {
	ticker := time.NewTicker(defaultResolverCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.evictExpired(now, capacity)
		}
	}
}

func (r *httpResolver) evictExpired(now time.Time, capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for did, entry := range r.cache {
		if now.After(entry.expiresAt) {
			delete(r.cache, did)
		}
	}
	if capacity > 0 {
		for did := range r.cache {
			if len(r.cache) <= capacity {
				break
			}
			delete(r.cache, did)
		}
	}
}

// Close stops the background cleanup goroutine.
func (r *httpResolver) Close() { close(r.stop) }

type didResolutionResult struct {
	DIDDocument *keyregistry.Document `json:"didDocument"`
}

// Resolve implements keyregistry.DocumentResolver.
func (r *httpResolver) Resolve(ctx context.Context, did string) (*keyregistry.Document, error) {
	if doc, ok := r.fromCache(did); ok {
		return doc, nil
	}
	if r.baseURL == "" {
		return nil, merrors.New(merrors.DIDNotResolved, "resolver: no network resolver configured for %s", did)
	}

	select {
	case r.limiter <- struct{}{}:
		defer func() { <-r.limiter }()
	case <-ctx.Done():
		return nil, merrors.Wrap(merrors.DIDNotResolved, ctx.Err(), "resolver: %s", did)
	}

	endpoint := fmt.Sprintf("%s/1.0/identifiers/%s", r.baseURL, url.PathEscape(did))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, merrors.Wrap(merrors.DIDNotResolved, err, "resolver: build request for %s", did)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, merrors.Wrap(merrors.DIDNotResolved, err, "resolver: fetch %s", did)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, merrors.New(merrors.DIDNotResolved, "resolver: %s returned %d", did, resp.StatusCode)
	}

	var result didResolutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.DIDDocument == nil {
		return nil, merrors.Wrap(merrors.DIDNotResolved, err, "resolver: decode document for %s", did)
	}

	r.toCache(did, result.DIDDocument)
	return result.DIDDocument, nil
}

func (r *httpResolver) fromCache(did string) (*keyregistry.Document, bool) {
	if r.ttl <= 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[did]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.doc, true
}

func (r *httpResolver) toCache(did string, doc *keyregistry.Document) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[did] = cachedDocument{doc: doc, expiresAt: time.Now().Add(r.ttl)}
}

// selfResolver answers resolution of the mediator's own DID from its
// locally loaded identity, delegating everything else to fallback. This
// mediator never publishes or registers its own DID document (see
// DESIGN.md); it only needs to resolve it for its own pack()/unpack()
// calls, which otherwise would round-trip to the network for no reason.
type selfResolver struct {
	selfDID  string
	selfDoc  *keyregistry.Document
	fallback keyregistry.DocumentResolver
}

func (r *selfResolver) Resolve(ctx context.Context, did string) (*keyregistry.Document, error) {
	if did == r.selfDID {
		return r.selfDoc, nil
	}
	return r.fallback.Resolve(ctx, did)
}
