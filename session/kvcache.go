/*
 * Copyright 2023 Comcast Cable Communications Management, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-run/vaultagent/metrics"
	"github.com/outpost-run/vaultagent/vaulterr"
)

// kvEntry is the KVCacheEntry of spec §3: the inner secret payload, its
// server-reported version, and the last time a refresh completed.
type kvEntry struct {
	Data          map[string]interface{}
	Version       int
	LastRefresh   time.Time
	everRefreshed bool
}

// kvCache is the KV v2 cache of spec §4.3. Per the resolved Open Question in
// spec §9, the cache is always considered stale: every refresh tick performs
// an unconditional read against Vault rather than skipping based on a
// locally tracked freshness window, unlike the dynamic database cache.
type kvCache struct {
	s    *Session
	path string

	mu    sync.RWMutex
	entry kvEntry
}

func newKVCache(s *Session, path string) *kvCache {
	return &kvCache{s: s, path: path}
}

// Refresh performs one unconditional KV read. Per spec §4.3 step 3, the
// cached document is only replaced when the server-reported version differs
// from the cached one (or the cache is empty); otherwise the existing
// document is retained by identity. LastRefresh always advances on success.
func (c *kvCache) Refresh(ctx context.Context) error {
	rec := c.s.snapshotToken()
	secret, err := c.s.client.KVRead(ctx, rec.Token, c.path)
	if err != nil {
		metrics.DomainRefreshes.WithLabelValues("kv", metrics.OutcomeFailure).Inc()
		return err
	}
	metrics.DomainRefreshes.WithLabelValues("kv", metrics.OutcomeSuccess).Inc()
	metrics.CacheAgeSeconds.WithLabelValues("kv").Set(0)

	c.mu.Lock()
	versionChanged := !c.entry.everRefreshed || c.entry.Version != secret.Version
	if versionChanged {
		c.entry.Data = secret.Data
		c.entry.Version = secret.Version
	}
	c.entry.LastRefresh = c.s.now()
	c.entry.everRefreshed = true
	c.mu.Unlock()

	log := zap.L()
	if versionChanged {
		log.Info("kv secret refreshed", zap.Int("version", secret.Version))
	} else {
		log.Debug("kv secret refreshed, version unchanged", zap.Int("version", secret.Version))
	}
	return nil
}

// Get returns the cached KV document, refreshing first since the KV cache is
// always considered stale on read (spec §4.3's staleness policy). If the
// refresh fails and no prior document exists, it fails with Unavailable; if
// a prior document exists, the stale document is returned instead of the
// refresh error.
func (c *kvCache) Get(ctx context.Context) (map[string]interface{}, int, error) {
	refreshErr := c.Refresh(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.entry.everRefreshed {
		if refreshErr == nil {
			refreshErr = fmt.Errorf("kv cache has not completed an initial refresh")
		}
		return nil, 0, vaulterr.New(vaulterr.Unavailable, "kv_get", refreshErr)
	}
	return c.entry.Data, c.entry.Version, nil
}

// KVGet is the public session-level accessor used by the foreground
// consumer and any other caller, guarding on Login having completed.
func (s *Session) KVGet(ctx context.Context) (map[string]interface{}, int, error) {
	if err := s.requireReady("kv_get"); err != nil {
		return nil, 0, err
	}
	if s.kv == nil {
		return nil, 0, vaulterr.New(vaulterr.Config, "kv_get", fmt.Errorf("kv domain is not enabled"))
	}
	return s.kv.Get(ctx)
}

// RefreshKV drives one KV refresh tick; called by the scheduler's KV worker.
func (s *Session) RefreshKV(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	return s.kv.Refresh(ctx)
}
