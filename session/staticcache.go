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

// staticEntry is the StaticDBCacheEntry of spec §3: Vault rotates the
// underlying database credentials on its own schedule, so this cache only
// needs the payload and the time it was last pulled.
type staticEntry struct {
	Data          map[string]interface{}
	LastRefresh   time.Time
	everRefreshed bool
}

// staticStaleAfter is the hard refresh interval of spec §4.5's staleness
// policy: static credentials rotate on a service-owned schedule orders of
// magnitude slower than dynamic ones, so a five-minute read-side floor is
// enough to avoid ever serving indefinitely stale data between worker ticks.
const staticStaleAfter = 300 * time.Second

// staticCache is the static database credentials cache of spec §4.5: a
// plain periodic refresh on roughly twice the KV refresh interval, with no
// lease-TTL bookkeeping since Vault owns the rotation schedule.
type staticCache struct {
	s    *Session
	path string

	mu    sync.RWMutex
	entry staticEntry
}

func newStaticCache(s *Session, path string) *staticCache {
	return &staticCache{s: s, path: path}
}

// Refresh performs one unconditional static credentials read and replaces
// the cached entry.
func (c *staticCache) Refresh(ctx context.Context) error {
	rec := c.s.snapshotToken()
	secret, err := c.s.client.StaticRead(ctx, rec.Token, c.path)
	if err != nil {
		metrics.DomainRefreshes.WithLabelValues("static_db", metrics.OutcomeFailure).Inc()
		return err
	}
	metrics.DomainRefreshes.WithLabelValues("static_db", metrics.OutcomeSuccess).Inc()
	metrics.CacheAgeSeconds.WithLabelValues("static_db").Set(0)

	c.mu.Lock()
	c.entry = staticEntry{
		Data:          secret.Data,
		LastRefresh:   c.s.now(),
		everRefreshed: true,
	}
	c.mu.Unlock()

	zap.L().Info("static db credentials refreshed")
	return nil
}

// Get returns the cached static credentials, refreshing first if stale
// (spec §4.5's staleness policy: no cache, or now - last_refresh >= 300s).
// If the refresh fails and no prior document exists, it fails with
// Unavailable; if a prior document exists, the stale document is returned
// instead of the refresh error.
func (c *staticCache) Get(ctx context.Context) (map[string]interface{}, error) {
	c.mu.RLock()
	stale := !c.entry.everRefreshed || c.s.now().Sub(c.entry.LastRefresh) >= staticStaleAfter
	c.mu.RUnlock()

	var refreshErr error
	if stale {
		refreshErr = c.Refresh(ctx)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.entry.everRefreshed {
		if refreshErr == nil {
			refreshErr = fmt.Errorf("static db cache has not completed an initial refresh")
		}
		return nil, vaulterr.New(vaulterr.Unavailable, "static_get", refreshErr)
	}
	return c.entry.Data, nil
}

// StaticGet is the public session-level accessor.
func (s *Session) StaticGet(ctx context.Context) (map[string]interface{}, error) {
	if err := s.requireReady("static_get"); err != nil {
		return nil, err
	}
	if s.static == nil {
		return nil, vaulterr.New(vaulterr.Config, "static_get", fmt.Errorf("static database domain is not enabled"))
	}
	return s.static.Get(ctx)
}

// RefreshStatic drives one static database refresh tick; called by the
// scheduler's static database worker.
func (s *Session) RefreshStatic(ctx context.Context) error {
	if s.static == nil {
		return nil
	}
	return s.static.Refresh(ctx)
}
