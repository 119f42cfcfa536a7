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

// dynLeaseFloor is the minimum remaining lease TTL, per spec §4.4, at or
// below which a refresh tick rotates to a brand new lease instead of merely
// re-checking the existing one's remaining time.
const dynLeaseFloor = 10 * time.Second

// dynEntry is the DynamicDBCacheEntry of spec §3.
type dynEntry struct {
	LeaseID       string
	Data          map[string]interface{}
	LeaseExpiry   time.Time
	LastRefresh   time.Time
	everRefreshed bool
}

// dynCache is the dynamic database credentials cache of spec §4.4: a
// lease-TTL-aware cache that only issues new credentials when the existing
// lease is within dynLeaseFloor of expiring, and otherwise just re-checks
// the remaining TTL via a lease lookup.
type dynCache struct {
	s    *Session
	path string

	mu    sync.RWMutex
	entry dynEntry
}

func newDynCache(s *Session, path string) *dynCache {
	return &dynCache{s: s, path: path}
}

// Refresh performs one refresh tick of spec §4.4 step 1's lease-TTL policy.
// The rotate-vs-no-op decision always comes from a fresh lease_lookup call,
// never from a locally tracked expiry estimate:
//
//   - no cached lease yet: issue new credentials, then look up the lease to
//     learn its TTL.
//   - lease_lookup reports TTL > dynLeaseFloor: a no-op rotation — update the
//     tracked expiry and last_refresh, issuing nothing new.
//   - lease_lookup reports TTL <= dynLeaseFloor, or the lookup itself fails:
//     issue a fresh set of credentials and replace the cache entry.
func (c *dynCache) Refresh(ctx context.Context) error {
	rec := c.s.snapshotToken()
	log := zap.L()

	c.mu.RLock()
	hadPrev := c.entry.everRefreshed
	prevLeaseID := c.entry.LeaseID
	c.mu.RUnlock()

	if !hadPrev {
		return c.rotate(ctx, rec.Token)
	}

	status, err := c.s.client.LeaseLookup(ctx, rec.Token, prevLeaseID)
	if err != nil {
		log.Warn("dynamic db lease lookup failed, rotating",
			zap.String("lease_id", prevLeaseID), zap.Error(err))
		return c.rotate(ctx, rec.Token)
	}

	if time.Duration(status.TTL)*time.Second <= dynLeaseFloor {
		log.Info("dynamic db lease within floor of expiring, rotating",
			zap.String("lease_id", prevLeaseID), zap.Int("ttl_seconds", status.TTL))
		return c.rotate(ctx, rec.Token)
	}

	metrics.DomainRefreshes.WithLabelValues("dynamic_db", metrics.OutcomeSuccess).Inc()
	metrics.CacheAgeSeconds.WithLabelValues("dynamic_db").Set(0)

	c.mu.Lock()
	c.entry.LeaseExpiry = c.s.now().Add(time.Duration(status.TTL) * time.Second)
	c.entry.LastRefresh = c.s.now()
	c.mu.Unlock()

	log.Debug("dynamic db lease re-checked, no rotation needed",
		zap.String("lease_id", prevLeaseID), zap.Int("ttl_seconds", status.TTL))
	return nil
}

func (c *dynCache) rotate(ctx context.Context, token string) error {
	secret, err := c.s.client.DynRead(ctx, token, c.path)
	if err != nil {
		metrics.DomainRefreshes.WithLabelValues("dynamic_db", metrics.OutcomeFailure).Inc()
		return err
	}

	status, err := c.s.client.LeaseLookup(ctx, token, secret.LeaseID)
	if err != nil {
		metrics.DomainRefreshes.WithLabelValues("dynamic_db", metrics.OutcomeFailure).Inc()
		return err
	}
	metrics.DomainRefreshes.WithLabelValues("dynamic_db", metrics.OutcomeSuccess).Inc()
	metrics.CacheAgeSeconds.WithLabelValues("dynamic_db").Set(0)

	c.mu.Lock()
	c.entry = dynEntry{
		LeaseID:       secret.LeaseID,
		Data:          secret.Data,
		LeaseExpiry:   c.s.now().Add(time.Duration(status.TTL) * time.Second),
		LastRefresh:   c.s.now(),
		everRefreshed: true,
	}
	c.mu.Unlock()

	zap.L().Info("dynamic db credentials rotated", zap.String("lease_id", secret.LeaseID))
	return nil
}

// needsRefresh reports whether Get should synchronously refresh before
// returning cached data, per spec §4.4's staleness policy: no cached
// document, the last known lease is within dynLeaseFloor of expiring, or the
// cache has gone stale by the same interval the background worker ticks on.
func (c *dynCache) needsRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.entry.everRefreshed {
		return true
	}
	if c.entry.LeaseExpiry.Sub(c.s.now()) <= dynLeaseFloor {
		return true
	}
	return c.s.now().Sub(c.entry.LastRefresh) >= c.s.cfg.KVRefresh
}

// Get returns the cached dynamic database credentials, refreshing first if
// stale (spec §4.4's read contract). If the refresh fails and no prior
// document exists, it fails with Unavailable; if a prior document exists,
// the stale document is returned instead of the refresh error.
func (c *dynCache) Get(ctx context.Context) (map[string]interface{}, string, error) {
	var refreshErr error
	if c.needsRefresh() {
		refreshErr = c.Refresh(ctx)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.entry.everRefreshed {
		if refreshErr == nil {
			refreshErr = fmt.Errorf("dynamic db cache has not completed an initial refresh")
		}
		return nil, "", vaulterr.New(vaulterr.Unavailable, "dyn_get", refreshErr)
	}
	return c.entry.Data, c.entry.LeaseID, nil
}

// DynGet is the public session-level accessor.
func (s *Session) DynGet(ctx context.Context) (map[string]interface{}, string, error) {
	if err := s.requireReady("dyn_get"); err != nil {
		return nil, "", err
	}
	if s.dyn == nil {
		return nil, "", vaulterr.New(vaulterr.Config, "dyn_get", fmt.Errorf("dynamic database domain is not enabled"))
	}
	return s.dyn.Get(ctx)
}

// RefreshDyn drives one dynamic database refresh tick; called by the
// scheduler's dynamic database worker.
func (s *Session) RefreshDyn(ctx context.Context) error {
	if s.dyn == nil {
		return nil
	}
	return s.dyn.Refresh(ctx)
}
