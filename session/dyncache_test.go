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
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDynCacheNoOpWhenLeaseHealthy is the seed scenario where the dynamic
// database lease has plenty of remaining TTL: Refresh must re-check the
// lease via lease_lookup but must not issue new credentials.
func TestDynCacheNoOpWhenLeaseHealthy(t *testing.T) {
	exec := newStubExecutor(t)
	dynReadCalls := 0
	leaseLookupCalls := 0
	exec.on(http.MethodGet, "/v1/my-entity-database/creds/readonly", func(headers map[string]string, body []byte) (int, []byte) {
		dynReadCalls++
		return 200, []byte(`{"lease_id":"database/creds/readonly/lease1","data":{"username":"u1","password":"p1"}}`)
	})
	exec.on(http.MethodPost, "/v1/sys/leases/lookup", func(headers map[string]string, body []byte) (int, []byte) {
		leaseLookupCalls++
		return 200, []byte(`{"data":{"ttl":300}}`)
	})

	cfg := testConfig()
	cfg.Entity = "my-entity"
	cfg.DynamicDB.Enabled = true
	cfg.DynamicDB.Path = "readonly"

	s, clock := newTestSession(t, exec, cfg)
	s.setToken("s.tok", clock.now, clock.now.Add(10000*time.Second))

	require.NoError(t, s.RefreshDyn(context.Background()))
	assert.Equal(t, 1, dynReadCalls)
	assert.Equal(t, 1, leaseLookupCalls)

	clock.Advance(30 * time.Second)
	require.NoError(t, s.RefreshDyn(context.Background()))
	assert.Equal(t, 1, dynReadCalls, "a healthy lease must not be rotated")
	assert.Equal(t, 2, leaseLookupCalls)

	data, leaseID, err := s.DynGet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "database/creds/readonly/lease1", leaseID)
	assert.Equal(t, "u1", data["username"])
}

// TestDynCacheRotatesNearExpiry is the seed scenario where the cached
// lease has less than the 10s floor of remaining TTL: Refresh must issue a
// brand new set of credentials.
func TestDynCacheRotatesNearExpiry(t *testing.T) {
	exec := newStubExecutor(t)
	leaseNum := 0
	exec.on(http.MethodGet, "/v1/my-entity-database/creds/readonly", func(headers map[string]string, body []byte) (int, []byte) {
		leaseNum++
		if leaseNum == 1 {
			return 200, []byte(`{"lease_id":"database/creds/readonly/lease1","data":{"username":"u1","password":"p1"}}`)
		}
		return 200, []byte(`{"lease_id":"database/creds/readonly/lease2","data":{"username":"u2","password":"p2"}}`)
	})
	exec.on(http.MethodPost, "/v1/sys/leases/lookup", func(headers map[string]string, body []byte) (int, []byte) {
		if leaseNum == 1 {
			return 200, []byte(`{"data":{"ttl":5}}`)
		}
		return 200, []byte(`{"data":{"ttl":300}}`)
	})

	cfg := testConfig()
	cfg.Entity = "my-entity"
	cfg.DynamicDB.Enabled = true
	cfg.DynamicDB.Path = "readonly"

	s, clock := newTestSession(t, exec, cfg)
	s.setToken("s.tok", clock.now, clock.now.Add(10000*time.Second))

	// the first credential issuance comes back with only 5s of TTL, below
	// the 10s floor, so even a direct RefreshDyn call right after issuing it
	// must rotate again rather than leave the newly-issued lease cached.
	require.NoError(t, s.RefreshDyn(context.Background()))
	require.NoError(t, s.RefreshDyn(context.Background()))
	assert.Equal(t, 2, leaseNum, "a lease already within the floor must be rotated on the very next tick")

	data, leaseID, err := s.DynGet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "database/creds/readonly/lease2", leaseID)
	assert.Equal(t, "u2", data["username"])
}
