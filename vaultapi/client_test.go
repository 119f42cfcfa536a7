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

package vaultapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpost-run/vaultagent/vaulterr"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(NewRetryableExecutor(0, 0), srv.URL, ""), srv
}

func TestLoginHappyPath(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/approle/login", r.URL.Path)
		w.Write([]byte(`{"auth":{"client_token":"s.abc123","lease_duration":3600}}`))
	})

	result, err := client.Login(context.Background(), "role", "secret")
	require.NoError(t, err)
	assert.Equal(t, "s.abc123", result.ClientToken)
	assert.Equal(t, 3600, result.LeaseDuration)
}

func TestLoginMissingAuthObject(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := client.Login(context.Background(), "role", "secret")
	assert.Error(t, err)
	assert.True(t, vaulterr.IsKind(err, vaulterr.Parse))
}

func TestLoginAPIError(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"errors":["permission denied"]}`))
	})

	_, err := client.Login(context.Background(), "role", "secret")
	assert.Error(t, err)
}

func TestRenewSelf(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/token/renew-self", r.URL.Path)
		assert.Equal(t, "s.abc123", r.Header.Get("X-Vault-Token"))
		w.Write([]byte(`{"auth":{"lease_duration":7200}}`))
	})

	result, err := client.RenewSelf(context.Background(), "s.abc123")
	require.NoError(t, err)
	assert.True(t, result.HasDuration)
	assert.Equal(t, 7200, result.LeaseDuration)
}

func TestRenewSelfHTTPFailure(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":["permission denied"]}`))
	})

	_, err := client.RenewSelf(context.Background(), "s.expired")
	assert.Error(t, err)
}

func TestKVReadHappyPath(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/my-entity-kv/data/app/config", r.URL.Path)
		w.Write([]byte(`{"data":{"data":{"user":"svc"},"metadata":{"version":4}}}`))
	})

	secret, err := client.KVRead(context.Background(), "tok", "my-entity-kv/data/app/config")
	require.NoError(t, err)
	assert.Equal(t, "svc", secret.Data["user"])
	assert.Equal(t, 4, secret.Version)
}

func TestKVReadVersionUnchangedAcrossCalls(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"data":{"k":"v"},"metadata":{"version":1}}}`))
	})

	first, err := client.KVRead(context.Background(), "tok", "path")
	require.NoError(t, err)
	second, err := client.KVRead(context.Background(), "tok", "path")
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
}

func TestDynReadHappyPath(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lease_id":"database/creds/readonly/abcd","data":{"username":"u","password":"p"}}`))
	})

	secret, err := client.DynRead(context.Background(), "tok", "my-entity-database/creds/readonly")
	require.NoError(t, err)
	assert.Equal(t, "database/creds/readonly/abcd", secret.LeaseID)
	assert.Equal(t, "u", secret.Data["username"])
}

func TestStaticReadDoesNotNest(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"username":"svc","password":"p","rotation_period":86400}}`))
	})

	secret, err := client.StaticRead(context.Background(), "tok", "my-entity-database/static-creds/reporting")
	require.NoError(t, err)
	assert.Equal(t, "svc", secret.Data["username"])
	assert.NotContains(t, secret.Data, "data")
}

func TestLeaseLookup(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sys/leases/lookup", r.URL.Path)
		w.Write([]byte(`{"data":{"ttl":7}}`))
	})

	status, err := client.LeaseLookup(context.Background(), "tok", "database/creds/readonly/abcd")
	require.NoError(t, err)
	assert.Equal(t, 7, status.TTL)
}

func TestRevokeSelf(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/token/revoke-self", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.RevokeSelf(context.Background(), "tok")
	assert.NoError(t, err)
}

func TestCheckServerVersionWarnsOnOldServer(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sys/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"initialized":true,"sealed":false,"version":"1.8.2"}`))
	})

	warning, err := client.CheckServerVersion(context.Background())
	require.NoError(t, err)
	assert.Contains(t, warning, "older than the minimum supported")
}

func TestCheckServerVersionAcceptsCurrentServer(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"initialized":true,"sealed":false,"version":"1.16.0"}`))
	})

	warning, err := client.CheckServerVersion(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warning)
}

func TestHealthReadsSealedNon2xxBody(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"initialized":true,"sealed":true,"version":"1.16.0"}`))
	})

	status, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Sealed)
}

func TestTransportErrorWrapsKind(t *testing.T) {
	client := NewClient(NewRetryableExecutor(0, 0), "http://127.0.0.1:1", "")
	_, err := client.Login(context.Background(), "role", "secret")
	assert.Error(t, err)
	assert.True(t, vaulterr.IsKind(err, vaulterr.Transport))
}
