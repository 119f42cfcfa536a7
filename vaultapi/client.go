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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/outpost-run/vaultagent/vaulterr"
)

// Client is the typed Vault API binding of spec §4.1. It never stores a
// token itself: callers (the token lifecycle and each cache) supply the
// token snapshot to use for a given call, so no two goroutines can race on
// a token field owned by this package.
type Client struct {
	Executor  Executor
	Address   string
	Namespace string
}

// NewClient builds a Client against the given executor and base address.
// namespace may be empty.
func NewClient(exec Executor, address, namespace string) *Client {
	return &Client{Executor: exec, Address: address, Namespace: namespace}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/v1/%s", c.Address, path)
}

func (c *Client) headers(token string) map[string]string {
	h := map[string]string{
		"Content-Type": "application/json",
	}
	if token != "" {
		h["X-Vault-Token"] = token
	}
	if c.Namespace != "" {
		h["X-Vault-Namespace"] = c.Namespace
	}
	return h
}

// doJSON performs one request, decodes the body as a JSON object, and
// checks for the top-level "errors" field that signals an API-level
// failure even on a 2xx status.
func (c *Client) doJSON(ctx context.Context, op, method, path string, token string, reqBody interface{}) (map[string]interface{}, error) {
	var bodyBytes []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, vaulterr.New(vaulterr.Parse, op, err)
		}
		bodyBytes = b
	}

	status, respBody, err := c.Executor.Do(ctx, method, c.url(path), c.headers(token), bodyBytes)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Transport, op, err)
	}

	var parsed map[string]interface{}
	if len(respBody) > 0 {
		if jerr := json.Unmarshal(respBody, &parsed); jerr != nil {
			return nil, vaulterr.WithStatus(vaulterr.Parse, op, status, jerr)
		}
	} else {
		parsed = map[string]interface{}{}
	}

	if status < 200 || status >= 300 {
		return nil, vaulterr.WithStatus(vaulterr.Http, op, status, fmt.Errorf("unexpected status"))
	}

	if errs, ok := parsed["errors"]; ok {
		return nil, vaulterr.WithStatus(vaulterr.Api, op, status, fmt.Errorf("vault reported errors: %v", errs))
	}

	return parsed, nil
}

// Login exchanges an AppRole role_id/secret_id pair for a client token.
func (c *Client) Login(ctx context.Context, roleID, secretID string) (*LoginResult, error) {
	const op = "login"

	parsed, err := c.doJSON(ctx, op, http.MethodPost, "auth/approle/login", "", map[string]string{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return nil, err
	}

	auth, ok := parsed["auth"].(map[string]interface{})
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing auth object"))
	}
	token, ok := auth["client_token"].(string)
	if !ok || token == "" {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing auth.client_token"))
	}

	result := &LoginResult{ClientToken: token}
	if ld, ok := auth["lease_duration"]; ok {
		result.LeaseDuration = asInt(ld)
	}

	return result, nil
}

// RenewSelf renews the token currently held by the caller.
func (c *Client) RenewSelf(ctx context.Context, token string) (*RenewResult, error) {
	const op = "renew-self"

	parsed, err := c.doJSON(ctx, op, http.MethodPost, "auth/token/renew-self", token, nil)
	if err != nil {
		return nil, err
	}

	result := &RenewResult{}
	if auth, ok := parsed["auth"].(map[string]interface{}); ok {
		if ld, ok := auth["lease_duration"]; ok {
			result.LeaseDuration = asInt(ld)
			result.HasDuration = true
		}
	}

	return result, nil
}

// Health queries sys/health. Vault intentionally returns a range of
// non-2xx status codes here (503 sealed, 501 uninitialized, 429 standby) so
// this bypasses doJSON's status validation and reads the body regardless.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	const op = "health"

	status, respBody, err := c.Executor.Do(ctx, http.MethodGet, c.url("sys/health"), c.headers(""), nil)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Transport, op, err)
	}

	var parsed map[string]interface{}
	if len(respBody) > 0 {
		if jerr := json.Unmarshal(respBody, &parsed); jerr != nil {
			return nil, vaulterr.WithStatus(vaulterr.Parse, op, status, jerr)
		}
	}

	result := &HealthStatus{}
	if v, ok := parsed["initialized"].(bool); ok {
		result.Initialized = v
	}
	if v, ok := parsed["sealed"].(bool); ok {
		result.Sealed = v
	}
	if v, ok := parsed["version"].(string); ok {
		result.Version = v
	}
	return result, nil
}

// RevokeSelf revokes the token currently held by the caller. It is a
// best-effort shutdown courtesy (SPEC_FULL "Supplemented features"), not
// one of the six core operations (login, renew-self, kv_read, dyn_read,
// static_read, lease_lookup), so callers should not treat its failure as
// fatal.
func (c *Client) RevokeSelf(ctx context.Context, token string) error {
	const op = "revoke-self"

	_, err := c.doJSON(ctx, op, http.MethodPost, "auth/token/revoke-self", token, nil)
	return err
}

// KVRead fetches a KV v2 secret at the given fully resolved path
// ("{entity}-kv/data/{kv_path}"). The full envelope is needed to extract
// both data.data and data.metadata.version.
func (c *Client) KVRead(ctx context.Context, token, path string) (*KVSecret, error) {
	const op = "kv_read"

	parsed, err := c.doJSON(ctx, op, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}

	data, ok := parsed["data"].(map[string]interface{})
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing data object"))
	}
	inner, ok := data["data"].(map[string]interface{})
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing data.data object"))
	}
	metadata, ok := data["metadata"].(map[string]interface{})
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing data.metadata object"))
	}
	versionRaw, ok := metadata["version"]
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing data.metadata.version"))
	}

	return &KVSecret{Data: inner, Version: asInt(versionRaw)}, nil
}

// DynRead fetches dynamic database credentials at the given fully resolved
// path ("{entity}-database/creds/{role_id}"). Unlike KV, the top-level
// lease_id is what matters; the payload kept is the top-level "data"
// subobject (username, password), not the rest of the envelope.
func (c *Client) DynRead(ctx context.Context, token, path string) (*DynamicSecret, error) {
	const op = "dyn_read"

	parsed, err := c.doJSON(ctx, op, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}

	leaseID, ok := parsed["lease_id"].(string)
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing lease_id"))
	}
	data, ok := parsed["data"].(map[string]interface{})
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing data object"))
	}

	return &DynamicSecret{LeaseID: leaseID, Data: data}, nil
}

// StaticRead fetches static database credentials at the given fully
// resolved path ("{entity}-database/static-creds/{role_id}"). Only the
// "data" subobject is kept, not "data.data" as in KV v2 — this asymmetry is
// intentional (spec §9) and must be preserved.
func (c *Client) StaticRead(ctx context.Context, token, path string) (*StaticSecret, error) {
	const op = "static_read"

	parsed, err := c.doJSON(ctx, op, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}

	data, ok := parsed["data"].(map[string]interface{})
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing data object"))
	}

	return &StaticSecret{Data: data}, nil
}

// LeaseLookup reports the remaining TTL of a lease.
func (c *Client) LeaseLookup(ctx context.Context, token, leaseID string) (*LeaseStatus, error) {
	const op = "lease_lookup"

	parsed, err := c.doJSON(ctx, op, http.MethodPost, "sys/leases/lookup", token, map[string]string{
		"lease_id": leaseID,
	})
	if err != nil {
		return nil, err
	}

	data, ok := parsed["data"].(map[string]interface{})
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing data object"))
	}
	ttlRaw, ok := data["ttl"]
	if !ok {
		return nil, vaulterr.New(vaulterr.Parse, op, fmt.Errorf("missing data.ttl"))
	}

	return &LeaseStatus{TTL: asInt(ttlRaw)}, nil
}

// asInt coerces a JSON-decoded numeric value (always float64 from
// encoding/json) into an int, tolerating the rare case it arrives as a
// json.Number or already-int value from a hand-built test fixture.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
