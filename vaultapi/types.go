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

// LoginResult holds the fields extracted from a successful AppRole login.
type LoginResult struct {
	ClientToken   string
	LeaseDuration int // seconds
}

// RenewResult holds the fields extracted from a successful renew-self call.
type RenewResult struct {
	LeaseDuration int // seconds; 0 if the response omitted it
	HasDuration   bool
}

// KVSecret is the full response envelope of a KV v2 read: the inner payload
// plus its version, per spec §4.1 (kv_read needs data.data and
// data.metadata.version).
type KVSecret struct {
	Data    map[string]interface{}
	Version int
}

// DynamicSecret is the full response envelope of a dynamic database
// credentials read: the server-issued lease_id plus the credential payload.
type DynamicSecret struct {
	LeaseID string
	Data    map[string]interface{}
}

// StaticSecret is the data subobject of a static database credentials read.
// Unlike KV v2, there is no nested "data.data" — this asymmetry is
// intentional and preserved per spec §9.
type StaticSecret struct {
	Data map[string]interface{}
}

// LeaseStatus is the result of a lease lookup.
type LeaseStatus struct {
	TTL int // seconds remaining
}

// HealthStatus is the result of a sys/health check: whether the node is
// sealed/initialized and its reported server version.
type HealthStatus struct {
	Initialized bool
	Sealed      bool
	Version     string
}
