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

// Package config holds the immutable-after-load Configuration record
// described in spec §3 and §6. Parsing CLI flags is an external
// collaborator's job (see cmd/vaultagent); this package only owns the
// struct, its defaults, and validation, in the same sync.Once-guarded
// singleton shape the teacher uses.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/outpost-run/vaultagent/vaulterr"
)

// DomainConfig is the shared shape of the three per-domain toggles: an
// enabled flag plus the one identifying path parameter each domain needs
// (kv_path for KV, role_id for the two database domains). Path is the
// operator-supplied suffix only; it is combined with Entity to resolve the
// fully qualified Vault path (spec §4.3/§4.4/§4.5's "Path resolution (once,
// at init)" rule), never used directly against Vault.
type DomainConfig struct {
	Enabled bool
	Path    string
}

// Config is the immutable-after-load Configuration record of spec §3.
type Config struct {
	VaultURL        string
	VaultNamespace  string
	Entity          string
	HTTPTimeout     time.Duration
	MaxResponseSize int64

	AppRoleID   string
	AppSecretID string

	KV        DomainConfig
	KVRefresh time.Duration
	DynamicDB DomainConfig
	StaticDB  DomainConfig
}

// Defaults per spec §6.
const (
	DefaultVaultURL        = "http://127.0.0.1:8200"
	DefaultEntity          = "my-vault-app"
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultMaxResponseSize = int64(4096)
	DefaultKVRefresh       = 300 * time.Second
)

// Default returns a Config populated with spec §6's defaults; every
// per-domain toggle is disabled until the caller turns one on.
func Default() *Config {
	return &Config{
		VaultURL:        DefaultVaultURL,
		VaultNamespace:  "",
		Entity:          DefaultEntity,
		HTTPTimeout:     DefaultHTTPTimeout,
		MaxResponseSize: DefaultMaxResponseSize,
		KVRefresh:       DefaultKVRefresh,
	}
}

// Validate reports a Config-kind error for anything a session cannot start
// without. A disabled domain's path is allowed to be empty.
func (c *Config) Validate() error {
	switch {
	case c.VaultURL == "":
		return vaulterr.New(vaulterr.Config, "validate", errRequired("vault_url"))
	case c.Entity == "":
		return vaulterr.New(vaulterr.Config, "validate", errRequired("entity"))
	case c.AppRoleID == "" || c.AppSecretID == "":
		return vaulterr.New(vaulterr.Config, "validate", errRequired("approle role_id/secret_id"))
	case c.HTTPTimeout <= 0:
		return vaulterr.New(vaulterr.Config, "validate", errRequired("http_timeout"))
	case c.KV.Enabled && c.KV.Path == "":
		return vaulterr.New(vaulterr.Config, "validate", errRequired("secret_kv.kv_path"))
	case c.DynamicDB.Enabled && c.DynamicDB.Path == "":
		return vaulterr.New(vaulterr.Config, "validate", errRequired("secret_database_dynamic.role_id"))
	case c.StaticDB.Enabled && c.StaticDB.Path == "":
		return vaulterr.New(vaulterr.Config, "validate", errRequired("secret_database_static.role_id"))
	}
	return nil
}

// KVDataPath resolves the fully qualified KV v2 data path from Entity and
// KV.Path, per spec §4.3's path resolution rule:
// "{entity}-kv/data/{kv_path}".
func (c *Config) KVDataPath() string {
	return fmt.Sprintf("%s-kv/data/%s", c.Entity, c.KV.Path)
}

// DynamicDBCredsPath resolves the fully qualified dynamic database
// credentials path from Entity and DynamicDB.Path (the role_id), per spec
// §4.4's path resolution rule: "{entity}-database/creds/{role_id}".
func (c *Config) DynamicDBCredsPath() string {
	return fmt.Sprintf("%s-database/creds/%s", c.Entity, c.DynamicDB.Path)
}

// StaticDBCredsPath resolves the fully qualified static database
// credentials path from Entity and StaticDB.Path (the role_id), per spec
// §4.5's path resolution rule: "{entity}-database/static-creds/{role_id}".
func (c *Config) StaticDBCredsPath() string {
	return fmt.Sprintf("%s-database/static-creds/%s", c.Entity, c.StaticDB.Path)
}

type missingFieldError string

func (e missingFieldError) Error() string { return "missing required config field: " + string(e) }

func errRequired(field string) error { return missingFieldError(field) }

var (
	current *Config
	once    sync.Once
)

// NewConfig installs the process-wide Config the first time it's called,
// mirroring the teacher's config.NewConfig/GetConfig singleton.
func NewConfig(c *Config) {
	once.Do(func() {
		if c != nil {
			current = c
		} else {
			current = Default()
		}
	})
}

// GetConfig returns the process-wide Config, installing the default if
// NewConfig was never called.
func GetConfig() *Config {
	if current != nil {
		return current
	}
	NewConfig(nil)
	return current
}
