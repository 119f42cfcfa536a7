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
	"fmt"

	"github.com/hashicorp/go-version"
)

// MinSupportedServerVersion is the oldest Vault server release this binding
// is written against; auth/token/renew-self and the KV v2 envelope shape it
// relies on are both stable well before this.
const MinSupportedServerVersion = "1.10.0"

// CheckServerVersion queries sys/health and compares the reported server
// version against MinSupportedServerVersion, returning a human-readable
// warning string (empty if the server meets or exceeds it). A malformed or
// unreported version string is treated as unknown, not fatal.
func (c *Client) CheckServerVersion(ctx context.Context) (string, error) {
	status, err := c.Health(ctx)
	if err != nil {
		return "", err
	}
	if status.Version == "" {
		return "vault server did not report a version", nil
	}

	min, err := version.NewVersion(MinSupportedServerVersion)
	if err != nil {
		return "", err
	}
	reported, err := version.NewVersion(status.Version)
	if err != nil {
		return fmt.Sprintf("could not parse reported vault server version %q", status.Version), nil
	}

	if reported.LessThan(min) {
		return fmt.Sprintf("vault server version %s is older than the minimum supported %s", reported, min), nil
	}
	return "", nil
}
