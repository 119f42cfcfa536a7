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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPathResolution confirms Entity is combined with each domain's
// operator-supplied suffix into the fully qualified Vault path, per the
// "Path resolution (once, at init)" rule repeated for each secret domain.
func TestPathResolution(t *testing.T) {
	c := Default()
	c.Entity = "payments"
	c.KV.Path = "app/config"
	c.DynamicDB.Path = "readonly"
	c.StaticDB.Path = "reporting"

	assert.Equal(t, "payments-kv/data/app/config", c.KVDataPath())
	assert.Equal(t, "payments-database/creds/readonly", c.DynamicDBCredsPath())
	assert.Equal(t, "payments-database/static-creds/reporting", c.StaticDBCredsPath())
}
