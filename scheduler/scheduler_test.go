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

package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpost-run/vaultagent/config"
	"github.com/outpost-run/vaultagent/session"
	"github.com/outpost-run/vaultagent/vaultapi"
)

func newTestSchedulerSession(t *testing.T) (*config.Config, *session.Session) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/approle/login":
			w.Write([]byte(`{"auth":{"client_token":"s.tok","lease_duration":3600}}`))
		case "/v1/auth/token/renew-self":
			w.Write([]byte(`{"auth":{"lease_duration":3600}}`))
		case "/v1/my-entity-kv/data/app/config":
			w.Write([]byte(`{"data":{"data":{"user":"svc"},"metadata":{"version":1}}}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.AppRoleID = "role"
	cfg.AppSecretID = "secret"
	cfg.Entity = "my-entity"
	cfg.KV.Enabled = true
	cfg.KV.Path = "app/config"
	cfg.KVRefresh = 50 * time.Millisecond

	client := vaultapi.NewClient(vaultapi.NewRetryableExecutor(5*time.Second, 4096), srv.URL, "")
	sess := session.New(cfg, client)
	require.NoError(t, sess.Login(context.Background()))

	return cfg, sess
}

func TestSchedulerShutdownIsPrompt(t *testing.T) {
	cfg, sess := newTestSchedulerSession(t)
	sch := New(cfg, sess)
	sch.Start(context.Background())

	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	sch.Stop()
	sch.Wait()
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second, "shutdown must complete within about a second")
}

func TestSchedulerSleepOrStopReturnsImmediatelyAfterStop(t *testing.T) {
	sch := &Scheduler{stopCh: make(chan struct{})}
	sch.Stop()

	start := time.Now()
	stopped := sch.sleepOrStop(5 * time.Second)
	elapsed := time.Since(start)

	assert.True(t, stopped)
	assert.Less(t, elapsed, 100*time.Millisecond)
}
