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
	"strings"
	"testing"
	"time"

	"github.com/outpost-run/vaultagent/config"
	"github.com/outpost-run/vaultagent/vaultapi"
)

// stubExecutor routes requests by HTTP method + URL path to a caller-supplied
// function, so session-level tests can stand up a fake Vault without a real
// server loop per test.
type stubExecutor struct {
	t        *testing.T
	handlers map[string]func(headers map[string]string, body []byte) (int, []byte)
}

func newStubExecutor(t *testing.T) *stubExecutor {
	t.Helper()
	return &stubExecutor{t: t, handlers: map[string]func(map[string]string, []byte) (int, []byte){}}
}

func (e *stubExecutor) on(method, path string, fn func(headers map[string]string, body []byte) (int, []byte)) {
	e.handlers[method+" "+path] = fn
}

func (e *stubExecutor) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, []byte, error) {
	u := httptestStripBase(url)
	fn, ok := e.handlers[method+" "+u]
	if !ok {
		e.t.Fatalf("unexpected request: %s %s", method, u)
	}
	status, respBody := fn(headers, body)
	return status, respBody, nil
}

// httptestStripBase trims the scheme+host from a fully qualified URL,
// leaving the "/v1/..." path the handlers are keyed on.
func httptestStripBase(full string) string {
	const marker = "/v1/"
	idx := strings.Index(full, marker)
	if idx < 0 {
		return full
	}
	return full[idx:]
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestSession(t *testing.T, exec vaultapi.Executor, cfg *config.Config) (*Session, *fakeClock) {
	t.Helper()
	client := vaultapi.NewClient(exec, "https://vault.internal", "")
	s := New(cfg, client)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	return s, clock
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AppRoleID = "role-id"
	cfg.AppSecretID = "secret-id"
	return cfg
}
