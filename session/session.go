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

// Package session is the façade of spec §4.7: one Session ties the token
// lifecycle to the three optional secret caches and owns their shutdown
// order. Nothing outside this package talks to vaultapi.Client directly.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-run/vaultagent/config"
	"github.com/outpost-run/vaultagent/metrics"
	"github.com/outpost-run/vaultagent/vaultapi"
	"github.com/outpost-run/vaultagent/vaulterr"
)

// Session is the runtime façade described in spec §4.7. It is safe for
// concurrent use: the token record is swapped atomically, and each cache
// serializes its own mutation internally.
type Session struct {
	cfg    *config.Config
	client *vaultapi.Client
	now    func() time.Time

	token atomic.Pointer[tokenRecord]

	fatalOnce sync.Once
	fatalCh   chan struct{}

	loggedIn atomic.Bool

	kv     *kvCache
	dyn    *dynCache
	static *staticCache
}

// New constructs a Session bound to the given client and configuration. No
// network call is made until Login.
func New(cfg *config.Config, client *vaultapi.Client) *Session {
	s := &Session{
		cfg:     cfg,
		client:  client,
		now:     time.Now,
		fatalCh: make(chan struct{}),
	}

	// path resolution happens once, here, at construction (spec §4.3/§4.4/
	// §4.5): each cache is handed the fully qualified Vault path, never the
	// operator-supplied suffix on its own.
	if cfg.KV.Enabled {
		s.kv = newKVCache(s, cfg.KVDataPath())
	}
	if cfg.DynamicDB.Enabled {
		s.dyn = newDynCache(s, cfg.DynamicDBCredsPath())
	}
	if cfg.StaticDB.Enabled {
		s.static = newStaticCache(s, cfg.StaticDBCredsPath())
	}

	return s
}

// Login performs the one AppRole login a Session requires before any other
// operation is valid (spec §4.7). Calling it twice is harmless but wasteful;
// callers should call it exactly once at startup.
func (s *Session) Login(ctx context.Context) error {
	result, err := s.client.Login(ctx, s.cfg.AppRoleID, s.cfg.AppSecretID)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
		return err
	}
	metrics.LoginAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()

	now := s.now()
	expiry := now.Add(time.Duration(result.LeaseDuration) * time.Second)
	s.setToken(result.ClientToken, now, expiry)
	s.loggedIn.Store(true)

	zap.L().Info("vault login succeeded", zap.Time("token_expiry", expiry))
	return nil
}

// Ready reports whether Login has succeeded at least once. KV, dynamic, and
// static reads before this point fail fast with a Config-kind error rather
// than racing an empty token against the worker that is about to populate
// one.
func (s *Session) Ready() bool {
	return s.loggedIn.Load()
}

func (s *Session) requireReady(op string) error {
	if !s.Ready() {
		return vaulterr.New(vaulterr.Config, op, errNotLoggedIn)
	}
	return nil
}

var errNotLoggedIn = notLoggedInError{}

type notLoggedInError struct{}

func (notLoggedInError) Error() string { return "session: login has not completed" }

// Close drops the caches in KV -> dynamic -> static order, per SPEC_FULL's
// supplemented shutdown behavior: each cache has nothing to release itself
// (they hold no file descriptors), but the ordering also governs the order
// callers should stop depending on cached values. It then makes a
// best-effort attempt to revoke the current token so a stopped agent does
// not leave a live credential outstanding. Close does not close or release
// the client's executor.
func (s *Session) Close(ctx context.Context) error {
	s.kv = nil
	s.dyn = nil
	s.static = nil

	rec := s.snapshotToken()
	if rec.Token == "" {
		return nil
	}

	if err := s.client.RevokeSelf(ctx, rec.Token); err != nil {
		zap.L().Warn("best-effort token revoke on shutdown failed", zap.Error(err))
	}

	return nil
}
