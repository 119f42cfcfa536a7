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

// Package scheduler drives the four background workers and the foreground
// consumer loop of spec §4.6: a token worker on a fixed 10s tick, one
// refresh worker per enabled secret domain on its configured interval (the
// static database domain at twice the KV refresh interval), and a
// foreground loop that logs whatever is currently cached. Shutdown is
// cooperative: every loop polls a shutdown flag in 1-second slices so the
// whole process can stop within about a second of being asked to.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-run/vaultagent/config"
	"github.com/outpost-run/vaultagent/session"
)

const (
	tokenTickInterval      = 10 * time.Second
	foregroundTickInterval = 10 * time.Second
	shutdownPollInterval   = 1 * time.Second
)

// Scheduler owns the worker goroutines for one Session and coordinates
// their shutdown.
type Scheduler struct {
	cfg *config.Config
	sess *session.Session

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Scheduler for the given session and configuration. Login
// must already have succeeded on sess before Start is called.
func New(cfg *config.Config, sess *session.Session) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		sess:   sess,
		stopCh: make(chan struct{}),
	}
}

// Start launches the token worker, one worker per enabled secret domain,
// and the foreground consumer, in that order, matching the startup
// sequence of the original thread-spawning main loop.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.spawn("token", tokenTickInterval, func(ctx context.Context) {
		if err := sch.sess.TickToken(ctx); err != nil {
			zap.L().Error("token tick failed", zap.Error(err))
		}
	})

	if sch.cfg.KV.Enabled {
		sch.spawn("kv", sch.cfg.KVRefresh, func(ctx context.Context) {
			if err := sch.sess.RefreshKV(ctx); err != nil {
				zap.L().Error("kv refresh failed", zap.Error(err))
			}
		})
	}
	if sch.cfg.DynamicDB.Enabled {
		sch.spawn("dynamic_db", sch.cfg.KVRefresh, func(ctx context.Context) {
			if err := sch.sess.RefreshDyn(ctx); err != nil {
				zap.L().Error("dynamic db refresh failed", zap.Error(err))
			}
		})
	}
	if sch.cfg.StaticDB.Enabled {
		sch.spawn("static_db", 2*sch.cfg.KVRefresh, func(ctx context.Context) {
			if err := sch.sess.RefreshStatic(ctx); err != nil {
				zap.L().Error("static db refresh failed", zap.Error(err))
			}
		})
	}

	sch.wg.Add(1)
	go sch.foregroundLoop(ctx)

	go sch.watchFatal()
}

// watchFatal stops the scheduler the moment the session reports its sole
// fatal condition (renewal and re-login both failed).
func (sch *Scheduler) watchFatal() {
	select {
	case <-sch.sess.Fatal():
		zap.L().Error("session entered fatal state, shutting down")
		sch.Stop()
	case <-sch.stopCh:
	}
}

// Stop requests cooperative shutdown; it returns immediately without
// waiting for workers to exit. Call Wait to block until they do.
func (sch *Scheduler) Stop() {
	sch.stopOnce.Do(func() {
		close(sch.stopCh)
	})
}

// Wait blocks until every worker and the foreground loop have exited.
func (sch *Scheduler) Wait() {
	sch.wg.Wait()
}

// sleepOrStop sleeps for d in 1-second slices, returning early (with true)
// the moment shutdown is requested, so no loop ever blocks for longer than
// shutdownPollInterval past a Stop call.
func (sch *Scheduler) sleepOrStop(d time.Duration) (stopped bool) {
	remaining := d
	for remaining > 0 {
		slice := shutdownPollInterval
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-sch.stopCh:
			return true
		case <-time.After(slice):
			remaining -= slice
		}
	}
	select {
	case <-sch.stopCh:
		return true
	default:
		return false
	}
}

func (sch *Scheduler) spawn(name string, interval time.Duration, tick func(context.Context)) {
	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		log := zap.L().With(zap.String("worker", name))
		log.Info("worker started", zap.Duration("interval", interval))

		for {
			if sch.sleepOrStop(interval) {
				break
			}
			tick(context.Background())
		}
		log.Info("worker stopped")
	}()
}

func (sch *Scheduler) foregroundLoop(ctx context.Context) {
	defer sch.wg.Done()
	log := zap.L().With(zap.String("worker", "foreground"))
	log.Info("foreground consumer started")

	for {
		if sch.cfg.KV.Enabled {
			if data, version, err := sch.sess.KVGet(ctx); err == nil {
				log.Info("kv secret", zap.Int("version", version), zap.Int("keys", len(data)))
			}
		}
		if sch.cfg.DynamicDB.Enabled {
			if _, leaseID, err := sch.sess.DynGet(ctx); err == nil {
				log.Info("dynamic db credentials", zap.String("lease_id", leaseID))
			}
		}
		if sch.cfg.StaticDB.Enabled {
			if data, err := sch.sess.StaticGet(ctx); err == nil {
				log.Info("static db credentials", zap.Int("keys", len(data)))
			}
		}

		state, ratio := sch.sess.TokenStatus()
		log.Info("token status", zap.String("state", state.String()), zap.Float64("ttl_elapsed_ratio", ratio))

		if sch.sleepOrStop(foregroundTickInterval) {
			break
		}
	}
	log.Info("foreground consumer stopped")
}
