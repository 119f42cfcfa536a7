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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-run/vaultagent/metrics"
	"github.com/outpost-run/vaultagent/vaulterr"
)

// tokenRecord is the immutable snapshot of token state a reader captures by
// value before composing request headers, per spec §5 / §9: a concurrent
// renewal swaps the pointer atomically and never mutates the record a
// reader already holds, so header composition never observes a torn token.
type tokenRecord struct {
	Token  string
	Issued time.Time
	Expiry time.Time
}

// TokenState is the renewal state machine of spec §4.2:
// Healthy -> Renewable -> Urgent -> Expired.
type TokenState int

const (
	TokenHealthy TokenState = iota
	TokenRenewable
	TokenUrgent
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenHealthy:
		return "healthy"
	case TokenRenewable:
		return "renewable"
	case TokenUrgent:
		return "urgent"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// snapshotToken loads the current token record. The zero value (empty
// token, zero times) is returned before the first successful login.
func (s *Session) snapshotToken() tokenRecord {
	p := s.token.Load()
	if p == nil {
		return tokenRecord{}
	}
	return *p
}

func (s *Session) setToken(tok string, issued, expiry time.Time) {
	s.token.Store(&tokenRecord{Token: tok, Issued: issued, Expiry: expiry})
}

// TokenString returns the current token value for callers that need it
// read-only; it never blocks a concurrent renewal.
func (s *Session) TokenString() string {
	return s.snapshotToken().Token
}

// classify computes the three derived quantities of spec §4.2 and the
// resulting TokenState. total_ttl == 0 (expiry <= issued) is the boundary
// case of spec §8: the token is immediately renewable.
func classify(rec tokenRecord, now time.Time) (state TokenState, elapsedRatio float64) {
	if rec.Token == "" {
		return TokenExpired, 1
	}

	totalTTL := rec.Expiry.Sub(rec.Issued)
	elapsed := now.Sub(rec.Issued)

	if totalTTL <= 0 {
		return TokenRenewable, 1
	}
	if elapsed < 0 {
		elapsed = 0
	}

	renewalPoint := totalTTL * 4 / 5
	urgentPoint := totalTTL * 9 / 10

	elapsedRatio = float64(elapsed) / float64(totalTTL)

	switch {
	case now.After(rec.Expiry) || now.Equal(rec.Expiry):
		state = TokenExpired
	case elapsed >= urgentPoint:
		state = TokenUrgent
	case elapsed >= renewalPoint:
		state = TokenRenewable
	default:
		state = TokenHealthy
	}
	return state, elapsedRatio
}

// TokenStatus reports the current renewal state and the fraction of TTL
// elapsed, reinstating the original vault_print_token_status reporting
// (SPEC_FULL "Supplemented features") as a queryable method instead of a
// stdout print.
func (s *Session) TokenStatus() (TokenState, float64) {
	return classify(s.snapshotToken(), s.now())
}

// TickToken is the token worker's single-tick policy from spec §4.2:
//
//  1. elapsed < renewal_point: no action.
//  2. elapsed >= renewal_point: attempt renew-self; on failure, attempt a
//     full re-login; if that also fails, this is the sole fatal path and
//     the session's Fatal channel is closed so the scheduler can shut down.
func (s *Session) TickToken(ctx context.Context) error {
	log := zap.L()

	rec := s.snapshotToken()
	state, ratio := classify(rec, s.now())
	metrics.TokenTTLElapsedRatio.Set(ratio)

	if state == TokenUrgent {
		log.Warn("token approaching max TTL without renewal",
			zap.Float64("ttl_elapsed_ratio", ratio))
	}

	if state == TokenHealthy {
		return nil
	}

	renewResult, err := s.client.RenewSelf(ctx, rec.Token)
	if err == nil {
		metrics.TokenRenewals.WithLabelValues(metrics.OutcomeSuccess).Inc()
		now := s.now()
		newExpiry := rec.Expiry
		if renewResult.HasDuration {
			newExpiry = now.Add(time.Duration(renewResult.LeaseDuration) * time.Second)
		} else {
			log.Warn("renew-self response omitted lease_duration; retaining previous expiry")
		}
		s.setToken(rec.Token, now, newExpiry)
		log.Info("token renewed", zap.Time("new_expiry", newExpiry))
		return nil
	}
	metrics.TokenRenewals.WithLabelValues(metrics.OutcomeFailure).Inc()

	log.Error("token renewal failed, attempting re-login", zap.Error(err))

	loginResult, loginErr := s.client.Login(ctx, s.cfg.AppRoleID, s.cfg.AppSecretID)
	if loginErr != nil {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
		log.Error("re-login failed after renewal failure; requesting shutdown", zap.Error(loginErr))
		s.triggerFatal()
		return vaulterr.New(vaulterr.Auth, "renew-then-relogin", fmt.Errorf("renew: %w; re-login: %v", err, loginErr))
	}
	metrics.LoginAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()

	now := s.now()
	expiry := now.Add(time.Duration(loginResult.LeaseDuration) * time.Second)
	s.setToken(loginResult.ClientToken, now, expiry)
	log.Info("re-login succeeded after renewal failure", zap.Time("new_expiry", expiry))
	return nil
}

func (s *Session) triggerFatal() {
	s.fatalOnce.Do(func() {
		close(s.fatalCh)
	})
}

// Fatal returns a channel that is closed exactly once, the moment both
// token renewal and re-login have failed (spec §7's sole fatal runtime
// error). The scheduler selects on it to begin shutdown.
func (s *Session) Fatal() <-chan struct{} {
	return s.fatalCh
}
