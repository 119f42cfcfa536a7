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

// Package metrics is the prometheus instrumentation for the agent's own
// operation, grounded on the teacher's middleware/muxprom package: a
// handful of package-level collectors registered once and updated from the
// session and scheduler packages as the token lifecycle and caches do their
// work.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultagent_login_attempts_total",
		Help: "AppRole login attempts by outcome.",
	}, []string{"outcome"})

	TokenRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultagent_token_renewals_total",
		Help: "Token renew-self attempts by outcome.",
	}, []string{"outcome"})

	DomainRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultagent_domain_refreshes_total",
		Help: "Secret domain refresh attempts by domain and outcome.",
	}, []string{"domain", "outcome"})

	TokenTTLElapsedRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultagent_token_ttl_elapsed_ratio",
		Help: "Fraction of the current token's total TTL that has elapsed.",
	})

	CacheAgeSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vaultagent_cache_age_seconds",
		Help: "Set to 0 each time a secret domain's cache refreshes successfully; not advanced between refreshes.",
	}, []string{"domain"})
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
