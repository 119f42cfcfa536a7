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

// Package httpadmin is the agent's external HTTP surface of spec §6:
// /healthz, /info, /metrics, and the GET/PUT /verbosity pair, grounded on
// cmd/fishymetrics/main.go's router setup but stripped of everything
// scrape-target specific.
package httpadmin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outpost-run/vaultagent/buildinfo"
	"github.com/outpost-run/vaultagent/logger"
	"github.com/outpost-run/vaultagent/middleware/logging"
	"github.com/outpost-run/vaultagent/middleware/muxprom"
	"github.com/outpost-run/vaultagent/session"
)

// New builds the admin router and wraps it with request instrumentation
// and access logging. sess may be nil in tests that only exercise the
// static endpoints.
func New(sess *session.Session) http.Handler {
	router := mux.NewRouter()

	instrumentation := muxprom.NewDefaultInstrumentation()
	router.Use(instrumentation.Middleware)

	router.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(buildinfo.Info)
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/healthz", healthzHandler(sess)).Methods(http.MethodGet)

	router.HandleFunc("/verbosity", logger.Verbosity).Methods(http.MethodGet)
	router.HandleFunc("/verbosity", logger.SetVerbosity).Methods(http.MethodPut)

	return logging.LoggingHandler(router)
}

// healthzHandler reports 200 once the session has completed its first
// AppRole login, 503 otherwise; nothing downstream can function before
// that point.
func healthzHandler(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sess == nil || !sess.Ready() {
			http.Error(w, `{"status":"not_ready"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
