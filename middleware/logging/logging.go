/*
 * Copyright 2024 Comcast Cable Communications Management, LLC
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

// Package logging wraps the admin HTTP surface with per-request trace IDs
// and structured access logging.
package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nrednav/cuid2"
	"go.uber.org/zap"
)

type contextKey string

const traceIDKey contextKey = "traceID"

var generate, _ = cuid2.Init(
	cuid2.WithLength(16),
)

// TraceID extracts the trace ID stashed by LoggingHandler, if any.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// LoggingHandler accepts an http.Handler and wraps it with a
// handler that logs the request and response information.
func LoggingHandler(h http.Handler) http.Handler {
	if h == nil {
		h = http.DefaultServeMux
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		traceID := generate()
		req = req.WithContext(context.WithValue(req.Context(), traceIDKey, traceID))
		srw := statusResponseWriter{ResponseWriter: w, status: http.StatusOK}

		route := ""
		if router, ok := h.(*mux.Router); ok {
			var match mux.RouteMatch
			if router.Match(req, &match) && match.Route != nil {
				route, _ = match.Route.GetPathTemplate()
			}
		}

		defer func(start time.Time) {
			zap.L().Info("admin request handled",
				zap.String("trace_id", traceID),
				zap.String("route", route),
				zap.String("source_addr", req.RemoteAddr),
				zap.String("method", req.Method),
				zap.String("url", req.URL.String()),
				zap.String("proto", req.Proto),
				zap.Int("status", srw.status),
				zap.Float64("elapsed_time_sec", time.Since(start).Seconds()),
			)
		}(time.Now())

		h.ServeHTTP(&srw, req)
	})
}
