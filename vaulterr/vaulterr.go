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

// Package vaulterr defines the typed error kinds every component in this
// module reports through, per the error handling design: Config, Transport,
// Http, Api, Parse, Auth, and Unavailable. Kind drives disposition (fatal at
// startup vs. logged-and-retained at runtime); the wrapped cause is kept for
// diagnostics.
package vaulterr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure so callers can decide disposition
// without string-matching error text.
type Kind int

const (
	// Config is a missing or malformed configuration value. Fatal at startup.
	Config Kind = iota
	// Transport is an HTTP-layer failure: timeout, DNS, TLS. Non-fatal per call.
	Transport
	// Http is a non-2xx response. Carries the status code for diagnostics.
	Http
	// Api is a 2xx response whose body carries a top-level "errors" field.
	Api
	// Parse is malformed JSON or a missing expected field.
	Parse
	// Auth is the sole fatal runtime error: renewal and re-login both failed.
	Auth
	// Unavailable is returned by a get_X call when no cache is populated and
	// the refresh that would have populated it also failed.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Transport:
		return "transport"
	case Http:
		return "http"
	case Api:
		return "api"
	case Parse:
		return "parse"
	case Auth:
		return "auth"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and the operation that
// produced it, so log lines and errors.Is checks both stay useful.
type Error struct {
	Kind   Kind
	Op     string // e.g. "login", "kv_read", "renew-self"
	Status int    // HTTP status, 0 if not applicable
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("vault: %s: %s (status %d): %v", e.Kind, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("vault: %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for the given kind/operation/cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithStatus attaches an HTTP status code to a new Error.
func WithStatus(kind Kind, op string, status int, err error) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Err: err}
}

// KindOf reports the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
