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

// Package vaultapi is the typed binding described in spec §4.1: five
// operations (login, renew-self, kv_read, dyn_read, static_read, plus
// lease_lookup) over an abstract Executor that performs one HTTP request
// and returns a status and a body. The transport itself is treated as an
// external collaborator so this package can be driven entirely by
// httptest.Server stubs in tests.
package vaultapi

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Executor performs one HTTP request and returns the response status and
// body bytes. Implementations must not mutate shared state concurrently;
// the caller serializes its own method/URL/header/body setup before Do.
type Executor interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (status int, respBody []byte, err error)
}

// RetryableExecutor is the default Executor, backed by
// github.com/hashicorp/go-retryablehttp. TLS verification is disabled and
// redirects are followed, per spec §6; every request carries the configured
// timeout and is capped at maxResponseBytes.
type RetryableExecutor struct {
	client           *retryablehttp.Client
	maxResponseBytes int64
}

// NewRetryableExecutor builds an Executor with the given per-request
// timeout and maximum response size. maxResponseBytes <= 0 disables the
// cap. This mirrors the transport the teacher builds per-host in
// cisco/c220/exporter.go: a dedicated *http.Transport with TLS verification
// disabled, wrapped by a retryablehttp.Client with a bounded retry policy.
func NewRetryableExecutor(timeout time.Duration, maxResponseBytes int64) *RetryableExecutor {
	tr := &http.Transport{
		Dial: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).Dial,
		MaxIdleConns:          4,
		MaxConnsPerHost:       4,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
		TLSHandshakeTimeout: 10 * time.Second,
	}

	rc := retryablehttp.NewClient()
	rc.CheckRetry = retryablehttp.ErrorPropagatedRetryPolicy
	rc.HTTPClient.Transport = tr
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.RetryMax = 2
	rc.RequestLogHook = func(l retryablehttp.Logger, r *http.Request, attempt int) {
		if attempt > 0 {
			zap.L().Warn("retrying vault request",
				zap.String("url", r.URL.String()),
				zap.Int("attempt", attempt),
			)
		}
	}

	return &RetryableExecutor{client: rc, maxResponseBytes: maxResponseBytes}
}

func (e *RetryableExecutor) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, []byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer emptyAndCloseBody(resp)

	reader := io.Reader(resp.Body)
	if e.maxResponseBytes > 0 {
		reader = io.LimitReader(resp.Body, e.maxResponseBytes)
	}

	respBody, err := io.ReadAll(reader)
	if err != nil {
		return resp.StatusCode, nil, err
	}

	return resp.StatusCode, respBody, nil
}

// emptyAndCloseBody drains and closes the response body so keep-alive
// connections are reused, same cleanup the teacher performs in
// common/util.go's EmptyAndCloseBody.
func emptyAndCloseBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}
