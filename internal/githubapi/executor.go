// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/hubcast/hubcast/internal/metrics"
)

// maxRedirects bounds a redirect chain; upstream chains are short in practice
// and an unbounded loop must not hang a sync pass.
const maxRedirects = 10

// rawAccept is the accept header used when the caller expects raw bytes.
const rawAccept = "application/vnd.github.v3.raw"

// Fetch issues one upstream API request and returns the typed response.
//
// Behavior:
//   - fails fast with *RateLimitError before any network I/O when the
//     credential's known remaining quota is below the configured floor
//   - retries 502/503/504 up to the configured count with linear backoff
//   - follows 301/308 with the same method and 302/303 with GET, recording
//     the redirect chain; rate-limit and retry logic apply per hop
//   - parses rate-limit, cache, scope, pagination and Retry-After headers
//
// Go errors are reserved for transport failures, context cancellation and the
// rate-limit fast-fail; HTTP error statuses come back as responses with
// Succeeded() == false and Err set.
func Fetch[T any](ctx context.Context, c *Client, cred Credential, req *Request) (*Response[T], error) {
	return fetch[T](ctx, c, cred, req, nil)
}

func fetch[T any](ctx context.Context, c *Client, cred Credential, req *Request, redirects []string) (*Response[T], error) {
	if len(redirects) > maxRedirects {
		return nil, fmt.Errorf("redirect chain exceeded %d hops: %v", maxRedirects, redirects)
	}

	limit := c.limits.For(cred)
	if snap := limit.Snapshot(); snap.Known() && snap.Remaining < c.cfg.RateLimitFloor {
		metrics.RateLimitFastFailsTotal.Inc()
		return nil, &RateLimitError{Remaining: snap.Remaining, Reset: snap.Reset}
	}

	for _, p := range c.preparers {
		p.PrepareRequest(ctx, cred, req)
	}

	targetURL := req.URL(c.cfg.BaseURL)

	for attempt := 1; ; attempt++ {
		httpReq, err := c.buildHTTPRequest(ctx, cred, req, targetURL, isByteResult[T]())
		if err != nil {
			return nil, err
		}

		start := time.Now()
		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("upstream request %s %s: %w", req.Method, targetURL, err)
		}
		metrics.ObserveFetch(req.Method, httpResp.StatusCode, time.Since(start).Seconds())

		if isTransient(httpResp.StatusCode) && attempt <= c.cfg.MaxRetries {
			drainBody(httpResp)
			metrics.FetchRetriesTotal.Inc()
			if err := sleepCtx(ctx, c.cfg.RetryBaseDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if location, downgrade := redirectTarget(httpResp); location != "" {
			drainBody(httpResp)
			metrics.FetchRedirectsTotal.Inc()

			next := req.Clone()
			next.Path = resolveLocation(httpReq.URL, location)
			next.Query = url.Values{}
			if downgrade {
				next.Method = http.MethodGet
				next.Body = nil
			}
			return fetch[T](ctx, c, cred, next, append(redirects, next.Path))
		}

		return finish[T](ctx, c, cred, req, httpResp, targetURL, redirects)
	}
}

// finish parses headers, notifies observers and decodes the body.
func finish[T any](ctx context.Context, c *Client, cred Credential, req *Request, httpResp *http.Response, targetURL string, redirects []string) (*Response[T], error) {
	defer drainBody(httpResp)
	now := time.Now()

	limit := c.limits.For(cred)
	limit.Update(httpResp.Header)

	resp := &Response[T]{
		Status:     httpResp.StatusCode,
		RateLimit:  limit.Snapshot(),
		Links:      parseLinkHeader(httpResp.Header.Get("Link")),
		Scopes:     parseScopes(httpResp.Header.Get("X-OAuth-Scopes")),
		RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After"), now),
		Redirects:  redirects,
		Request:    req,
	}
	if req.Method == http.MethodGet {
		resp.CacheMeta = newCacheMetadata(cred, targetURL, httpResp.Header, now)
	}
	if resp.NotModified() {
		metrics.CacheConditionalHits.Inc()
	}

	meta := ResponseMeta{
		Status:      resp.Status,
		Header:      httpResp.Header,
		CacheMeta:   resp.CacheMeta,
		Conditioned: req.Conditioned(),
	}
	for _, o := range c.observers {
		o.ObserveResponse(ctx, cred, req, meta)
	}

	if resp.NotModified() {
		return resp, nil
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	contentType := httpResp.Header.Get("Content-Type")

	if resp.Status >= 200 && resp.Status < 300 {
		if err := decodeSuccess(resp, contentType, body); err != nil {
			resp.Err = err
		}
		return resp, nil
	}

	resp.Err = decodeError(resp.Status, contentType, body)
	return resp, nil
}

// decodeSuccess fills in the typed result for a 2xx response: raw bytes for
// byte-sequence results, true for 204 on boolean endpoints (existence-check
// idiom), JSON otherwise.
func decodeSuccess[T any](resp *Response[T], contentType string, body []byte) error {
	if raw, ok := any(&resp.Result).(*[]byte); ok {
		*raw = body
		return nil
	}
	if resp.Status == http.StatusNoContent {
		if b, ok := any(&resp.Result).(*bool); ok {
			*b = true
		}
		return nil
	}
	if len(body) == 0 {
		return nil
	}
	if !isJSONContent(contentType) {
		return &ProtocolError{Status: resp.Status, ContentType: contentType, Body: body}
	}
	if err := json.Unmarshal(body, &resp.Result); err != nil {
		return &ProtocolError{Status: resp.Status, ContentType: contentType, Body: body}
	}
	return nil
}

// decodeError decodes a structured upstream error, falling back to a generic
// protocol error carrying the raw body when the content type is unrecognized.
func decodeError(status int, contentType string, body []byte) error {
	if isJSONContent(contentType) {
		apiErr := &APIError{Status: status}
		if err := json.Unmarshal(body, apiErr); err == nil {
			return apiErr
		}
	}
	return &ProtocolError{Status: status, ContentType: contentType, Body: body}
}

func isJSONContent(contentType string) bool {
	return strings.Contains(contentType, "json")
}

// isByteResult reports whether the expected result type is a byte sequence.
func isByteResult[T any]() bool {
	var zero T
	_, ok := any(zero).([]byte)
	return ok
}

// drainBody discards and closes a response body so the connection can be
// reused.
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

// sleepCtx waits for the backoff delay or context cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isTransient reports whether the status is a retryable upstream failure.
func isTransient(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// redirectTarget returns the Location of a redirect response and whether the
// method must be downgraded to GET. Empty location means no redirect.
func redirectTarget(resp *http.Response) (location string, downgrade bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusPermanentRedirect:
		return resp.Header.Get("Location"), false
	case http.StatusFound, http.StatusSeeOther:
		return resp.Header.Get("Location"), true
	}
	return "", false
}

// resolveLocation resolves a possibly-relative Location header against the
// request URL.
func resolveLocation(base *url.URL, location string) string {
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}

func (c *Client) buildHTTPRequest(ctx context.Context, cred Credential, req *Request, targetURL string, rawResult bool) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, targetURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	accept := req.Accept
	if accept == "" {
		accept = c.cfg.Accept
		if rawResult {
			accept = rawAccept
		}
	}
	httpReq.Header.Set("Accept", accept)
	if cred.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.LastModified)
	}
	return httpReq, nil
}

