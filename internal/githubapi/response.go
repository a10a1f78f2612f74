// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"net/http"
	"time"
)

// Response is the typed result of one pipeline fetch. Non-2xx statuses are
// responses, not Go errors: Succeeded() is false and Err carries the decoded
// upstream error.
type Response[T any] struct {
	Status int
	Result T

	// Err is the decoded upstream error for non-success statuses.
	Err error

	// RateLimit is the quota snapshot after this response (for paged fetches,
	// the pessimistic union across all pages).
	RateLimit RateLimitSnapshot

	// CacheMeta is the conditional-request metadata extracted from the
	// response headers, nil when the response carried none or the result is
	// partial.
	CacheMeta *CacheMetadata

	// Links holds pagination URLs from the Link header.
	Links PageLinks

	// Scopes are the granted OAuth scopes reported by the response.
	Scopes []string

	// RetryAfter is the absolute retry timestamp, when the upstream sent one.
	RetryAfter time.Time

	// Redirects is the chain of Location targets followed to produce this
	// response, for diagnostics.
	Redirects []string

	// Partial marks a paginated result truncated by a page cap or page
	// failure. Partial results never carry cache metadata.
	Partial bool

	// Request is the originating request (post-redirect).
	Request *Request
}

// Succeeded reports whether the response is usable: 2xx or 304 Not Modified.
func (r *Response[T]) Succeeded() bool {
	return r.Status == http.StatusNotModified || (r.Status >= 200 && r.Status < 300)
}

// NotModified reports a 304 response to a conditional request.
func (r *Response[T]) NotModified() bool {
	return r.Status == http.StatusNotModified
}

// newCacheMetadata builds cache metadata from response headers, or nil when
// the response carries no cacheable validators.
func newCacheMetadata(cred Credential, key string, header http.Header, now time.Time) *CacheMetadata {
	etag := header.Get("ETag")
	lastModified := header.Get("Last-Modified")
	expiry := parseExpiry(header, now)
	poll, _ := parsePollInterval(header)

	if etag == "" && lastModified == "" && expiry.IsZero() {
		return nil
	}
	return &CacheMetadata{
		Credential:   cred.Key(),
		Key:          key,
		ETag:         etag,
		LastModified: lastModified,
		Expires:      expiry,
		LastRefresh:  now,
		PollInterval: poll,
	}
}
