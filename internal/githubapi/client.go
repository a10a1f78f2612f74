// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package githubapi implements the resilient upstream API fetch pipeline:
// a request executor with rate-limit fast-fail, bounded retry and redirect
// following; a pagination coordinator with interpolated parallel fetch; and a
// filter chain for conditional-request caching and credential revocation.
package githubapi

import (
	"context"
	"net/http"
	"time"

	"github.com/hubcast/hubcast/internal/config"
)

// RequestPreparer mutates an outgoing request before it is sent. Preparers
// run on every hop, including redirected calls.
type RequestPreparer interface {
	PrepareRequest(ctx context.Context, cred Credential, req *Request)
}

// ResponseMeta is the type-agnostic view of a response handed to observers.
type ResponseMeta struct {
	Status      int
	Header      http.Header
	CacheMeta   *CacheMetadata
	Conditioned bool
}

// ResponseObserver inspects every response after header parsing. Observers
// must not block; slow work belongs on a goroutine.
type ResponseObserver interface {
	ObserveResponse(ctx context.Context, cred Credential, req *Request, meta ResponseMeta)
}

// Client is the entry point of the fetch pipeline. It is safe for concurrent
// use; per-credential rate limit state lives in the shared registry.
type Client struct {
	cfg       config.GitHubConfig
	http      *http.Client
	limits    *RateLimits
	preparers []RequestPreparer
	observers []ResponseObserver
}

// NewClient creates a pipeline client. Redirects are handled by the executor
// itself, so the underlying HTTP client never follows them.
func NewClient(cfg config.GitHubConfig, limits *RateLimits) *Client {
	if limits == nil {
		limits = NewRateLimits()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		limits: limits,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Use appends a request preparer to the chain. Preparers run in registration
// order before each request hop.
func (c *Client) Use(p RequestPreparer) {
	c.preparers = append(c.preparers, p)
}

// Observe appends a response observer. Observers run in registration order
// after each response's headers are parsed.
func (c *Client) Observe(o ResponseObserver) {
	c.observers = append(c.observers, o)
}

// RateLimits exposes the per-credential quota registry.
func (c *Client) RateLimits() *RateLimits {
	return c.limits
}

// SetHTTPClient replaces the transport, for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.http = hc
}
